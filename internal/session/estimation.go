package session

import (
	"strings"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
)

// startVoting はフェーズをvotingにする。
// 見積もりでは対象ストーリーを現在のストーリーにし、公開済みの回は投票をやり直す。
// ふりかえりではセッション全体に適用する。
func (a *applier) startVoting(c protocol.StartVoting) error {
	if err := a.requireHost(); err != nil {
		return err
	}
	if a.session().Kind == model.KindRetrospective {
		return a.startRetroVoting()
	}

	sess := a.session()
	if sess.Phase == model.PhaseVoting {
		return a.phaseError()
	}

	itemID := c.ItemID
	if itemID == "" {
		itemID = sess.CurrentItemID
	}
	if itemID == "" {
		return model.NewInvalidPayloadError("itemId is required")
	}
	it := a.state.Item(itemID)
	if it == nil {
		return model.NewItemNotFoundError(itemID)
	}
	if it.Status == model.ItemFinalized {
		return model.NewItemFinalizedError(it.ID)
	}

	// 公開済みのまま別のストーリーへ移る場合、前のストーリーは未着手に戻す
	if prev := a.state.Item(sess.CurrentItemID); prev != nil && prev.ID != it.ID && prev.Status != model.ItemFinalized {
		prev.Status = model.ItemNotStarted
		prev.Votes = nil
	}

	it.Status = model.ItemVoting
	it.Votes = nil
	sess.CurrentItemID = it.ID
	sess.Phase = model.PhaseVoting
	return nil
}

// submitVote は投票を記録する。同じ参加者の再投票は値のみ置き換え、投票順は維持する。
func (a *applier) submitVote(c protocol.SubmitVote) error {
	it := a.state.Item(c.ItemID)
	if it == nil {
		return model.NewItemNotFoundError(c.ItemID)
	}
	if a.session().Kind == model.KindRetrospective {
		return a.submitRetroVote(it)
	}

	sess := a.session()
	if sess.Phase != model.PhaseVoting || sess.CurrentItemID != it.ID || it.Status != model.ItemVoting {
		return a.phaseError()
	}
	if !sess.VotingSystem.Contains(c.Value) {
		return model.NewInvalidVoteValueError(c.Value)
	}

	if v := it.VoteOf(a.actor.ID); v != nil {
		v.Value = c.Value
		return nil
	}
	it.Votes = append(it.Votes, model.Vote{ParticipantID: a.actor.ID, Value: c.Value})
	return nil
}

// revealVotes は投票を公開する。
func (a *applier) revealVotes() error {
	if err := a.requireHost(); err != nil {
		return err
	}
	sess := a.session()
	if sess.Phase != model.PhaseVoting {
		return a.phaseError()
	}
	if sess.Kind == model.KindEstimation {
		if it := a.state.Item(sess.CurrentItemID); it != nil {
			it.Status = model.ItemRevealed
		}
	}
	sess.Phase = model.PhaseRevealed
	return nil
}

// acceptEstimate は公開済みストーリーの見積もりを確定し、次の未着手ストーリーへ進む。
func (a *applier) acceptEstimate(c protocol.AcceptEstimate) error {
	if err := a.requireKind(model.KindEstimation); err != nil {
		return err
	}
	if err := a.requireHost(); err != nil {
		return err
	}

	sess := a.session()
	it := a.state.Item(c.ItemID)
	if it == nil {
		return model.NewItemNotFoundError(c.ItemID)
	}
	if it.Status == model.ItemFinalized {
		return model.NewItemFinalizedError(it.ID)
	}
	if sess.Phase != model.PhaseRevealed || sess.CurrentItemID != it.ID || it.Status != model.ItemRevealed {
		return a.phaseError()
	}
	if !sess.VotingSystem.Contains(c.FinalValue) {
		return model.NewInvalidVoteValueError(c.FinalValue)
	}

	it.FinalValue = c.FinalValue
	it.Status = model.ItemFinalized

	sess.CurrentItemID = ""
	if next := a.nextNotStarted(); next != nil {
		sess.CurrentItemID = next.ID
	}
	sess.Phase = model.PhaseIdle
	return nil
}

// nextNotStarted はSeqが最小の未着手ストーリーを返す。
func (a *applier) nextNotStarted() *model.Item {
	var next *model.Item
	for _, it := range a.state.Items {
		if it.Status != model.ItemNotStarted {
			continue
		}
		if next == nil || it.Seq < next.Seq {
			next = it
		}
	}
	return next
}

// importItems は外部の課題管理ツールから取り込んだストーリーを追加する。
// 完了済み（status が done）の課題は見積もり対象外のため取り込まない。
func (a *applier) importItems(c protocol.ImportItems) error {
	if err := a.requireKind(model.KindEstimation); err != nil {
		return err
	}
	if err := a.requireHost(); err != nil {
		return err
	}

	for _, in := range c.Items {
		if strings.EqualFold(in.Status, "done") {
			continue
		}
		a.state.Items = append(a.state.Items, &model.Item{
			ID:          a.env.NewID(),
			SessionID:   a.session().ID,
			Title:       in.Title,
			Description: in.Description,
			AuthorID:    a.actor.ID,
			Status:      model.ItemNotStarted,
			Seq:         a.state.nextSeq(),
			CreatedAt:   a.now,
		})
	}
	return nil
}
