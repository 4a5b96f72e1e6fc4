package session

import (
	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
)

func (a *applier) startRetroVoting() error {
	sess := a.session()
	if sess.Phase != model.PhaseCollecting && sess.Phase != model.PhaseIdle {
		return a.phaseError()
	}
	sess.Phase = model.PhaseVoting
	return nil
}

// submitRetroVote はノートへの投票を1票加算し、残り投票数を1減らす。
func (a *applier) submitRetroVote(it *model.Item) error {
	if a.session().Phase != model.PhaseVoting {
		return a.phaseError()
	}
	if a.actor.VotingBudget <= 0 {
		return model.NewVoteBudgetExhaustedError()
	}

	if v := it.VoteOf(a.actor.ID); v != nil {
		v.Count++
	} else {
		it.Votes = append(it.Votes, model.Vote{ParticipantID: a.actor.ID, Count: 1})
	}
	a.actor.VotingBudget--
	return nil
}

// finishRound はどのフェーズからでもidleに戻し、全員の残り投票数を初期値に戻す。
// ノートへの投票数は保持する。
func (a *applier) finishRound() error {
	if err := a.requireKind(model.KindRetrospective); err != nil {
		return err
	}
	if err := a.requireHost(); err != nil {
		return err
	}

	a.session().Phase = model.PhaseIdle
	for _, p := range a.state.Participants {
		p.VotingBudget = a.session().VotesPerRound
	}
	return nil
}

func (a *applier) addCategory(c protocol.AddCategory) error {
	if err := a.requireKind(model.KindRetrospective); err != nil {
		return err
	}
	if err := a.requireHost(); err != nil {
		return err
	}
	if a.session().HasCategory(c.Name) {
		return model.NewDuplicateCategoryError(c.Name)
	}
	a.session().Categories = append(a.session().Categories, c.Name)
	return nil
}

// removeCategory はカテゴリを削除し、そのカテゴリのノートも削除する。
// 最後の1件は削除できない。
func (a *applier) removeCategory(c protocol.RemoveCategory) error {
	if err := a.requireKind(model.KindRetrospective); err != nil {
		return err
	}
	if err := a.requireHost(); err != nil {
		return err
	}

	sess := a.session()
	if !sess.HasCategory(c.Name) {
		return model.NewUnknownCategoryError(c.Name)
	}

	categories := make([]string, 0, len(sess.Categories))
	for _, name := range sess.Categories {
		if name != c.Name {
			categories = append(categories, name)
		}
	}
	if len(categories) == 0 {
		return model.NewLastCategoryError()
	}
	sess.Categories = categories

	items := make([]*model.Item, 0, len(a.state.Items))
	for _, it := range a.state.Items {
		if it.Category != c.Name {
			items = append(items, it)
		}
	}
	a.state.Items = items
	return nil
}
