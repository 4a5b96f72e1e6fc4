package session

import (
	"math"
	"strconv"

	"github.com/hitoshi/huddle/internal/model"
)

// BuildSnapshot は状態から正規スナップショットを生成する。
// 投票中のストーリーの投票値と、投票中のふりかえりの投票数は伏せる。
func BuildSnapshot(state *State) *model.Snapshot {
	sess := state.Session
	snap := &model.Snapshot{
		SessionID:     sess.ID,
		Name:          sess.Name,
		Kind:          sess.Kind,
		Phase:         sess.Phase,
		Version:       sess.Version,
		CreatedAt:     sess.CreatedAt,
		CurrentItemID: sess.CurrentItemID,
		TimerEndsAt:   sess.TimerEndsAt,
		Participants:  make([]model.ParticipantView, 0, len(state.Participants)),
		Items:         make([]model.ItemView, 0, len(state.Items)),
	}

	switch sess.Kind {
	case model.KindEstimation:
		snap.VotingSystem = sess.VotingSystem
		snap.Values = sess.VotingSystem.Values()
	case model.KindRetrospective:
		snap.Categories = append([]string(nil), sess.Categories...)
		snap.VotesPerRound = sess.VotesPerRound
	}

	names := make(map[string]string, len(state.Participants))
	current := state.Item(sess.CurrentItemID)
	for _, p := range state.Participants {
		names[p.ID] = p.DisplayName
		view := model.ParticipantView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			IsHost:      p.IsHost,
			JoinedSeq:   p.Seq,
		}
		switch sess.Kind {
		case model.KindEstimation:
			view.HasVoted = current != nil && current.Status != model.ItemFinalized && current.VoteOf(p.ID) != nil
		case model.KindRetrospective:
			budget := p.VotingBudget
			view.VotingBudget = &budget
			view.HasVoted = p.VotingBudget < sess.VotesPerRound
		}
		if p.IsHost {
			snap.HostID = p.ID
		}
		snap.Participants = append(snap.Participants, view)
	}

	for _, it := range state.Items {
		view := model.ItemView{
			ID:          it.ID,
			Title:       it.Title,
			Description: it.Description,
			Category:    it.Category,
			AuthorID:    it.AuthorID,
			AuthorName:  names[it.AuthorID],
			Status:      it.Status,
			Votes:       []model.Vote{},
			FinalValue:  it.FinalValue,
		}

		switch sess.Kind {
		case model.KindEstimation:
			for _, v := range it.Votes {
				if it.Status == model.ItemVoting {
					v.Value = ""
				}
				view.Votes = append(view.Votes, v)
			}
			if it.Status == model.ItemRevealed || it.Status == model.ItemFinalized {
				view.Summary = Summarize(it.Votes)
			}
		case model.KindRetrospective:
			if sess.Phase != model.PhaseVoting {
				count := it.VoteCount()
				view.VoteCount = &count
			}
		}
		snap.Items = append(snap.Items, view)
	}

	return snap
}

// Summarize は見積もりの投票を集計する。
// 平均は数値として解釈できる票のみの算術平均を小数第1位で丸める。
// 最頻値は出現回数が最大の値で、同数の場合は先に投票された値を選ぶ。
func Summarize(votes []model.Vote) *model.VoteSummary {
	summary := &model.VoteSummary{VoteCount: len(votes)}
	if len(votes) == 0 {
		return summary
	}

	var sum float64
	numeric := 0
	counts := make(map[string]int, len(votes))
	order := make([]string, 0, len(votes))
	for _, v := range votes {
		if n, err := strconv.ParseFloat(v.Value, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
			sum += n
			numeric++
		}
		if _, seen := counts[v.Value]; !seen {
			order = append(order, v.Value)
		}
		counts[v.Value]++
	}

	if numeric > 0 {
		avg := math.Round(sum/float64(numeric)*10) / 10
		summary.Average = &avg
	}

	best := 0
	for _, value := range order {
		if counts[value] > best {
			best = counts[value]
			summary.MostFrequent = value
		}
	}
	return summary
}
