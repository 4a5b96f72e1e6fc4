package model

import "time"

// Snapshot はセッションの正規スナップショット（全量の読み取りモデル）。
// 変更のたびにストアから読み戻した状態から生成し、ルーム全体へ配信する。
type Snapshot struct {
	SessionID     string            `json:"sessionId"`
	Name          string            `json:"name"`
	Kind          SessionKind       `json:"kind"`
	Phase         Phase             `json:"phase"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"createdAt"`
	VotingSystem  VotingSystem      `json:"votingSystem,omitempty"`
	Values        []string          `json:"values,omitempty"`
	Categories    []string          `json:"categories,omitempty"`
	CurrentItemID string            `json:"currentItemId,omitempty"`
	VotesPerRound int               `json:"votesPerRound,omitempty"`
	TimerEndsAt   *time.Time        `json:"timerEndsAt,omitempty"`
	HostID        string            `json:"hostId"`
	Participants  []ParticipantView `json:"participants"`
	Items         []ItemView        `json:"items"`
}

// ParticipantView はスナップショット内の参加者表現。
type ParticipantView struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	IsHost       bool   `json:"isHost"`
	JoinedSeq    int64  `json:"joinedSeq"`
	VotingBudget *int   `json:"votingBudget,omitempty"`
	HasVoted     bool   `json:"hasVoted"`
}

// ItemView はスナップショット内のアイテム表現。
// 投票中は投票値（ふりかえりでは投票数）を伏せる。
type ItemView struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	AuthorID    string       `json:"authorId"`
	AuthorName  string       `json:"authorName,omitempty"`
	Status      ItemStatus   `json:"status"`
	Votes       []Vote       `json:"votes"`
	VoteCount   *int         `json:"voteCount,omitempty"`
	FinalValue  string       `json:"finalValue,omitempty"`
	Summary     *VoteSummary `json:"summary,omitempty"`
}

// VoteSummary は見積もりの公開済み投票の集計。
// Averageは数値として解釈できる投票の平均（小数第1位で丸め）。数値票がない場合はnil。
// MostFrequentは最多得票の値で、同数の場合は先に投票された値を優先する。
type VoteSummary struct {
	Average      *float64 `json:"average"`
	MostFrequent string   `json:"mostFrequent"`
	VoteCount    int      `json:"voteCount"`
}

// Host はスナップショットからホストの参加者を返す。見つからない場合はnilを返す。
func (s *Snapshot) Host() *ParticipantView {
	for i := range s.Participants {
		if s.Participants[i].IsHost {
			return &s.Participants[i]
		}
	}
	return nil
}

// Participant は指定IDの参加者を返す。見つからない場合はnilを返す。
func (s *Snapshot) Participant(id string) *ParticipantView {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// Item は指定IDのアイテムを返す。見つからない場合はnilを返す。
func (s *Snapshot) Item(id string) *ItemView {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i]
		}
	}
	return nil
}
