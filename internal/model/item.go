package model

import "time"

// ItemStatus はアイテムの状態を表す。
// 見積もりのストーリーは not_started → voting → revealed → finalized と遷移する。
// ふりかえりのノートは常に open。
type ItemStatus string

const (
	ItemNotStarted ItemStatus = "not_started"
	ItemVoting     ItemStatus = "voting"
	ItemRevealed   ItemStatus = "revealed"
	ItemFinalized  ItemStatus = "finalized"
	ItemOpen       ItemStatus = "open"
)

// Vote は参加者1人分の投票を表す。
// 見積もりではValueに選択値、ふりかえりではCountに投票回数を持つ。
type Vote struct {
	ParticipantID string `json:"participantId"`
	Value         string `json:"value,omitempty"`
	Count         int    `json:"count,omitempty"`
}

// Item は見積もりのストーリー、またはふりかえりのノートを表す。
// Votesは最初に投票された順序を保持し、参加者IDは重複しない。
type Item struct {
	ID          string
	SessionID   string
	Title       string
	Description string
	Category    string // ふりかえりのみ
	AuthorID    string
	Status      ItemStatus
	Votes       []Vote
	FinalValue  string // 見積もりの確定値
	Seq         int64
	CreatedAt   time.Time
}

// VoteOf は指定参加者の投票を返す。投票がない場合はnilを返す。
func (i *Item) VoteOf(participantID string) *Vote {
	for idx := range i.Votes {
		if i.Votes[idx].ParticipantID == participantID {
			return &i.Votes[idx]
		}
	}
	return nil
}

// VoteCount は投票の合計数を返す。
// ふりかえりではCountの合計、見積もりでは投票者数になる。
func (i *Item) VoteCount() int {
	total := 0
	for _, v := range i.Votes {
		if v.Count > 0 {
			total += v.Count
		} else {
			total++
		}
	}
	return total
}
