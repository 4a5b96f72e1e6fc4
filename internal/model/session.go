// Package model はドメインモデルを定義する。
package model

import "time"

// SessionKind はセッションの種別を表す。
type SessionKind string

const (
	// KindEstimation はプランニングポーカー（見積もり）セッション。
	KindEstimation SessionKind = "estimation"
	// KindRetrospective はふりかえりボードセッション。
	KindRetrospective SessionKind = "retrospective"
)

// Valid は種別が定義済みの値かどうかを返す。
func (k SessionKind) Valid() bool {
	return k == KindEstimation || k == KindRetrospective
}

// Phase はセッション単位のフェーズ（状態機械の現在値）を表す。
//
// 見積もり: idle → voting → revealed → idle（acceptEstimateで次のストーリーへ）
// ふりかえり: collecting → voting → revealed → idle（finishRoundで次のラウンドへ）
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCollecting Phase = "collecting"
	PhaseVoting     Phase = "voting"
	PhaseRevealed   Phase = "revealed"
)

// Session は1回分の見積もり、またはふりかえりのセッションを表す。
// 参加者とアイテムはsessionIDで参照するのみで、Sessionからは保持しない。
type Session struct {
	ID            string
	Name          string
	Kind          SessionKind
	Phase         Phase
	VotingSystem  VotingSystem // 見積もりのみ
	Categories    []string     // ふりかえりのみ。常に1件以上
	CurrentItemID string       // 見積もりで現在対象のストーリー
	VotesPerRound int          // ふりかえりの1ラウンドあたりの投票数
	TimerEndsAt   *time.Time
	Version       int64 // 変更ごとに1ずつ増加する
	NextSeq       int64 // 参加者・アイテムの作成順採番用カウンタ
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasCategory は指定カテゴリがセッションに存在するかを返す。
func (s *Session) HasCategory(name string) bool {
	for _, c := range s.Categories {
		if c == name {
			return true
		}
	}
	return false
}

// Participant はセッションの参加者を表す。
// Seqはセッション内の作成順で、ホスト移譲の選出に使用する。
type Participant struct {
	ID           string
	SessionID    string
	DisplayName  string
	IsHost       bool
	VotingBudget int // ふりかえりのみ。このラウンドの残り投票数
	Seq          int64
	JoinedAt     time.Time
}
