// Package session はセッションのコマンド処理を純粋関数として提供する。
//
// Apply は (現在の状態, コマンド) から (新しい状態, 送信イベント) を計算する。
// 入力の状態は変更せず、失敗時は状態を一切変更しない。
// 永続化と配信は coordinator が担当する。
package session

import (
	"sort"
	"time"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
)

// State はセッション1件分の集約。
// ParticipantsとItemsはSeqの昇順で保持する。
type State struct {
	Session      *model.Session
	Participants []*model.Participant
	Items        []*model.Item
}

// Clone は状態のディープコピーを返す。
func (s *State) Clone() *State {
	out := &State{}
	if s.Session != nil {
		sess := *s.Session
		sess.Categories = cloneSlice(s.Session.Categories)
		if s.Session.TimerEndsAt != nil {
			t := *s.Session.TimerEndsAt
			sess.TimerEndsAt = &t
		}
		out.Session = &sess
	}
	if s.Participants != nil {
		out.Participants = make([]*model.Participant, len(s.Participants))
		for i, p := range s.Participants {
			cp := *p
			out.Participants[i] = &cp
		}
	}
	if s.Items != nil {
		out.Items = make([]*model.Item, len(s.Items))
		for i, it := range s.Items {
			cp := *it
			cp.Votes = cloneSlice(it.Votes)
			out.Items[i] = &cp
		}
	}
	return out
}

// cloneSlice はnilと空スライスを区別したままコピーする。
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Normalize は参加者とアイテムを作成順に並べ替える。
// ストアから読み込んだ状態の並び順に依存しないようにするため、読み込み直後に呼ぶ。
func (s *State) Normalize() {
	sort.SliceStable(s.Participants, func(i, j int) bool {
		return s.Participants[i].Seq < s.Participants[j].Seq
	})
	sort.SliceStable(s.Items, func(i, j int) bool {
		return s.Items[i].Seq < s.Items[j].Seq
	})
}

// Participant は指定IDの参加者を返す。見つからない場合はnilを返す。
func (s *State) Participant(id string) *model.Participant {
	for _, p := range s.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Item は指定IDのアイテムを返す。見つからない場合はnilを返す。
func (s *State) Item(id string) *model.Item {
	for _, it := range s.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (s *State) nextSeq() int64 {
	s.Session.NextSeq++
	return s.Session.NextSeq
}

// Defaults はセッション作成時とラウンド終了時に使用する設定値。
type Defaults struct {
	VotesPerRound int
	Categories    []string
}

// Env はコマンド処理に必要な外部入力。
// 時刻とID採番を注入し、Applyを決定的にする。
type Env struct {
	Now      func() time.Time
	NewID    func() string
	Defaults Defaults
}

// Audience はイベントの送信先。
type Audience int

const (
	// ToCaller はコマンド送信元の接続のみ。
	ToCaller Audience = iota
	// ToRoom はルーム内の全接続（送信元を含む）。
	ToRoom
	// ToParticipant は指定参加者に紐付く全接続。
	ToParticipant
)

// Event はコマンド処理の結果として送信するイベント。
// スナップショットは永続化後に読み戻した状態から coordinator が付与する。
type Event struct {
	Type          protocol.EventType
	Audience      Audience
	ParticipantID string
}

// Result はコマンド処理の結果。
type Result struct {
	// State は処理後の状態。Destroyedの場合はnil。
	State *State
	// Events は送信するイベントを送信順に並べたもの。
	Events []Event
	// ActorID は送信元の接続に紐付ける参加者ID（createSession / join / rejoin）。
	ActorID string
	// Mutated は状態が変更されたかどうか。rejoinではfalse。
	Mutated bool
	// Destroyed は最後の参加者が退出してセッションが削除されたかどうか。
	Destroyed bool
}
