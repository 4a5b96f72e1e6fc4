package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/huddle/internal/model"
)

// MemoryStore はプロセス内メモリに保持するセッションストア。
// 再起動で内容は失われる。保存・取得時は値をコピーし、呼び出し側と状態を共有しない。
// 同一セッションへの書き込みは呼び出し側（セッションごとの直列実行）が順序付ける。
type MemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]model.Session
	participants map[string]model.Participant
	items        map[string]model.Item
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]model.Session),
		participants: make(map[string]model.Participant),
		items:        make(map[string]model.Item),
	}
}

// Repos はリポジトリの組を返す。
func (s *MemoryStore) Repos() Repositories {
	return s.repos(nil)
}

func (s *MemoryStore) repos(u *undoLog) Repositories {
	return Repositories{
		Sessions:     memorySessions{s: s, undo: u},
		Participants: memoryParticipants{s: s, undo: u},
		Items:        memoryItems{s: s, undo: u},
	}
}

// WithinTx はfnを実行し、エラーの場合はfnが書き込んだキーだけをfn実行前の値に戻す。
// 他のセッションへの書き込みやトランザクション外の書き込みには影響しない。
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(r Repositories) error) error {
	u := newUndoLog()
	if err := fn(s.repos(u)); err != nil {
		s.rollback(u)
		return err
	}
	return nil
}

// Ping は常に成功する。
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// undoLog はトランザクション内で最初に書き換えたキーの元の値を記録する。
// nilの値は書き込み前に存在しなかったことを表す。
type undoLog struct {
	sessions     map[string]*model.Session
	participants map[string]*model.Participant
	items        map[string]*model.Item
}

func newUndoLog() *undoLog {
	return &undoLog{
		sessions:     make(map[string]*model.Session),
		participants: make(map[string]*model.Participant),
		items:        make(map[string]*model.Item),
	}
}

// 以下の record 系はs.muを書き込みロックした状態で呼ぶ

func (u *undoLog) recordSession(s *MemoryStore, id string) {
	if u == nil {
		return
	}
	if _, done := u.sessions[id]; done {
		return
	}
	if v, ok := s.sessions[id]; ok {
		u.sessions[id] = &v
	} else {
		u.sessions[id] = nil
	}
}

func (u *undoLog) recordParticipant(s *MemoryStore, id string) {
	if u == nil {
		return
	}
	if _, done := u.participants[id]; done {
		return
	}
	if v, ok := s.participants[id]; ok {
		u.participants[id] = &v
	} else {
		u.participants[id] = nil
	}
}

func (u *undoLog) recordItem(s *MemoryStore, id string) {
	if u == nil {
		return
	}
	if _, done := u.items[id]; done {
		return
	}
	if v, ok := s.items[id]; ok {
		u.items[id] = &v
	} else {
		u.items[id] = nil
	}
}

func (s *MemoryStore) rollback(u *undoLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range u.sessions {
		if v == nil {
			delete(s.sessions, id)
		} else {
			s.sessions[id] = *v
		}
	}
	for id, v := range u.participants {
		if v == nil {
			delete(s.participants, id)
		} else {
			s.participants[id] = *v
		}
	}
	for id, v := range u.items {
		if v == nil {
			delete(s.items, id)
		} else {
			s.items[id] = *v
		}
	}
}

// 保存済みの値はスライスを共有しないようコピーして格納する
func copySession(in model.Session) model.Session {
	if in.Categories != nil {
		in.Categories = append([]string(nil), in.Categories...)
	}
	if in.TimerEndsAt != nil {
		t := *in.TimerEndsAt
		in.TimerEndsAt = &t
	}
	return in
}

func copyItem(in model.Item) model.Item {
	if in.Votes != nil {
		in.Votes = append([]model.Vote(nil), in.Votes...)
	}
	return in
}

type memorySessions struct {
	s    *MemoryStore
	undo *undoLog
}

func (r memorySessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, nil
	}
	out := copySession(sess)
	return &out, nil
}

func (r memorySessions) Save(ctx context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.undo.recordSession(r.s, session.ID)
	r.s.sessions[session.ID] = copySession(*session)
	return nil
}

// DeleteByID はセッションと、そのセッションの参加者・アイテムを削除する。
func (r memorySessions) DeleteByID(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.undo.recordSession(r.s, id)
	delete(r.s.sessions, id)
	for pid, p := range r.s.participants {
		if p.SessionID == id {
			r.undo.recordParticipant(r.s, pid)
			delete(r.s.participants, pid)
		}
	}
	for iid, it := range r.s.items {
		if it.SessionID == id {
			r.undo.recordItem(r.s, iid)
			delete(r.s.items, iid)
		}
	}
	return nil
}

func (r memorySessions) ListIdleBefore(ctx context.Context, before time.Time, after *IdleSession, limit int) ([]IdleSession, error) {
	r.s.mu.RLock()
	idle := make([]IdleSession, 0)
	for _, sess := range r.s.sessions {
		if !sess.UpdatedAt.Before(before) {
			continue
		}
		s := IdleSession{ID: sess.ID, UpdatedAt: sess.UpdatedAt}
		if after != nil && !after.Less(s) {
			continue
		}
		idle = append(idle, s)
	}
	r.s.mu.RUnlock()

	sort.Slice(idle, func(i, j int) bool { return idle[i].Less(idle[j]) })
	if limit > 0 && len(idle) > limit {
		idle = idle[:limit]
	}
	return idle, nil
}

type memoryParticipants struct {
	s    *MemoryStore
	undo *undoLog
}

func (r memoryParticipants) ListBySession(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Participant
	for _, p := range r.s.participants {
		if p.SessionID == sessionID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r memoryParticipants) Save(ctx context.Context, p *model.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.undo.recordParticipant(r.s, p.ID)
	r.s.participants[p.ID] = *p
	return nil
}

func (r memoryParticipants) DeleteByID(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.undo.recordParticipant(r.s, id)
	delete(r.s.participants, id)
	return nil
}

type memoryItems struct {
	s    *MemoryStore
	undo *undoLog
}

func (r memoryItems) ListBySession(ctx context.Context, sessionID string) ([]*model.Item, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*model.Item
	for _, it := range r.s.items {
		if it.SessionID == sessionID {
			cp := copyItem(it)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r memoryItems) Save(ctx context.Context, it *model.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.undo.recordItem(r.s, it.ID)
	r.s.items[it.ID] = copyItem(*it)
	return nil
}

func (r memoryItems) DeleteByID(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.undo.recordItem(r.s, id)
	delete(r.s.items, id)
	return nil
}

// compile-time interface check
var (
	_ Store                 = (*MemoryStore)(nil)
	_ SessionRepository     = memorySessions{}
	_ ParticipantRepository = memoryParticipants{}
	_ ItemRepository        = memoryItems{}
)
