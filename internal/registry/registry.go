// Package registry はWebSocket接続とセッション・参加者の対応を管理する。
package registry

import "sync"

// Conn はフレームを送信できるクライアント接続。
// Send はブロックしてはならず、送信キューが溢れた場合はfalseを返す。
type Conn interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

// Binding は接続が紐づくセッションと参加者。
type Binding struct {
	SessionID     string
	ParticipantID string
}

type entry struct {
	conn    Conn
	binding Binding
}

// Registry は接続の所属ルームを保持する。全メソッドは並行呼び出しに対して安全。
type Registry struct {
	mu    sync.RWMutex
	conns map[string]entry
	rooms map[string]map[string]Conn
}

// New はRegistryを生成する。
func New() *Registry {
	return &Registry{
		conns: make(map[string]entry),
		rooms: make(map[string]map[string]Conn),
	}
}

// Attach は接続をセッションのルームに登録する。
// 既に別のルームに属している場合はそのルームから外す。
func (r *Registry) Attach(conn Conn, sessionID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[conn.ID()]; ok {
		r.removeFromRoom(prev.binding.SessionID, conn.ID())
	}
	r.conns[conn.ID()] = entry{conn: conn, binding: Binding{SessionID: sessionID, ParticipantID: participantID}}
	room, ok := r.rooms[sessionID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[sessionID] = room
	}
	room[conn.ID()] = conn
}

// Detach は接続の登録を解除し、解除前の紐づけを返す。未登録の場合はfalseを返す。
func (r *Registry) Detach(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return Binding{}, false
	}
	delete(r.conns, connID)
	r.removeFromRoom(e.binding.SessionID, connID)
	return e.binding, true
}

// DetachParticipant は参加者に紐づく全接続をルームから外し、外した接続を返す。
// 接続自体は閉じない。
func (r *Registry) DetachParticipant(sessionID, participantID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var detached []Conn
	for id, conn := range r.rooms[sessionID] {
		if r.conns[id].binding.ParticipantID != participantID {
			continue
		}
		detached = append(detached, conn)
		delete(r.conns, id)
		r.removeFromRoom(sessionID, id)
	}
	return detached
}

// Binding は接続の紐づけを返す。
func (r *Registry) Binding(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	return e.binding, ok
}

// IsMember は接続がセッションのルームに属しているかを返す。
func (r *Registry) IsMember(connID, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[sessionID][connID]
	return ok
}

// Broadcast はルーム内の全接続にフレームを送る。
// 送信キューが溢れた接続は閉じてルームから外す。
func (r *Registry) Broadcast(sessionID string, frame []byte) (delivered, dropped int) {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.rooms[sessionID]))
	for _, conn := range r.rooms[sessionID] {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	var slow []Conn
	for _, conn := range targets {
		if conn.Send(frame) {
			delivered++
			continue
		}
		dropped++
		slow = append(slow, conn)
	}
	for _, conn := range slow {
		r.Detach(conn.ID())
		conn.Close()
	}
	return delivered, dropped
}

// CloseRoom はルームを破棄し、属していた接続の紐づけを解除する。接続は閉じない。
func (r *Registry) CloseRoom(sessionID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[sessionID]
	conns := make([]Conn, 0, len(room))
	for id, conn := range room {
		conns = append(conns, conn)
		delete(r.conns, id)
	}
	delete(r.rooms, sessionID)
	return conns
}

// RoomSize はルーム内の接続数を返す。
func (r *Registry) RoomSize(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID])
}

// RoomCount は接続を持つルームの数を返す。
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// removeFromRoom はr.muを保持した状態で呼び出す。
func (r *Registry) removeFromRoom(sessionID, connID string) {
	room, ok := r.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, sessionID)
	}
}
