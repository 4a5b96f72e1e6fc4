package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/huddle/internal/coordinator"
	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
	"github.com/hitoshi/huddle/internal/registry"
	"github.com/hitoshi/huddle/internal/repository"
	"github.com/hitoshi/huddle/internal/security"
	"github.com/hitoshi/huddle/internal/session"
	"golang.org/x/net/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	coord := coordinator.New(repository.NewMemoryStore(), registry.New(), coordinator.Config{
		Defaults: session.Defaults{VotesPerRound: 3, Categories: []string{"went_well"}},
	}, nil, discardLogger())
	t.Cleanup(coord.Close)

	decoder := protocol.NewDecoder(security.NewTextSanitizer(), protocol.DefaultLimits())
	srv := httptest.NewServer(NewHandler(coord, decoder, cfg, nil, discardLogger()))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frameType, requestID string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, _ := json.Marshal(protocol.Frame{Type: frameType, RequestID: requestID, Payload: data})
	if err := websocket.Message.Send(conn, string(raw)); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func sendRaw(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := websocket.Message.Send(conn, raw); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw string
	if err := websocket.Message.Receive(conn, &raw); err != nil {
		t.Fatalf("receive frame: %v", err)
	}
	var f protocol.Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func readSession(t *testing.T, conn *websocket.Conn, wantType protocol.EventType) protocol.SessionPayload {
	t.Helper()
	f := read(t, conn)
	if f.Type != string(wantType) {
		t.Fatalf("frame type = %q, want %q (payload %s)", f.Type, wantType, f.Payload)
	}
	var p protocol.SessionPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p
}

func readError(t *testing.T, conn *websocket.Conn) (protocol.Frame, protocol.ErrorPayload) {
	t.Helper()
	f := read(t, conn)
	if f.Type != string(protocol.EvtError) {
		t.Fatalf("frame type = %q, want error", f.Type)
	}
	var p protocol.ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return f, p
}

func TestGateway_CreateJoinAndBroadcast(t *testing.T) {
	srv := newTestServer(t, Config{})
	host := dial(t, srv)
	guest := dial(t, srv)

	send(t, host, "createSession", "c-1", map[string]any{
		"name": "Sprint 12", "kind": "estimation", "hostName": "Alice",
	})
	created := readSession(t, host, protocol.EvtSessionCreated)
	sessionID := created.Session.SessionID
	if created.Participant == nil || !created.Participant.IsHost {
		t.Fatalf("participant = %+v", created.Participant)
	}

	send(t, guest, "join", "j-1", map[string]any{"sessionId": sessionID, "name": "Bob"})
	joined := readSession(t, guest, protocol.EvtSessionJoined)
	if joined.Participant.DisplayName != "Bob" {
		t.Errorf("displayName = %q", joined.Participant.DisplayName)
	}
	readSession(t, guest, protocol.EvtSessionUpdated)

	update := readSession(t, host, protocol.EvtSessionUpdated)
	if len(update.Session.Participants) != 2 {
		t.Errorf("participants = %d, want 2", len(update.Session.Participants))
	}

	send(t, guest, "addItem", "a-1", map[string]any{"sessionId": sessionID, "content": "<b>Login</b> page"})
	item := readSession(t, host, protocol.EvtSessionUpdated).Session.Items[0]
	if item.Title != "Login page" {
		t.Errorf("title = %q, want タグを除去した文字列", item.Title)
	}
}

func TestGateway_InvalidFrameGetsError(t *testing.T) {
	srv := newTestServer(t, Config{})
	conn := dial(t, srv)

	sendRaw(t, conn, "not json")
	_, p := readError(t, conn)
	if p.Code != model.ErrCodeInvalidPayload || p.Kind != model.CategoryValidation {
		t.Errorf("error = %+v", p)
	}

	send(t, conn, "teleport", "t-1", map[string]any{})
	f, p := readError(t, conn)
	if f.RequestID != "t-1" || p.Code != model.ErrCodeUnknownCommand {
		t.Errorf("requestId = %q, error = %+v", f.RequestID, p)
	}

	// 不正なフレームの後も接続は使える
	send(t, conn, "createSession", "c-1", map[string]any{"name": "R", "kind": "retrospective", "hostName": "H"})
	readSession(t, conn, protocol.EvtSessionCreated)
}

func TestGateway_CommandOutsideRoomIsUnauthorized(t *testing.T) {
	srv := newTestServer(t, Config{})
	host := dial(t, srv)
	stranger := dial(t, srv)

	send(t, host, "createSession", "", map[string]any{"name": "S", "kind": "estimation", "hostName": "H"})
	sessionID := readSession(t, host, protocol.EvtSessionCreated).Session.SessionID

	send(t, stranger, "revealVotes", "r-1", map[string]any{"sessionId": sessionID})
	_, p := readError(t, stranger)
	if p.Kind != model.CategoryUnauthorized {
		t.Errorf("kind = %q, want unauthorized", p.Kind)
	}
}

func TestGateway_RateLimitClosesConnection(t *testing.T) {
	srv := newTestServer(t, Config{MaxFramesPerSec: 1, FrameBurst: 2})
	conn := dial(t, srv)

	for i := 0; i < 3; i++ {
		sendRaw(t, conn, `{"type":"teleport"}`)
	}

	var sawRateLimit bool
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			break
		}
		if strings.Contains(raw, model.ErrCodeRateLimited) {
			sawRateLimit = true
		}
	}
	if !sawRateLimit {
		t.Fatal("RATE_LIMITED を受信していない")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw string
	if err := websocket.Message.Receive(conn, &raw); err == nil {
		t.Errorf("レート超過後も接続が開いている: %s", raw)
	}
}

func TestGateway_RejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, Config{AllowedOrigin: "http://allowed.example"})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if conn, err := websocket.Dial(wsURL, "", "http://evil.example"); err == nil {
		conn.Close()
		t.Fatal("許可されていないOriginの接続が成功した")
	}
}

// stubExecutor は受け取ったコマンドを記録する。
type stubExecutor struct {
	cmds         chan protocol.Command
	disconnected chan string
}

func (s *stubExecutor) Execute(ctx context.Context, conn registry.Conn, requestID string, cmd protocol.Command) error {
	s.cmds <- cmd
	return nil
}

func (s *stubExecutor) Disconnect(connID string) { s.disconnected <- connID }

func TestGateway_DisconnectOnClose(t *testing.T) {
	exec := &stubExecutor{cmds: make(chan protocol.Command, 1), disconnected: make(chan string, 1)}
	decoder := protocol.NewDecoder(security.NewTextSanitizer(), protocol.DefaultLimits())
	srv := httptest.NewServer(NewHandler(exec, decoder, Config{}, nil, discardLogger()))
	defer srv.Close()

	conn := dial(t, srv)
	send(t, conn, "leave", "", map[string]any{"sessionId": "s-1"})
	select {
	case cmd := <-exec.cmds:
		if cmd.Type() != protocol.CmdLeave || cmd.Session().SessionID != "s-1" {
			t.Errorf("cmd = %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("コマンドが渡されていない")
	}

	conn.Close()
	select {
	case <-exec.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("切断時にDisconnectが呼ばれていない")
	}
}

func TestGateway_ShutdownClosesConnections(t *testing.T) {
	exec := &stubExecutor{cmds: make(chan protocol.Command, 1), disconnected: make(chan string, 1)}
	decoder := protocol.NewDecoder(security.NewTextSanitizer(), protocol.DefaultLimits())
	h := NewHandler(exec, decoder, Config{}, nil, discardLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	deadline := time.Now().Add(2 * time.Second)
	for h.ActiveConnections() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.ActiveConnections() != 1 {
		t.Fatalf("ActiveConnections = %d, want 1", h.ActiveConnections())
	}

	h.Shutdown()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw string
	if err := websocket.Message.Receive(conn, &raw); err == nil {
		t.Fatal("Shutdown後も接続が開いています")
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if _, err := websocket.Dial(wsURL, "", srv.URL); err == nil {
		t.Error("Shutdown後の新規接続は拒否すべき")
	}
}
