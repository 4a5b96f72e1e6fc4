// Package gateway はWebSocket接続を受け付け、フレームをコマンドに変換してcoordinatorへ渡す。
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/huddle/internal/metrics"
	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
	"github.com/hitoshi/huddle/internal/registry"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

// Executor はコマンドを実行するcoordinator側のインターフェース。
type Executor interface {
	Execute(ctx context.Context, conn registry.Conn, requestID string, cmd protocol.Command) error
	Disconnect(connID string)
}

// CommandDecoder はエンベロープを検証済みコマンドに変換する。
type CommandDecoder interface {
	Decode(frame protocol.Frame) (protocol.Command, error)
}

// Config は接続ごとの制限値。
type Config struct {
	// AllowedOrigin はハンドシェイクで許可するOrigin。空または"*"の場合は検査しない。
	AllowedOrigin   string
	MaxFramesPerSec float64
	FrameBurst      int
	SendBuffer      int
	MaxFrameBytes   int
	WriteTimeout    time.Duration
	MaxDecodeErrors int
}

// DefaultConfig はデフォルトの制限値を返す。
func DefaultConfig() Config {
	return Config{
		MaxFramesPerSec: 20,
		FrameBurst:      40,
		SendBuffer:      64,
		MaxFrameBytes:   64 << 10,
		WriteTimeout:    10 * time.Second,
		MaxDecodeErrors: 5,
	}
}

// Handler はWebSocketのエンドポイント。
type Handler struct {
	exec    Executor
	decoder CommandDecoder
	cfg     Config
	metrics metrics.Recorder
	logger  *slog.Logger
	server  websocket.Server

	mu     sync.Mutex
	peers  map[string]*peer
	closed bool
}

// compile-time interface check
var _ registry.Conn = (*peer)(nil)

// NewHandler はHandlerを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewHandler(exec Executor, decoder CommandDecoder, cfg Config, recorder metrics.Recorder, logger *slog.Logger) *Handler {
	defaults := DefaultConfig()
	if cfg.MaxFramesPerSec <= 0 {
		cfg.MaxFramesPerSec = defaults.MaxFramesPerSec
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = defaults.FrameBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaults.MaxFrameBytes
	}
	if cfg.MaxDecodeErrors <= 0 {
		cfg.MaxDecodeErrors = defaults.MaxDecodeErrors
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	h := &Handler{exec: exec, decoder: decoder, cfg: cfg, metrics: recorder, logger: logger, peers: make(map[string]*peer)}
	h.server = websocket.Server{Handshake: h.handshake, Handler: h.serve}
	return h
}

// ServeHTTP はGETリクエストをWebSocketにアップグレードする。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.server.ServeHTTP(w, r)
}

// Shutdown は新規接続の受け付けを止め、全接続を閉じる。
// 送信待ちのフレームは閉じる前に書き出す。
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	for _, p := range peers {
		p.wait()
	}
}

// ActiveConnections は接続中のWebSocket数を返す。
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Handler) track(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p.id] = p
	return true
}

func (h *Handler) untrack(p *peer) {
	h.mu.Lock()
	delete(h.peers, p.id)
	h.mu.Unlock()
}

func (h *Handler) handshake(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if h.cfg.AllowedOrigin == "" || h.cfg.AllowedOrigin == "*" {
		if origin != "" {
			parsed, err := url.Parse(origin)
			if err != nil {
				return err
			}
			cfg.Origin = parsed
		}
		return nil
	}
	if origin != h.cfg.AllowedOrigin {
		h.logger.Warn("許可されていないOriginからの接続を拒否しました", "origin", origin)
		return errors.New("origin not allowed")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return err
	}
	cfg.Origin = parsed
	return nil
}

// serve は1接続分の受信ループ。
// 同じ接続から受け取ったコマンドは受信順に1件ずつ実行する。
func (h *Handler) serve(ws *websocket.Conn) {
	ws.MaxPayloadBytes = h.cfg.MaxFrameBytes
	p := newPeer(uuid.NewString(), ws, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	ctx := ws.Request().Context()

	if !h.track(p) {
		p.Close()
		p.wait()
		return
	}
	h.metrics.RecordConnection(1)
	h.logger.Debug("WebSocket接続を受け付けました", "conn_id", p.id, "remote_addr", ws.Request().RemoteAddr)
	defer func() {
		h.exec.Disconnect(p.id)
		p.Close()
		p.wait()
		h.untrack(p)
		h.metrics.RecordConnection(-1)
		h.logger.Debug("WebSocket接続を終了しました", "conn_id", p.id)
	}()

	limiter := rate.NewLimiter(rate.Limit(h.cfg.MaxFramesPerSec), h.cfg.FrameBurst)
	decodeErrors := 0

	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				if h.rejectFrame(p, "", model.NewInvalidPayloadError("frame too large"), &decodeErrors) {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("フレームの受信に失敗しました", "conn_id", p.id, "error", err)
			}
			return
		}

		if !limiter.Allow() {
			h.logger.Warn("送信頻度が上限を超えたため接続を切断します", "conn_id", p.id)
			h.reply(p, protocol.ErrorFrame("", model.NewRateLimitedError()))
			return
		}

		frame, err := protocol.ParseFrame(raw)
		if err != nil {
			if h.rejectFrame(p, "", err, &decodeErrors) {
				return
			}
			continue
		}
		cmd, err := h.decoder.Decode(frame)
		if err != nil {
			if h.rejectFrame(p, frame.RequestID, err, &decodeErrors) {
				return
			}
			continue
		}
		decodeErrors = 0

		if err := h.exec.Execute(ctx, p, frame.RequestID, cmd); err != nil {
			h.logger.Debug("コマンドが失敗しました",
				"conn_id", p.id,
				"command", frame.Type,
				"error", err,
			)
		}
	}
}

// rejectFrame は不正なフレームにerrorを返す。連続回数が上限に達した場合はtrueを返す。
func (h *Handler) rejectFrame(p *peer, requestID string, err error, count *int) bool {
	*count++
	h.reply(p, protocol.ErrorFrame(requestID, err))
	if *count >= h.cfg.MaxDecodeErrors {
		h.logger.Warn("不正なフレームが続いたため接続を切断します", "conn_id", p.id)
		return true
	}
	return false
}

func (h *Handler) reply(p *peer, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		h.logger.Error("フレームのエンコードに失敗しました", "error", err)
		return
	}
	p.Send(data)
}
