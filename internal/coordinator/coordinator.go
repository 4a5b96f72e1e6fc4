// Package coordinator はセッションへのコマンドを直列に実行し、結果のスナップショットを配信する。
//
// セッションごとに1本のレーン（goroutine + FIFOキュー）を持ち、同じセッションへのコマンドは
// 受け付け順に1件ずつ処理される。異なるセッションのコマンドは並行に処理される。
// 各コマンドは 読み込み → session.Apply → 差分の永続化 → 読み戻し → 配信 の順で実行し、
// 配信するスナップショットは常に読み戻した状態から生成する。
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/huddle/internal/metrics"
	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
	"github.com/hitoshi/huddle/internal/registry"
	"github.com/hitoshi/huddle/internal/repository"
	"github.com/hitoshi/huddle/internal/session"
)

// DefaultIdleTimeout はレーンが空のまま待機する時間のデフォルト値。
const DefaultIdleTimeout = 5 * time.Minute

// Config はCoordinatorの設定。
type Config struct {
	Defaults    session.Defaults
	IdleTimeout time.Duration

	// Now とNewID はテストで差し替える。nilの場合は現在時刻（UTC）とUUIDv4を使用する。
	Now   func() time.Time
	NewID func() string
}

// Coordinator はセッション状態の唯一の書き込み主体。
type Coordinator struct {
	store   repository.Store
	rooms   *registry.Registry
	cfg     Config
	env     session.Env
	metrics metrics.Recorder
	logger  *slog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

// New はCoordinatorを生成する。recorderがnilの場合はメトリクスを記録しない。
func New(store repository.Store, rooms *registry.Registry, cfg Config, recorder metrics.Recorder, logger *slog.Logger) *Coordinator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "coordinator")
	return &Coordinator{
		store:   store,
		rooms:   rooms,
		cfg:     cfg,
		env:     session.Env{Now: cfg.Now, NewID: cfg.NewID, Defaults: cfg.Defaults},
		metrics: recorder,
		logger:  logger,
		lanes:   make(map[string]*lane),
	}
}

// Execute は接続から受け取ったコマンドを処理する。
// 成功時のイベントは登録簿を通じて配信し、失敗時はerrorフレームを送信元の接続にのみ送る。
// 返すエラーはログ用で、送信元への通知は済んでいる。
func (c *Coordinator) Execute(ctx context.Context, conn registry.Conn, requestID string, cmd protocol.Command) error {
	start := time.Now()
	c.logger.Debug("コマンドを受け付けました",
		"session_id", cmd.Session().SessionID,
		"command", string(cmd.Type()),
		"conn_id", conn.ID(),
	)
	err := c.execute(ctx, conn, requestID, cmd)

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		c.sendError(conn, requestID, err)
	}
	elapsed := time.Since(start)
	c.metrics.RecordCommand(string(cmd.Type()), result, elapsed)
	c.logCompletion(cmd, result, elapsed, err)
	return err
}

// logCompletion はコマンドの処理結果を記録する。内部エラーはinternalErrorで記録済み。
func (c *Coordinator) logCompletion(cmd protocol.Command, result string, elapsed time.Duration, err error) {
	attrs := []any{
		"session_id", cmd.Session().SessionID,
		"command", string(cmd.Type()),
		"result", result,
		"duration_ms", float64(elapsed.Microseconds()) / 1000,
	}
	if err == nil {
		c.logger.Info("コマンドを処理しました", attrs...)
		return
	}
	apiErr := model.AsAPIError(err)
	if apiErr.Category == model.CategorySystem {
		return
	}
	c.logger.Warn("コマンドを拒否しました", append(attrs, "code", apiErr.Code)...)
}

func (c *Coordinator) execute(ctx context.Context, conn registry.Conn, requestID string, cmd protocol.Command) error {
	if create, ok := cmd.(protocol.CreateSession); ok {
		res, err := session.Create(create, c.env)
		if err != nil {
			return err
		}
		sessionID := res.State.Session.ID
		return c.submit(ctx, sessionID, func() error {
			_, err := c.commit(sessionID, nil, res, conn, requestID)
			return err
		})
	}

	target := cmd.Session()
	if target.SessionID == "" {
		return model.NewInvalidPayloadError("sessionId is required")
	}
	return c.submit(ctx, target.SessionID, func() error {
		actorID, err := c.resolveActor(conn, cmd)
		if err != nil {
			return err
		}
		return c.applyLocked(target.SessionID, actorID, cmd, conn, requestID)
	})
}

// resolveActor は接続に紐付く参加者IDを返す。
// join / rejoin 以外は接続が対象セッションのルームに属している必要がある。
func (c *Coordinator) resolveActor(conn registry.Conn, cmd protocol.Command) (string, error) {
	switch cmd.(type) {
	case protocol.Join, protocol.Rejoin:
		return "", nil
	}

	target := cmd.Session()
	binding, ok := c.rooms.Binding(conn.ID())
	if !ok || binding.SessionID != target.SessionID {
		return "", model.NewNotInRoomError(target.SessionID)
	}
	if target.ParticipantID != "" && target.ParticipantID != binding.ParticipantID {
		return "", model.NewParticipantMismatchError()
	}
	return binding.ParticipantID, nil
}

// applyLocked はレーン内で呼び出す。
func (c *Coordinator) applyLocked(sessionID, actorID string, cmd protocol.Command, conn registry.Conn, requestID string) error {
	ctx := context.Background()

	state, err := c.load(ctx, sessionID)
	if err != nil {
		return c.internalError("セッションの読み込みに失敗しました", sessionID, err)
	}
	if state == nil {
		return model.NewSessionNotFoundError(sessionID)
	}

	res, err := session.Apply(state, actorID, cmd, c.env)
	if err != nil {
		return err
	}
	_, err = c.commit(sessionID, state, res, conn, requestID)
	return err
}

// commit は処理結果を永続化し、読み戻した状態からスナップショットを生成して配信する。
// 削除された場合はnilのスナップショットを返す。
func (c *Coordinator) commit(sessionID string, before *session.State, res *session.Result, conn registry.Conn, requestID string) (*model.Snapshot, error) {
	ctx := context.Background()

	var snap *model.Snapshot
	switch {
	case res.Destroyed:
		if err := c.persist(ctx, sessionID, before, res); err != nil {
			return nil, c.internalError("セッションの削除に失敗しました", sessionID, err)
		}
	case res.Mutated:
		if err := c.persist(ctx, sessionID, before, res); err != nil {
			return nil, c.internalError("セッションの保存に失敗しました", sessionID, err)
		}
		after, err := c.load(ctx, sessionID)
		if err != nil {
			return nil, c.internalError("セッションの読み戻しに失敗しました", sessionID, err)
		}
		if after == nil {
			return nil, c.internalError("保存したセッションが見つかりません", sessionID, nil)
		}
		snap = session.BuildSnapshot(after)
	default:
		// 変更なし（rejoin）。読み込んだ状態がそのまま正となる。
		snap = session.BuildSnapshot(res.State)
	}

	c.dispatch(sessionID, conn, requestID, res, snap)

	if res.Destroyed {
		c.rooms.CloseRoom(sessionID)
		c.retireLane(sessionID)
		c.logger.Info("最後の参加者が退出したためセッションを削除しました", "session_id", sessionID)
	}
	c.metrics.RecordActiveRooms(c.rooms.RoomCount())
	return snap, nil
}

// ImportItems は課題管理ツールから取り込んだアイテムを1回の変更として追加する。
// 送信元の接続を持たないため、実行者は申告された参加者IDで判定する。
func (c *Coordinator) ImportItems(ctx context.Context, cmd protocol.ImportItems) (*model.Snapshot, error) {
	start := time.Now()
	var snap *model.Snapshot
	err := c.submit(ctx, cmd.SessionID, func() error {
		state, err := c.load(context.Background(), cmd.SessionID)
		if err != nil {
			return c.internalError("セッションの読み込みに失敗しました", cmd.SessionID, err)
		}
		if state == nil {
			return model.NewSessionNotFoundError(cmd.SessionID)
		}
		res, err := session.Apply(state, cmd.ParticipantID, cmd, c.env)
		if err != nil {
			return err
		}
		snap, err = c.commit(cmd.SessionID, state, res, nil, "")
		return err
	})

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
	}
	elapsed := time.Since(start)
	c.metrics.RecordCommand(string(cmd.Type()), result, elapsed)
	c.logCompletion(cmd, result, elapsed, err)
	return snap, err
}

// Snapshot はセッションの現在のスナップショットを返す。
func (c *Coordinator) Snapshot(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	var snap *model.Snapshot
	err := c.submit(ctx, sessionID, func() error {
		var err error
		snap, err = c.readSnapshot(sessionID)
		return err
	})
	return snap, err
}

func (c *Coordinator) readSnapshot(sessionID string) (*model.Snapshot, error) {
	state, err := c.load(context.Background(), sessionID)
	if err != nil {
		return nil, c.internalError("セッションの読み込みに失敗しました", sessionID, err)
	}
	if state == nil {
		return nil, model.NewSessionNotFoundError(sessionID)
	}
	return session.BuildSnapshot(state), nil
}

// Purge は接続がなく、beforeより前から更新されていないセッションを削除する。
// 削除した場合はtrueを返す。
func (c *Coordinator) Purge(ctx context.Context, sessionID string, before time.Time) (bool, error) {
	var purged bool
	err := c.submit(ctx, sessionID, func() error {
		if c.rooms.RoomSize(sessionID) > 0 {
			return nil
		}
		sess, err := c.store.Repos().Sessions.FindByID(context.Background(), sessionID)
		if err != nil {
			return err
		}
		if sess == nil || !sess.UpdatedAt.Before(before) {
			return nil
		}
		if err := c.store.Repos().Sessions.DeleteByID(context.Background(), sessionID); err != nil {
			return err
		}
		c.retireLane(sessionID)
		purged = true
		return nil
	})
	return purged, err
}

// Disconnect は切断された接続の紐付けを解除する。参加者は削除しない。
func (c *Coordinator) Disconnect(connID string) {
	binding, ok := c.rooms.Detach(connID)
	if !ok {
		return
	}
	c.metrics.RecordActiveRooms(c.rooms.RoomCount())
	c.logger.Debug("接続をルームから外しました",
		"session_id", binding.SessionID,
		"participant_id", binding.ParticipantID,
		"conn_id", connID,
	)
}

// Close は新しいコマンドの受け付けを止め、投入済みのコマンドの完了を待つ。
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for _, l := range c.lanes {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// internalError はストア由来のエラーをログに記録し、詳細を伏せたエラーに置き換える。
func (c *Coordinator) internalError(msg, sessionID string, err error) error {
	c.logger.Error(msg, "session_id", sessionID, "error", err)
	return model.NewInternalError()
}
