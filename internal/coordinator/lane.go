package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed はCloseの後に投入されたコマンドに返すエラー。
var ErrClosed = errors.New("coordinator is closed")

// lane はセッション1件分の直列実行キュー。
// キュー操作はCoordinator.muで保護する。
type lane struct {
	sessionID string
	queue     []func()
	wake      chan struct{}
	retired   bool
}

// submit はfnをセッションのレーンに投入し、完了を待つ。
// ctxがキャンセルされた場合は待たずに戻るが、投入済みのfnはそのまま実行される。
func (c *Coordinator) submit(ctx context.Context, sessionID string, fn func() error) error {
	done := make(chan struct{})
	var result error
	job := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("レーン内でpanicが発生しました",
					"session_id", sessionID,
					"panic", fmt.Sprint(r),
				)
				result = fmt.Errorf("panic in session lane: %v", r)
			}
		}()
		result = fn()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	l, ok := c.lanes[sessionID]
	if !ok {
		l = &lane{sessionID: sessionID, wake: make(chan struct{}, 1)}
		c.lanes[sessionID] = l
		c.wg.Add(1)
		go c.runLane(l)
		c.metrics.RecordActiveLanes(len(c.lanes))
	}
	l.queue = append(l.queue, job)
	c.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case <-done:
		return result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLane はキューのジョブを投入順に1件ずつ実行する。
// キューが空のままIdleTimeoutが経過するか、セッション削除・Closeの後にキューが空になると終了する。
func (c *Coordinator) runLane(l *lane) {
	defer c.wg.Done()

	idle := time.NewTimer(c.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		c.mu.Lock()
		if len(l.queue) > 0 {
			job := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			c.mu.Unlock()
			job()
			continue
		}
		if l.retired || c.closed {
			c.removeLaneLocked(l)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		idle.Reset(c.cfg.IdleTimeout)
		select {
		case <-l.wake:
		case <-idle.C:
			c.mu.Lock()
			if len(l.queue) == 0 {
				c.removeLaneLocked(l)
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// retireLane はセッション削除後にレーンを終了させる。
// 既に投入済みのジョブは実行してから終了する。
func (c *Coordinator) retireLane(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lanes[sessionID]; ok {
		l.retired = true
	}
}

// removeLaneLocked はc.muを保持した状態で呼び出す。
func (c *Coordinator) removeLaneLocked(l *lane) {
	if c.lanes[l.sessionID] == l {
		delete(c.lanes, l.sessionID)
	}
	c.metrics.RecordActiveLanes(len(c.lanes))
}

// ActiveLanes は稼働中のレーン数を返す。
func (c *Coordinator) ActiveLanes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lanes)
}
