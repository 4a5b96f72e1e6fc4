// Package cleanup は放置されたセッションの自動削除ジョブを提供する。
// 最終更新から保持期間（デフォルト168時間）を超過し、接続中のクライアントがいない
// セッションを定期的に削除する。削除はコーディネーター経由で行い、
// participants、itemsはCASCADE削除で自動的に処理される。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/huddle/internal/metrics"
	"github.com/hitoshi/huddle/internal/repository"
)

const (
	// DefaultRetention は最終更新からセッションを保持する期間。
	DefaultRetention = 168 * time.Hour
	// DefaultBatchSize は1回の検索で取得するセッション数の上限。
	DefaultBatchSize = 100
)

// IdleSessionFinder は最終更新が古いセッションを検索する。
type IdleSessionFinder interface {
	ListIdleBefore(ctx context.Context, before time.Time, after *repository.IdleSession, limit int) ([]repository.IdleSession, error)
}

// SessionPurger はセッションを削除する。
// 接続中のクライアントがいる場合や、検索後に更新された場合はfalseを返す。
type SessionPurger interface {
	Purge(ctx context.Context, sessionID string, before time.Time) (bool, error)
}

// CleanupJob は保持期間を超過したセッションの自動削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	finder   IdleSessionFinder
	purger   SessionPurger
	recorder metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	Retention time.Duration // セッションの保持期間（デフォルト: 168h）
	BatchSize int           // 1回の検索件数（デフォルト: 100）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(finder IdleSessionFinder, purger SessionPurger, recorder metrics.Recorder, logger *slog.Logger) *CleanupJob {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cleanup")
	return &CleanupJob{
		finder:    finder,
		purger:    purger,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		Retention: DefaultRetention,
		BatchSize: DefaultBatchSize,
	}
}

// Run は保持期間を超過したセッションを削除する。
// 1件の削除に失敗しても残りの削除は継続し、失敗をまとめて返す。
// 検索位置をバッチごとに進めるため、接続中で削除されずに残ったセッションがあっても
// その後ろの古いセッションまで辿る。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().Add(-j.Retention)

	var (
		purged  int
		skipped int
		errs    []error
		after   *repository.IdleSession
	)
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		batch, err := j.finder.ListIdleBefore(ctx, before, after, j.BatchSize)
		if err != nil {
			j.logger.Error("放置セッションの検索に失敗しました",
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("放置セッションの検索に失敗: %w", err))
			break
		}

		for _, idle := range batch {
			id := idle.ID
			ok, err := j.purger.Purge(ctx, id, before)
			if err != nil {
				j.logger.Error("セッションの削除に失敗しました",
					slog.String("session_id", id),
					slog.String("error", err.Error()),
				)
				errs = append(errs, fmt.Errorf("セッション %s の削除に失敗: %w", id, err))
				continue
			}
			if !ok {
				skipped++
				continue
			}
			purged++
		}

		if len(batch) == 0 || len(batch) < j.BatchSize {
			break
		}
		last := batch[len(batch)-1]
		after = &last
	}

	j.recorder.RecordSessionsPurged(purged)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int("purged_count", purged),
		slog.Int("skipped_count", skipped),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

// Start はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("セッションクリーンアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
