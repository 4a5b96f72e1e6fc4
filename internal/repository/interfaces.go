// Package repository はデータ永続化のインターフェースを定義する。
//
// 業務ロジックは持たず、Session / Participant / Item の保存・取得・削除のみを提供する。
// 書き込みは coordinator からのみ行われる。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/huddle/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// Save はセッションを作成または更新する。
	Save(ctx context.Context, session *model.Session) error

	// DeleteByID は指定IDのセッションを削除する。
	// 関連するparticipants、itemsもCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// ListIdleBefore はupdated_atがbeforeより古いセッションを (updated_at, id) の昇順に最大limit件返す。
	// afterを指定した場合はその位置より後ろから返す。nilの場合は先頭から。
	ListIdleBefore(ctx context.Context, before time.Time, after *IdleSession, limit int) ([]IdleSession, error)
}

// IdleSession は放置セッション検索の結果であり、次の検索位置としても使う。
type IdleSession struct {
	ID        string
	UpdatedAt time.Time
}

// Less は (UpdatedAt, ID) の順序でsがoより前かを返す。
func (s IdleSession) Less(o IdleSession) bool {
	if !s.UpdatedAt.Equal(o.UpdatedAt) {
		return s.UpdatedAt.Before(o.UpdatedAt)
	}
	return s.ID < o.ID
}

// ParticipantRepository は参加者データの永続化インターフェース。
type ParticipantRepository interface {
	// ListBySession はセッションの参加者を作成順に返す。
	ListBySession(ctx context.Context, sessionID string) ([]*model.Participant, error)

	// Save は参加者を作成または更新する。
	Save(ctx context.Context, participant *model.Participant) error

	// DeleteByID は指定IDの参加者を削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ItemRepository はアイテムデータの永続化インターフェース。
type ItemRepository interface {
	// ListBySession はセッションのアイテムを作成順に返す。
	ListBySession(ctx context.Context, sessionID string) ([]*model.Item, error)

	// Save はアイテムを作成または更新する。投票はアイテムと一緒に保存される。
	Save(ctx context.Context, item *model.Item) error

	// DeleteByID は指定IDのアイテムを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// Repositories は1つのトランザクション（またはコネクション）に束ねたリポジトリの組。
type Repositories struct {
	Sessions     SessionRepository
	Participants ParticipantRepository
	Items        ItemRepository
}

// Store はセッションストアの入口。
// WithinTx内の書き込みは全て反映されるか、全て破棄される。
// 書き込み後の読み取りは書き込んだ値を返す（read-your-writes）。
type Store interface {
	// Repos はトランザクション外で使うリポジトリを返す。
	Repos() Repositories

	// WithinTx はfnを1つのトランザクションで実行する。fnがエラーを返した場合はロールバックする。
	WithinTx(ctx context.Context, fn func(r Repositories) error) error

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// DBTX は *sql.DB と *sql.Tx の共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
