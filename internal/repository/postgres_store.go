package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore はPostgreSQLを使用したセッションストア。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Repos はトランザクション外で使うリポジトリを返す。
func (s *PostgresStore) Repos() Repositories {
	return reposFor(s.db)
}

// WithinTx はfnを1つのトランザクションで実行する。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(r Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(reposFor(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func reposFor(db DBTX) Repositories {
	return Repositories{
		Sessions:     NewPostgresSessionRepo(db),
		Participants: NewPostgresParticipantRepo(db),
		Items:        NewPostgresItemRepo(db),
	}
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
