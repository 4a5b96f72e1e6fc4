package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/lib/pq"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db DBTX
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db DBTX) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s := &model.Session{}
	var kind, phase, votingSystem string
	var categories []string
	var timerEndsAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, kind, phase, voting_system, categories, current_item_id,
		        votes_per_round, timer_ends_at, version, next_seq, created_at, updated_at
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(
		&s.ID, &s.Name, &kind, &phase, &votingSystem, pq.Array(&categories), &s.CurrentItemID,
		&s.VotesPerRound, &timerEndsAt, &s.Version, &s.NextSeq, &s.CreatedAt, &s.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	s.Kind = model.SessionKind(kind)
	s.Phase = model.Phase(phase)
	s.VotingSystem = model.VotingSystem(votingSystem)
	if len(categories) > 0 {
		s.Categories = categories
	}
	if timerEndsAt.Valid {
		t := timerEndsAt.Time
		s.TimerEndsAt = &t
	}
	return s, nil
}

// Save はセッションを作成または更新する。
func (r *PostgresSessionRepo) Save(ctx context.Context, s *model.Session) error {
	categories := s.Categories
	if categories == nil {
		categories = []string{}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, kind, phase, voting_system, categories, current_item_id,
		                       votes_per_round, timer_ends_at, version, next_seq, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     phase = EXCLUDED.phase,
		     voting_system = EXCLUDED.voting_system,
		     categories = EXCLUDED.categories,
		     current_item_id = EXCLUDED.current_item_id,
		     votes_per_round = EXCLUDED.votes_per_round,
		     timer_ends_at = EXCLUDED.timer_ends_at,
		     version = EXCLUDED.version,
		     next_seq = EXCLUDED.next_seq,
		     updated_at = EXCLUDED.updated_at`,
		s.ID, s.Name, string(s.Kind), string(s.Phase), string(s.VotingSystem), pq.Array(categories), s.CurrentItemID,
		s.VotesPerRound, s.TimerEndsAt, s.Version, s.NextSeq, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。参加者とアイテムはCASCADE削除される。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListIdleBefore はupdated_atがbeforeより古いセッションをキーセットページングで返す。
func (r *PostgresSessionRepo) ListIdleBefore(ctx context.Context, before time.Time, after *IdleSession, limit int) ([]IdleSession, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, updated_at FROM sessions
			 WHERE updated_at < $1
			 ORDER BY updated_at ASC, id ASC
			 LIMIT $2`,
			before, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, updated_at FROM sessions
			 WHERE updated_at < $1 AND (updated_at, id) > ($2, $3)
			 ORDER BY updated_at ASC, id ASC
			 LIMIT $4`,
			before, after.UpdatedAt, after.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	defer rows.Close()

	var out []IdleSession
	for rows.Next() {
		var s IdleSession
		if err := rows.Scan(&s.ID, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan idle session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate idle sessions: %w", err)
	}
	return out, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
