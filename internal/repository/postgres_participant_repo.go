package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/huddle/internal/model"
)

// PostgresParticipantRepo はPostgreSQLを使用した参加者リポジトリ。
type PostgresParticipantRepo struct {
	db DBTX
}

// NewPostgresParticipantRepo はPostgresParticipantRepoを生成する。
func NewPostgresParticipantRepo(db DBTX) *PostgresParticipantRepo {
	return &PostgresParticipantRepo{db: db}
}

// ListBySession はセッションの参加者をseq順に返す。
func (r *PostgresParticipantRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, display_name, is_host, voting_budget, seq, joined_at
		 FROM participants
		 WHERE session_id = $1
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var participants []*model.Participant
	for rows.Next() {
		p := &model.Participant{}
		if err := rows.Scan(&p.ID, &p.SessionID, &p.DisplayName, &p.IsHost, &p.VotingBudget, &p.Seq, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("参加者の読み取りに失敗しました: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参加者一覧の走査に失敗しました: %w", err)
	}
	return participants, nil
}

// Save は参加者を作成または更新する。
func (r *PostgresParticipantRepo) Save(ctx context.Context, p *model.Participant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (id, session_id, display_name, is_host, voting_budget, seq, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     display_name = EXCLUDED.display_name,
		     is_host = EXCLUDED.is_host,
		     voting_budget = EXCLUDED.voting_budget`,
		p.ID, p.SessionID, p.DisplayName, p.IsHost, p.VotingBudget, p.Seq, p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("参加者の保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの参加者を削除する。
func (r *PostgresParticipantRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM participants WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("参加者の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ParticipantRepository = (*PostgresParticipantRepo)(nil)
