package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/huddle/internal/model"
)

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
// 投票は参加者IDの重複がない順序付き配列としてJSONBカラムに保存する。
type PostgresItemRepo struct {
	db DBTX
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db DBTX) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

// ListBySession はセッションのアイテムをseq順に返す。
func (r *PostgresItemRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, title, description, category, author_id, status,
		        votes, final_value, seq, created_at
		 FROM items
		 WHERE session_id = $1
		 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		it := &model.Item{}
		var status string
		var votes []byte
		var finalValue sql.NullString
		if err := rows.Scan(
			&it.ID, &it.SessionID, &it.Title, &it.Description, &it.Category, &it.AuthorID, &status,
			&votes, &finalValue, &it.Seq, &it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("アイテムの読み取りに失敗しました: %w", err)
		}
		it.Status = model.ItemStatus(status)
		it.FinalValue = nullStringValue(finalValue)
		if it.Votes, err = decodeVotes(votes); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// Save はアイテムを作成または更新する。
func (r *PostgresItemRepo) Save(ctx context.Context, it *model.Item) error {
	votes, err := encodeVotes(it.Votes)
	if err != nil {
		return err
	}

	var finalValue sql.NullString
	if it.FinalValue != "" {
		finalValue = sql.NullString{String: it.FinalValue, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO items (id, session_id, title, description, category, author_id, status,
		                    votes, final_value, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		     title = EXCLUDED.title,
		     description = EXCLUDED.description,
		     category = EXCLUDED.category,
		     status = EXCLUDED.status,
		     votes = EXCLUDED.votes,
		     final_value = EXCLUDED.final_value`,
		it.ID, it.SessionID, it.Title, it.Description, it.Category, it.AuthorID, string(it.Status),
		string(votes), finalValue, it.Seq, it.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("アイテムの保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのアイテムを削除する。
func (r *PostgresItemRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM items WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("アイテムの削除に失敗しました: %w", err)
	}
	return nil
}

func encodeVotes(votes []model.Vote) ([]byte, error) {
	if votes == nil {
		votes = []model.Vote{}
	}
	data, err := json.Marshal(votes)
	if err != nil {
		return nil, fmt.Errorf("投票のエンコードに失敗しました: %w", err)
	}
	return data, nil
}

func decodeVotes(data []byte) ([]model.Vote, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var votes []model.Vote
	if err := json.Unmarshal(data, &votes); err != nil {
		return nil, fmt.Errorf("投票のデコードに失敗しました: %w", err)
	}
	if len(votes) == 0 {
		return nil, nil
	}
	return votes, nil
}

// nullStringValue はsql.NullStringから文字列値を取得する。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
