package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/resultwatch/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したデバイストークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Register はトークンを登録する。登録済みの場合はlast_seen_atを更新する。
func (r *PostgresTokenRepo) Register(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fcm_tokens (token, created_at, last_seen_at)
		 VALUES ($1, now(), now())
		 ON CONFLICT (token) DO UPDATE SET last_seen_at = now()`,
		token,
	)
	if err != nil {
		return fmt.Errorf("トークンの登録に失敗しました: %w", err)
	}
	return nil
}

// List は登録済みの全トークンを登録順に返す。
func (r *PostgresTokenRepo) List(ctx context.Context) ([]model.DeviceToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT token, created_at, last_seen_at FROM fcm_tokens ORDER BY created_at, token`,
	)
	if err != nil {
		return nil, fmt.Errorf("トークン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tokens []model.DeviceToken
	for rows.Next() {
		var tok model.DeviceToken
		if err := rows.Scan(&tok.Token, &tok.CreatedAt, &tok.LastSeenAt); err != nil {
			return nil, fmt.Errorf("トークンのスキャンに失敗しました: %w", err)
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("トークンの読み込みに失敗しました: %w", err)
	}
	return tokens, nil
}

// Delete はトークンを削除する。存在しなかった場合はfalseを返す。
func (r *PostgresTokenRepo) Delete(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM fcm_tokens WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("トークンの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

var _ TokenRepository = (*PostgresTokenRepo)(nil)
