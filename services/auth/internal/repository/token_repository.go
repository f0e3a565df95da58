package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type tokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepository{pool: pool}
}

func (r *tokenRepository) Create(ctx context.Context, t *domain.MagicLinkToken) error {
	const q = `
		INSERT INTO magic_link_tokens (token, member_id, purpose, expires_at)
		VALUES ($1, $2, $3, $4)`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, t.Token, t.MemberID, t.Purpose, t.ExpiresAt)
	return err
}

func (r *tokenRepository) Claim(ctx context.Context, token string) (string, error) {
	const q = `
		UPDATE magic_link_tokens
		SET consumed_at = now()
		WHERE token = $1
		  AND consumed_at IS NULL
		  AND expires_at > now()
		RETURNING member_id`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var memberID string
	err := r.pool.QueryRow(ctx, q, token).Scan(&memberID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrTokenNotFound
	}
	return memberID, err
}

// DeleteExpired removes consumed tokens after a day and unconsumed ones a day
// after they expired.
func (r *tokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `
		DELETE FROM magic_link_tokens
		WHERE (consumed_at IS NOT NULL AND consumed_at < now() - interval '1 day')
		   OR (consumed_at IS NULL AND expires_at < now() - interval '1 day')`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
