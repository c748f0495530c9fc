package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/authcore/store"
	"github.com/jmoiron/sqlx"
)

type twoFactor struct {
	db *sqlx.DB
}

type twoFactorRow struct {
	IdentityID string `db:"identity_id"`
	Secret     string `db:"secret"`
	Enabled    bool   `db:"enabled"`
	CreatedAt  int64  `db:"created_at"`
	LastUsed   int64  `db:"last_used_counter"`
}

func (r *twoFactor) Put(ctx context.Context, secret *store.TwoFactorSecret) error {
	row := twoFactorRow{
		IdentityID: secret.IdentityID,
		Secret:     secret.Secret,
		Enabled:    secret.Enabled,
		CreatedAt:  toNanos(secret.CreatedAt),
		LastUsed:   secret.LastUsedCounter,
	}
	// ON CONFLICT ... DO UPDATE is understood by both sqlite and postgres.
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO two_factor_secrets (identity_id, secret, enabled, created_at, last_used_counter)
		VALUES (:identity_id, :secret, :enabled, :created_at, :last_used_counter)
		ON CONFLICT (identity_id) DO UPDATE SET
			secret = excluded.secret, enabled = excluded.enabled, created_at = excluded.created_at,
			last_used_counter = excluded.last_used_counter`, row)
	return classify(err)
}

func (r *twoFactor) Get(ctx context.Context, identityID string) (*store.TwoFactorSecret, error) {
	var row twoFactorRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(
		`SELECT identity_id, secret, enabled, created_at, last_used_counter FROM two_factor_secrets WHERE identity_id = ?`), identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &store.TwoFactorSecret{
		IdentityID: row.IdentityID,
		Secret:     row.Secret,
		Enabled:    row.Enabled,
		CreatedAt:  fromNanos(row.CreatedAt),

		LastUsedCounter: row.LastUsed,
	}, nil
}

// MarkUsed is a single conditional UPDATE, so two concurrent callers with the
// same counter cannot both succeed.
func (r *twoFactor) MarkUsed(ctx context.Context, identityID string, counter int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE two_factor_secrets SET last_used_counter = ? WHERE identity_id = ? AND last_used_counter < ?`),
		counter, identityID, counter)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT 1 FROM two_factor_secrets WHERE identity_id = ?`), identityID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrStaleCounter
}

func (r *twoFactor) Delete(ctx context.Context, identityID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM two_factor_secrets WHERE identity_id = ?`), identityID)
	return err
}
