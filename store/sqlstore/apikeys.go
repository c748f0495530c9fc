package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/authcore/store"
	"github.com/jmoiron/sqlx"
)

type apiKeys struct {
	db *sqlx.DB
}

type apiKeyRow struct {
	ID          string        `db:"id"`
	IdentityID  string        `db:"identity_id"`
	Name        string        `db:"name"`
	Description string        `db:"description"`
	KeyHash     string        `db:"key_hash"`
	KeyPrefix   string        `db:"key_prefix"`
	KeySuffix   string        `db:"key_suffix"`
	Permissions int64         `db:"permissions"`
	CreatedAt   int64         `db:"created_at"`
	LastUsed    sql.NullInt64 `db:"last_used"`
	Active      bool          `db:"active"`
}

const apiKeyColumns = `id, identity_id, name, description, key_hash, key_prefix, key_suffix,
	permissions, created_at, last_used, active`

func toAPIKeyRow(k *store.APIKey) apiKeyRow {
	row := apiKeyRow{
		ID:          k.ID,
		IdentityID:  k.IdentityID,
		Name:        k.Name,
		Description: k.Description,
		KeyHash:     k.KeyHash,
		KeyPrefix:   k.KeyPrefix,
		KeySuffix:   k.KeySuffix,
		Permissions: int64(k.Permissions),
		CreatedAt:   toNanos(k.CreatedAt),
		Active:      k.Active,
	}
	if k.LastUsed != nil {
		row.LastUsed = sql.NullInt64{Int64: toNanos(*k.LastUsed), Valid: true}
	}
	return row
}

func (row apiKeyRow) toDomain() *store.APIKey {
	k := &store.APIKey{
		ID:          row.ID,
		IdentityID:  row.IdentityID,
		Name:        row.Name,
		Description: row.Description,
		KeyHash:     row.KeyHash,
		KeyPrefix:   row.KeyPrefix,
		KeySuffix:   row.KeySuffix,
		Permissions: uint64(row.Permissions),
		CreatedAt:   fromNanos(row.CreatedAt),
		Active:      row.Active,
	}
	if row.LastUsed.Valid {
		t := fromNanos(row.LastUsed.Int64)
		k.LastUsed = &t
	}
	return k
}

func (r *apiKeys) Create(ctx context.Context, key *store.APIKey) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES (:id, :identity_id, :name, :description, :key_hash, :key_prefix, :key_suffix,
		:permissions, :created_at, :last_used, :active)`, toAPIKeyRow(key))
	return classify(err)
}

func (r *apiKeys) Get(ctx context.Context, id string) (*store.APIKey, error) {
	return r.get(ctx, r.db, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
}

func (r *apiKeys) GetByHash(ctx context.Context, keyHash string) (*store.APIKey, error) {
	return r.get(ctx, r.db, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash)
}

func (r *apiKeys) get(ctx context.Context, q sqlx.QueryerContext, query, arg string) (*store.APIKey, error) {
	var row apiKeyRow
	if err := sqlx.GetContext(ctx, q, &row, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *apiKeys) ListByIdentity(ctx context.Context, identityID string) ([]*store.APIKey, error) {
	var rows []apiKeyRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE identity_id = ? ORDER BY created_at, id`), identityID)
	if err != nil {
		return nil, err
	}
	keys := make([]*store.APIKey, len(rows))
	for i, row := range rows {
		keys[i] = row.toDomain()
	}
	return keys, nil
}

func (r *apiKeys) Update(ctx context.Context, id string, fn func(*store.APIKey) error) (*store.APIKey, error) {
	var updated *store.APIKey
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		current, err := r.get(ctx, tx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`+forUpdate(r.db), id)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = current.ID
		next.KeyHash = current.KeyHash

		_, err = tx.NamedExecContext(ctx, `UPDATE api_keys SET
			name = :name, description = :description, permissions = :permissions,
			last_used = :last_used, active = :active
			WHERE id = :id`, toAPIKeyRow(next))
		if err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
