package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/authcore/store"
	"github.com/jmoiron/sqlx"
)

type identities struct {
	db *sqlx.DB
}

type identityRow struct {
	ID            string         `db:"id"`
	Email         string         `db:"email"`
	PasswordHash  string         `db:"password_hash"`
	FirstName     string         `db:"first_name"`
	LastName      string         `db:"last_name"`
	Phone         sql.NullString `db:"phone"`
	EmailVerified bool           `db:"email_verified"`
	PhoneVerified bool           `db:"phone_verified"`
	Active        bool           `db:"active"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

type questionRow struct {
	Question   string `db:"question"`
	AnswerHash string `db:"answer_hash"`
}

const identityColumns = `id, email, password_hash, first_name, last_name, phone,
	email_verified, phone_verified, active, created_at, updated_at`

func toIdentityRow(i *store.Identity) identityRow {
	return identityRow{
		ID:            i.ID,
		Email:         i.Email,
		PasswordHash:  i.PasswordHash,
		FirstName:     i.FirstName,
		LastName:      i.LastName,
		Phone:         sql.NullString{String: i.Phone, Valid: i.Phone != ""},
		EmailVerified: i.EmailVerified,
		PhoneVerified: i.PhoneVerified,
		Active:        i.Active,
		CreatedAt:     toNanos(i.CreatedAt),
		UpdatedAt:     toNanos(i.UpdatedAt),
	}
}

func (row identityRow) toDomain(questions []questionRow) *store.Identity {
	i := &store.Identity{
		ID:            row.ID,
		Email:         row.Email,
		PasswordHash:  row.PasswordHash,
		FirstName:     row.FirstName,
		LastName:      row.LastName,
		Phone:         row.Phone.String,
		EmailVerified: row.EmailVerified,
		PhoneVerified: row.PhoneVerified,
		Active:        row.Active,
		CreatedAt:     fromNanos(row.CreatedAt),
		UpdatedAt:     fromNanos(row.UpdatedAt),
	}
	if len(questions) > 0 {
		i.SecurityQuestions = make([]store.SecurityQuestion, len(questions))
		for j, q := range questions {
			i.SecurityQuestions[j] = store.SecurityQuestion{Question: q.Question, AnswerHash: q.AnswerHash}
		}
	}
	return i
}

func (r *identities) Create(ctx context.Context, identity *store.Identity) error {
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO identities (`+identityColumns+`)
			VALUES (:id, :email, :password_hash, :first_name, :last_name, :phone,
			:email_verified, :phone_verified, :active, :created_at, :updated_at)`, toIdentityRow(identity))
		if err != nil {
			return err
		}
		return insertQuestions(ctx, tx, identity.ID, identity.SecurityQuestions)
	})
	return classify(err)
}

func insertQuestions(ctx context.Context, tx *sqlx.Tx, identityID string, questions []store.SecurityQuestion) error {
	q := tx.Rebind(`INSERT INTO security_questions (identity_id, ordinal, question, answer_hash) VALUES (?, ?, ?, ?)`)
	for i, sq := range questions {
		if _, err := tx.ExecContext(ctx, q, identityID, i, sq.Question, sq.AnswerHash); err != nil {
			return err
		}
	}
	return nil
}

func (r *identities) GetByID(ctx context.Context, id string) (*store.Identity, error) {
	return r.get(ctx, r.db, `SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
}

func (r *identities) GetByEmail(ctx context.Context, email string) (*store.Identity, error) {
	return r.get(ctx, r.db, `SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)
}

func (r *identities) get(ctx context.Context, q sqlx.QueryerContext, query string, arg string) (*store.Identity, error) {
	var row identityRow
	if err := sqlx.GetContext(ctx, q, &row, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var questions []questionRow
	err := sqlx.SelectContext(ctx, q, &questions, r.db.Rebind(
		`SELECT question, answer_hash FROM security_questions WHERE identity_id = ? ORDER BY ordinal`), row.ID)
	if err != nil {
		return nil, err
	}
	return row.toDomain(questions), nil
}

func (r *identities) Update(ctx context.Context, id string, fn func(*store.Identity) error) (*store.Identity, error) {
	var updated *store.Identity
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		current, err := r.get(ctx, tx, `SELECT `+identityColumns+` FROM identities WHERE id = ?`+forUpdate(r.db), id)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = current.ID
		next.Email = current.Email

		_, err = tx.NamedExecContext(ctx, `UPDATE identities SET
			password_hash = :password_hash, first_name = :first_name, last_name = :last_name,
			phone = :phone, email_verified = :email_verified, phone_verified = :phone_verified,
			active = :active, updated_at = :updated_at
			WHERE id = :id`, toIdentityRow(next))
		if err != nil {
			return classify(err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM security_questions WHERE identity_id = ?`), id); err != nil {
			return err
		}
		if err := insertQuestions(ctx, tx, id, next.SecurityQuestions); err != nil {
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

func (r *identities) AppendLoginEvent(ctx context.Context, event store.LoginEvent) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO login_events (identity_id, address, user_agent, occurred_at) VALUES (?, ?, ?, ?)`),
		event.IdentityID, event.Address, event.UserAgent, toNanos(event.At))
	return classify(err)
}

func (r *identities) LoginHistory(ctx context.Context, identityID string, limit int) ([]store.LoginEvent, error) {
	query := `SELECT identity_id, address, user_agent, occurred_at FROM login_events
		WHERE identity_id = ? ORDER BY occurred_at DESC`
	args := []any{identityID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []struct {
		IdentityID string `db:"identity_id"`
		Address    string `db:"address"`
		UserAgent  string `db:"user_agent"`
		OccurredAt int64  `db:"occurred_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	events := make([]store.LoginEvent, len(rows))
	for i, row := range rows {
		events[i] = store.LoginEvent{
			IdentityID: row.IdentityID,
			Address:    row.Address,
			UserAgent:  row.UserAgent,
			At:         fromNanos(row.OccurredAt),
		}
	}
	return events, nil
}
