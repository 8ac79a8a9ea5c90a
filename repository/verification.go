package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/keyhaven/go-identity"
)

// EmailVerification is the single outstanding code for an address. A new
// send replaces the row, so at most one code per email is redeemable.
type EmailVerification struct {
	bun.BaseModel `bun:"table:email_verifications,alias:evc"`

	Email     string    `bun:"email,pk"`
	Code      string    `bun:"code,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	Attempts  int       `bun:"attempts,notnull,default:0"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// VerificationSend is one dispatch event. The rows are append-only so the
// trailing-window send count stays accurate across code overwrites.
type VerificationSend struct {
	bun.BaseModel `bun:"table:verification_sends,alias:vsn"`

	ID     int64     `bun:"id,pk,autoincrement"`
	Email  string    `bun:"email,notnull"`
	SentAt time.Time `bun:"sent_at,notnull"`
}

// Verifications is the bun-backed identity.VerificationStore.
type Verifications struct {
	db  *bun.DB
	now func() time.Time
}

var _ identity.VerificationStore = (*Verifications)(nil)

// NewVerifications builds the verification store over db.
func NewVerifications(db *bun.DB) *Verifications {
	return &Verifications{db: db, now: time.Now}
}

// SaveCode upserts the outstanding code for email, resetting the attempt
// counter, and records the send event for throttling.
func (r *Verifications) SaveCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	now := r.now()

	record := &EmailVerification{
		Email:     email,
		Code:      code,
		ExpiresAt: expiresAt,
		Attempts:  0,
		CreatedAt: now,
	}

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(record).
			On("CONFLICT (email) DO UPDATE").
			Set("code = EXCLUDED.code").
			Set("expires_at = EXCLUDED.expires_at").
			Set("attempts = 0").
			Set("created_at = EXCLUDED.created_at").
			Exec(ctx); err != nil {
			return err
		}

		_, err := tx.NewInsert().
			Model(&VerificationSend{Email: email, SentAt: now}).
			Exec(ctx)
		return err
	})

	return err
}

// FindCode returns the outstanding code for email, (nil, nil) when none.
func (r *Verifications) FindCode(ctx context.Context, email string) (*identity.VerificationCode, error) {
	record := &EmailVerification{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &identity.VerificationCode{
		Email:     record.Email,
		Code:      record.Code,
		ExpiresAt: record.ExpiresAt,
		Attempts:  record.Attempts,
		CreatedAt: record.CreatedAt,
	}, nil
}

// IncrementAttempts bumps the failed-attempt counter on the outstanding
// code.
func (r *Verifications) IncrementAttempts(ctx context.Context, email string) error {
	_, err := r.db.NewUpdate().
		Model((*EmailVerification)(nil)).
		Where("?TableAlias.email = ?", email).
		Set("attempts = attempts + 1").
		Exec(ctx)
	return err
}

// DeleteCode consumes the outstanding code. Deleting a missing code is
// not an error.
func (r *Verifications) DeleteCode(ctx context.Context, email string) error {
	_, err := r.db.NewDelete().
		Model((*EmailVerification)(nil)).
		Where("?TableAlias.email = ?", email).
		Exec(ctx)
	return err
}

// CountRecentAttempts counts dispatch events for email in the trailing
// window.
func (r *Verifications) CountRecentAttempts(ctx context.Context, email string, window time.Duration) (int, error) {
	cutoff := r.now().Add(-window)
	return r.db.NewSelect().
		Model((*VerificationSend)(nil)).
		Where("?TableAlias.email = ?", email).
		Where("?TableAlias.sent_at > ?", cutoff).
		Count(ctx)
}

// LastSentAt returns the newest dispatch time for email, nil when nothing
// was ever sent.
func (r *Verifications) LastSentAt(ctx context.Context, email string) (*time.Time, error) {
	record := &VerificationSend{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Order("sent_at DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &record.SentAt, nil
}

// CreateTables creates the identity schema when it does not exist yet.
// Intended for sqlite deployments and tests; managed databases migrate
// out of band.
func CreateTables(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*identity.User)(nil),
		(*EmailVerification)(nil),
		(*VerificationSend)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
