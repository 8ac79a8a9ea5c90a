// Package repository implements the bun-backed persistence for identities
// and verification codes. Uniqueness of login, email, and federated id is
// enforced by unique indexes; driver unique violations surface as the
// core's conflict error.
package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/keyhaven/go-identity"
)

// Users is the bun-backed identity.UserRepository.
type Users struct {
	repository.Repository[*identity.User]
	db *bun.DB
}

var _ identity.UserRepository = (*Users)(nil)

// NewUsers builds the user repository over db.
func NewUsers(db *bun.DB) *Users {
	repo := repository.NewRepository[*identity.User](db, repository.ModelHandlers[*identity.User]{
		NewRecord: func() *identity.User { return &identity.User{} },
		GetID: func(u *identity.User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *identity.User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &Users{
		Repository: repo,
		db:         db,
	}
}

// FindByID resolves an identity by primary key, (nil, nil) when absent.
func (r *Users) FindByID(ctx context.Context, id string) (*identity.User, error) {
	return r.findByColumn(ctx, "id", id)
}

// FindByEmail resolves an identity by email, (nil, nil) when absent.
func (r *Users) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.findByColumn(ctx, "email", email)
}

// FindByLogin resolves an identity by login, (nil, nil) when absent.
func (r *Users) FindByLogin(ctx context.Context, login string) (*identity.User, error) {
	return r.findByColumn(ctx, "login", login)
}

// FindByFederatedID resolves an identity by its provider binding,
// (nil, nil) when absent.
func (r *Users) FindByFederatedID(ctx context.Context, federatedID string) (*identity.User, error) {
	if federatedID == "" {
		return nil, nil
	}
	return r.findByColumn(ctx, "federated_id", federatedID)
}

func (r *Users) findByColumn(ctx context.Context, column, value string) (*identity.User, error) {
	record := &identity.User{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows || repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// Save inserts a new identity. A unique index violation is reported as
// the core conflict error so callers need no driver knowledge.
func (r *Users) Save(ctx context.Context, user *identity.User) (*identity.User, error) {
	created, err := r.Repository.CreateTx(ctx, r.db, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, identity.ErrConflict
		}
		return nil, err
	}
	return created, nil
}

// Update applies a partial update and returns the stored record.
func (r *Users) Update(ctx context.Context, id string, patch identity.UserPatch) (*identity.User, error) {
	q := r.db.NewUpdate().
		Model((*identity.User)(nil)).
		Where("?TableAlias.id = ?", id).
		Set("updated_at = current_timestamp")

	if patch.Email != nil {
		q.Set("email = ?", *patch.Email)
		// a changed address needs to be proven again
		q.Set("is_email_verified = ?", false)
	}
	if patch.PasswordHash != nil {
		q.Set("password_hash = ?", *patch.PasswordHash)
	}

	if _, err := q.Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, identity.ErrConflict
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to update user")
	}

	updated, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, identity.ErrUserNotFound
	}
	return updated, nil
}

// MarkEmailVerified flips the verified flag. Re-marking an already
// verified identity is a no-op, not an error.
func (r *Users) MarkEmailVerified(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*identity.User)(nil)).
		Where("?TableAlias.id = ?", id).
		Set("is_email_verified = ?", true).
		Set("updated_at = current_timestamp").
		Exec(ctx)
	return err
}

// Deactivate clears the active flag, reporting whether a row changed.
func (r *Users) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*identity.User)(nil)).
		Where("?TableAlias.id = ?", id).
		Set("is_active = ?", false).
		Set("updated_at = current_timestamp").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// isUniqueViolation matches the sqlite and postgres driver messages for a
// unique index violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
