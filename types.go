package identity

import (
	"context"
	"fmt"
	"time"
)

// Logger is the minimal logging surface threaded through constructors.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// UserRepository is the persistence boundary for identity records.
// Lookups return (nil, nil) when no record matches; a non-nil error means
// the storage layer itself failed.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByLogin(ctx context.Context, login string) (*User, error)
	FindByFederatedID(ctx context.Context, federatedID string) (*User, error)
	Save(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, id string, patch UserPatch) (*User, error)
	MarkEmailVerified(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) (bool, error)
}

// UserPatch is a partial identity update; nil fields are left untouched.
type UserPatch struct {
	Email        *string
	PasswordHash *string
}

// VerificationStore is the persistence boundary for outstanding
// verification codes and send-rate bookkeeping.
type VerificationStore interface {
	// SaveCode upserts the outstanding code for email, resetting attempts.
	SaveCode(ctx context.Context, email, code string, expiresAt time.Time) error
	// FindCode returns (nil, nil) when no code is outstanding.
	FindCode(ctx context.Context, email string) (*VerificationCode, error)
	IncrementAttempts(ctx context.Context, email string) error
	DeleteCode(ctx context.Context, email string) error
	// CountRecentAttempts counts codes sent to email in the trailing window.
	CountRecentAttempts(ctx context.Context, email string, window time.Duration) (int, error)
	// LastSentAt returns nil when nothing was ever sent to email.
	LastSentAt(ctx context.Context, email string) (*time.Time, error)
}

// EmailSender is the outbound notification boundary. The boolean mirrors
// the dispatcher's own success report; an error means the dispatch
// transport failed.
type EmailSender interface {
	SendVerificationCode(ctx context.Context, email, code string) (bool, error)
	SendWelcome(ctx context.Context, email, displayName string) (bool, error)
	SendPasswordReset(ctx context.Context, email, token string) (bool, error)
}

// OAuthProvider is the federated identity boundary: it exchanges an
// authorization code for a normalized profile.
type OAuthProvider interface {
	GetUserData(ctx context.Context, code string) (*FederatedProfile, error)
	AuthorizationURL() string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
