package identity

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the durable identity record. Login, Email, and FederatedID are
// each globally unique; uniqueness is ultimately enforced by the storage
// layer (unique indexes), not by the orchestration checks.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID              uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Login           string     `bun:"login,notnull,unique" json:"login,omitempty"`
	Email           string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash    string     `bun:"password_hash" json:"-"`
	IsActive        bool       `bun:"is_active,notnull,default:true" json:"is_active"`
	IsEmailVerified bool       `bun:"is_email_verified,notnull,default:false" json:"is_email_verified"`
	FederatedID     string     `bun:"federated_id,nullzero,unique" json:"federated_id,omitempty"`
	CreatedAt       *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// LoginResult is the transient value returned by the login use cases.
type LoginResult struct {
	User  *User  `json:"user"`
	Token string `json:"access_token"`
}

// FederatedProfile is the normalized profile fetched from an OAuth
// provider. It is never persisted; it folds into a User at first login.
type FederatedProfile struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// VerificationCode is the outstanding email-verification state for one
// address. One code per email; a new send overwrites the previous one.
type VerificationCode struct {
	Email     string
	Code      string
	ExpiresAt time.Time
	Attempts  int
	CreatedAt time.Time
}

// Expired reports whether the code is past its expiry at the given time.
func (v *VerificationCode) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

var loginPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
var uppercasePattern = regexp.MustCompile(`[A-Z]`)
var digitPattern = regexp.MustCompile(`[0-9]`)

// MinRegistrationPasswordLength applies at registration; profile updates
// use the weaker MinUpdatePasswordLength.
const (
	MinRegistrationPasswordLength = 8
	MinUpdatePasswordLength       = 6
	MinLoginLength                = 3
)

const (
	msgInvalidLogin    = "login must be at least 3 characters of letters, numbers, or underscores"
	msgInvalidEmail    = "email must be a valid email address"
	msgInvalidPassword = "password must be at least 8 characters with an uppercase letter and a digit"
)

// IsValidLogin reports whether login satisfies the identity invariants.
func IsValidLogin(login string) bool {
	return validation.Validate(login,
		validation.Required,
		validation.Length(MinLoginLength, 0),
		validation.Match(loginPattern),
	) == nil
}

// IsValidEmail reports whether email is RFC-shaped.
func IsValidEmail(email string) bool {
	return validation.Validate(email,
		validation.Required,
		is.Email,
	) == nil
}

// IsValidPassword applies the registration password policy.
func IsValidPassword(password string) bool {
	return validation.Validate(password,
		validation.Required,
		validation.Length(MinRegistrationPasswordLength, 0),
		validation.Match(uppercasePattern),
		validation.Match(digitPattern),
	) == nil
}

// ValidateCredentials returns every violated rule as a human-readable
// message, in login, email, password order. Empty means valid.
func ValidateCredentials(login, email, password string) []string {
	var violations []string
	if !IsValidLogin(login) {
		violations = append(violations, msgInvalidLogin)
	}
	if !IsValidEmail(email) {
		violations = append(violations, msgInvalidEmail)
	}
	if !IsValidPassword(password) {
		violations = append(violations, msgInvalidPassword)
	}
	return violations
}

// IsValidUser is true iff ValidateCredentials reports no violations.
func IsValidUser(login, email, password string) bool {
	return len(ValidateCredentials(login, email, password)) == 0
}
