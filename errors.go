package identity

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeValidationFailed   = "identity_validation_failed"
	TextCodeConflict           = "identity_conflict"
	TextCodeNotFound           = "identity_not_found"
	TextCodeInvalidCredentials = "invalid_credentials"
	TextCodeTokenExpired       = "token_expired"
	TextCodeTokenMalformed     = "token_malformed"
	TextCodeTokenNotYetValid   = "token_not_yet_valid"
	TextCodeDeactivated        = "account_deactivated"
	TextCodeRefreshFailed      = "token_refresh_failed"
	TextCodeLoginExhausted     = "login_generation_exhausted"
	TextCodeDispatchFailed     = "email_dispatch_failed"
	TextCodeOAuthExchange      = "oauth_exchange_failed"
	TextCodeOAuthProfile       = "oauth_profile_failed"
)

// ErrConflict is returned when a login, email, or federated id is already
// bound to another identity.
var ErrConflict = errors.New("identity already exists", errors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(errors.CodeConflict)

// ErrUserNotFound is returned when no identity resolves for a lookup.
var ErrUserNotFound = errors.New("user not found", errors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidCredentials is returned when a password comparison fails.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned when a token is past its expiry.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for unparseable or wrongly signed tokens.
var ErrTokenMalformed = errors.New("token is malformed or has an invalid signature", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrTokenNotYetValid is returned when a token's validity window has not
// started, typically clock skew between issuer and verifier.
var ErrTokenNotYetValid = errors.New("token is not valid yet", errors.CategoryAuth).
	WithTextCode(TextCodeTokenNotYetValid).
	WithCode(errors.CodeUnauthorized)

// ErrAccountDeactivated is returned when a resolved identity is inactive.
var ErrAccountDeactivated = errors.New("user account is deactivated", errors.CategoryAuth).
	WithTextCode(TextCodeDeactivated).
	WithCode(errors.CodeUnauthorized)

// ErrRefreshFailed is returned when a replacement token cannot be minted.
var ErrRefreshFailed = errors.New("unable to refresh token", errors.CategoryAuth).
	WithTextCode(TextCodeRefreshFailed).
	WithCode(errors.CodeUnauthorized)

// ErrLoginGenerationExhausted is returned when federated provisioning
// cannot find a free login within the probe ceiling.
var ErrLoginGenerationExhausted = errors.New("unable to generate a unique login", errors.CategoryConflict).
	WithTextCode(TextCodeLoginExhausted).
	WithCode(errors.CodeConflict)

// ErrDispatchFailed is returned when a verification code was persisted but
// the email dispatch reported failure. An undelivered code is a
// correctness problem the caller must know about.
var ErrDispatchFailed = errors.New("failed to dispatch email", errors.CategoryInternal).
	WithTextCode(TextCodeDispatchFailed).
	WithCode(errors.CodeInternal)

// ErrOAuthExchange is returned when the provider token exchange fails.
var ErrOAuthExchange = errors.New("oauth code exchange failed", errors.CategoryAuth).
	WithTextCode(TextCodeOAuthExchange).
	WithCode(errors.CodeUnauthorized)

// ErrOAuthProfile is returned when the provider profile fetch fails.
var ErrOAuthProfile = errors.New("oauth profile fetch failed", errors.CategoryAuth).
	WithTextCode(TextCodeOAuthProfile).
	WithCode(errors.CodeUnauthorized)

// NewValidationError aggregates every violated rule into one typed error.
// The violation list is preserved, in order, under metadata.
func NewValidationError(violations ...string) *errors.Error {
	return errors.New(strings.Join(violations, "; "), errors.CategoryValidation).
		WithTextCode(TextCodeValidationFailed).
		WithCode(errors.CodeBadRequest).
		WithMetadata(map[string]any{"violations": violations})
}

// IsValidationError checks for the aggregated validation error.
func IsValidationError(err error) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.Category == errors.CategoryValidation
}

// ViolationsFromError extracts the ordered violation list, if present.
func ViolationsFromError(err error) []string {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.Metadata == nil {
		return nil
	}
	if v, ok := richErr.Metadata["violations"].([]string); ok {
		return v
	}
	return nil
}
