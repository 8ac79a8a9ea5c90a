package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// DefaultTokenTTL is the fixed session token lifetime.
const DefaultTokenTTL = 24 * time.Hour

// TokenService issues and validates HS256 bearer tokens carrying an
// identity id as subject. Validity is proven cryptographically; nothing
// is stored.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	logger     Logger
}

// TokenOption configures the token service.
type TokenOption func(*TokenService)

// WithTokenTTL overrides the default 24h expiry.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.ttl = ttl
		}
	}
}

// WithClock overrides the time source, used by tests to drive expiry.
func WithClock(now func() time.Time) TokenOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithTokenLogger overrides the default logger.
func WithTokenLogger(l Logger) TokenOption {
	return func(ts *TokenService) {
		if l != nil {
			ts.logger = l
		}
	}
}

// NewTokenService builds a token service. The signing key is mandatory
// configuration; an empty key is a startup error.
func NewTokenService(signingKey []byte, issuer string, opts ...TokenOption) (*TokenService, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("token signing key is not configured", errors.CategoryInternal)
	}

	ts := &TokenService{
		signingKey: signingKey,
		issuer:     issuer,
		ttl:        DefaultTokenTTL,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts, nil
}

// Generate mints a signed token for the given subject identity id.
func (ts *TokenService) Generate(subjectID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("token subject must not be empty", errors.CategoryBadInput)
	}

	now := ts.now()
	claims := &jwt.RegisteredClaims{
		Issuer:    ts.issuer,
		Subject:   subjectID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign token")
	}
	return signed, nil
}

// Verify performs the signature and expiry check only, swallowing all
// cryptographic failure detail into a boolean.
func (ts *TokenService) Verify(raw string) bool {
	_, err := ts.Decode(raw)
	return err == nil
}

// Decode re-verifies the token and extracts its subject. Failures are
// typed so callers can distinguish expired, malformed, and not-yet-valid
// tokens for user messaging.
func (ts *TokenService) Decode(raw string) (string, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
			return "", ErrTokenNotYetValid
		default:
			return "", ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		ts.logger.Error("token decode produced no usable claims")
		return "", ErrTokenMalformed
	}

	return claims.Subject, nil
}

// Refresh re-issues a token for the same subject when the input still
// decodes successfully.
func (ts *TokenService) Refresh(raw string) (string, error) {
	subject, err := ts.Decode(raw)
	if err != nil {
		return "", errors.Wrap(err, ErrRefreshFailed.Category, ErrRefreshFailed.Message).
			WithTextCode(TextCodeRefreshFailed).
			WithCode(errors.CodeUnauthorized)
	}
	return ts.Generate(subject)
}
