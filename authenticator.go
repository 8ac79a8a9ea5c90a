package identity

import (
	"context"
	"strconv"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// maxLoginProbes caps the suffix search during federated provisioning.
const maxLoginProbes = 1000

// Authenticator composes the identity collaborators into the register,
// login, refresh, update, deactivate, OAuth-login, and email-verification
// use cases. It propagates typed errors untranslated; HTTP mapping is the
// transport layer's concern.
type Authenticator struct {
	users    UserRepository
	tokens   *TokenService
	hasher   *PasswordHasher
	verifier *EmailVerifier
	oauth    OAuthProvider
	sender   EmailSender
	logger   Logger
}

// AuthOption configures the authenticator.
type AuthOption func(*Authenticator)

// WithEmailVerifier wires the email-verification orchestrator.
func WithEmailVerifier(v *EmailVerifier) AuthOption {
	return func(a *Authenticator) {
		a.verifier = v
	}
}

// WithOAuthProvider wires the federated identity provider.
func WithOAuthProvider(p OAuthProvider) AuthOption {
	return func(a *Authenticator) {
		a.oauth = p
	}
}

// WithEmailSender wires the notification boundary for welcome mail.
func WithEmailSender(s EmailSender) AuthOption {
	return func(a *Authenticator) {
		a.sender = s
	}
}

// WithLogger overrides the default logger.
func WithLogger(l Logger) AuthOption {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAuthenticator returns the orchestration core.
func NewAuthenticator(users UserRepository, tokens *TokenService, hasher *PasswordHasher, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Register creates a local identity. Validation aggregates every violated
// rule. The email existence check is advisory; the storage layer's unique
// index is authoritative and its violation also surfaces as ErrConflict.
func (a *Authenticator) Register(ctx context.Context, login, email, password string) (*User, error) {
	if violations := ValidateCredentials(login, email, password); len(violations) > 0 {
		return nil, NewValidationError(violations...)
	}

	existing, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to check for existing user")
	}
	if existing != nil {
		return nil, ErrConflict
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.New(),
		Login:        login,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}

	return a.users.Save(ctx, user)
}

// Login resolves the identifier first as email, then as login, compares
// the credential, and issues a token. Deactivated accounts are not
// rejected here; only the OAuth path enforces the active flag.
func (a *Authenticator) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	user, err := a.users.FindByEmail(ctx, identifier)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve identifier")
	}
	if user == nil {
		if user, err = a.users.FindByLogin(ctx, identifier); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve identifier")
		}
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if !a.hasher.Compare(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := a.tokens.Generate(user.ID.String())
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user, Token: token}, nil
}

// RefreshToken re-issues a token for the same subject.
func (a *Authenticator) RefreshToken(token string) (string, error) {
	return a.tokens.Refresh(token)
}

// UpdateUserRequest is a partial profile update; nil fields are untouched.
type UpdateUserRequest struct {
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

// UpdateUser resolves the acting identity from the token and persists the
// merged patch. An email change checks ownership of the new address; a
// password change enforces the update minimum length and re-hashes.
func (a *Authenticator) UpdateUser(ctx context.Context, token string, req UpdateUserRequest) (*User, error) {
	user, err := a.userFromToken(ctx, token)
	if err != nil {
		return nil, err
	}

	patch := UserPatch{}

	if req.Email != nil && *req.Email != user.Email {
		if !IsValidEmail(*req.Email) {
			return nil, NewValidationError(msgInvalidEmail)
		}
		other, err := a.users.FindByEmail(ctx, *req.Email)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to check email ownership")
		}
		if other != nil {
			return nil, ErrConflict
		}
		patch.Email = req.Email
	}

	if req.Password != nil {
		if len(*req.Password) < MinUpdatePasswordLength {
			return nil, NewValidationError("password must be at least 6 characters")
		}
		hash, err := a.hasher.Hash(*req.Password)
		if err != nil {
			return nil, err
		}
		patch.PasswordHash = &hash
	}

	return a.users.Update(ctx, user.ID.String(), patch)
}

// DeactivateUser soft-deactivates the token's identity.
func (a *Authenticator) DeactivateUser(ctx context.Context, token string) (bool, error) {
	user, err := a.userFromToken(ctx, token)
	if err != nil {
		return false, err
	}
	return a.users.Deactivate(ctx, user.ID.String())
}

// OAuthGithubLogin exchanges the authorization code for a profile,
// resolves or provisions the federated identity, and issues a token.
func (a *Authenticator) OAuthGithubLogin(ctx context.Context, code string) (*LoginResult, error) {
	if a.oauth == nil {
		return nil, errors.New("oauth provider is not configured", errors.CategoryInternal)
	}

	profile, err := a.oauth.GetUserData(ctx, code)
	if err != nil {
		return nil, err
	}

	var violations []string
	if profile == nil || profile.ID == "" {
		violations = append(violations, "federated profile is missing an id")
	}
	if profile == nil || profile.Email == "" {
		violations = append(violations, "federated profile is missing an email")
	}
	if len(violations) > 0 {
		return nil, NewValidationError(violations...)
	}

	user, err := a.users.FindByFederatedID(ctx, profile.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve federated identity")
	}

	if user == nil {
		if user, err = a.provisionFederatedUser(ctx, profile); err != nil {
			return nil, err
		}
	}

	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	token, err := a.tokens.Generate(user.ID.String())
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user, Token: token}, nil
}

// AuthorizationURL exposes the provider's authorization URL builder for
// the transport layer.
func (a *Authenticator) AuthorizationURL() (string, error) {
	if a.oauth == nil {
		return "", errors.New("oauth provider is not configured", errors.CategoryInternal)
	}
	return a.oauth.AuthorizationURL(), nil
}

// RequestEmailVerification sends a code when the identity exists and is
// not yet verified. The boolean reports throttling, not failure.
func (a *Authenticator) RequestEmailVerification(ctx context.Context, email string) (bool, error) {
	if _, err := a.verifiableUser(ctx, email); err != nil {
		return false, err
	}
	return a.verifier.SendVerificationCode(ctx, email)
}

// VerifyEmail redeems a code and flips the verified flag. The flag update
// is an independent idempotent write; it does not assume a transaction
// with the code store.
func (a *Authenticator) VerifyEmail(ctx context.Context, email, code string) (bool, error) {
	user, err := a.verifiableUser(ctx, email)
	if err != nil {
		return false, err
	}

	ok, err := a.verifier.VerifyCode(ctx, email, code)
	if err != nil || !ok {
		return false, err
	}

	if err := a.users.MarkEmailVerified(ctx, user.ID.String()); err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to mark email as verified")
	}
	return true, nil
}

func (a *Authenticator) verifiableUser(ctx context.Context, email string) (*User, error) {
	if a.verifier == nil {
		return nil, errors.New("email verifier is not configured", errors.CategoryInternal)
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve email")
	}
	if user == nil {
		return nil, NewValidationError("email is not registered")
	}
	if user.IsEmailVerified {
		return nil, NewValidationError("email is already verified")
	}
	return user, nil
}

// userFromToken is the shared token-bound resolution step. It never checks
// IsActive; callers decide whether deactivation matters for their use case.
func (a *Authenticator) userFromToken(ctx context.Context, token string) (*User, error) {
	subject, err := a.tokens.Decode(token)
	if err != nil {
		return nil, err
	}

	if _, err := uuid.Parse(subject); err != nil {
		return nil, ErrTokenMalformed
	}

	user, err := a.users.FindByID(ctx, subject)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to resolve token subject")
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// provisionFederatedUser creates an identity for a first-time federated
// login: a free login is found by suffix probing, the credential is a
// random placeholder, and the result must still pass entity validation.
func (a *Authenticator) provisionFederatedUser(ctx context.Context, profile *FederatedProfile) (*User, error) {
	login, err := a.generateUniqueLogin(ctx, federatedLoginBase(profile))
	if err != nil {
		return nil, err
	}

	placeholder := RandomPlaceholderPassword()
	if violations := ValidateCredentials(login, profile.Email, placeholder); len(violations) > 0 {
		return nil, NewValidationError(violations...)
	}

	hash, err := a.hasher.Hash(placeholder)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:              uuid.New(),
		Login:           login,
		Email:           profile.Email,
		PasswordHash:    hash,
		IsActive:        true,
		IsEmailVerified: false,
		FederatedID:     profile.ID,
	}

	created, err := a.users.Save(ctx, user)
	if err != nil {
		return nil, err
	}

	if a.sender != nil {
		name := profile.DisplayName
		if name == "" {
			name = created.Login
		}
		if _, err := a.sender.SendWelcome(ctx, created.Email, name); err != nil {
			a.logger.Error("failed to send welcome email to %s: %s", created.Email, err)
		}
	}

	return created, nil
}

// generateUniqueLogin probes base, base1, base2, … against the repository
// until a free login is found or the ceiling is hit.
func (a *Authenticator) generateUniqueLogin(ctx context.Context, base string) (string, error) {
	for i := 0; i < maxLoginProbes; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}

		existing, err := a.users.FindByLogin(ctx, candidate)
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryInternal, "failed to probe login availability")
		}
		if existing == nil {
			return candidate, nil
		}
	}
	return "", ErrLoginGenerationExhausted
}

// federatedLoginBase derives a valid desired login from the profile:
// provider login first, then the email local part, then a provider-scoped
// fallback. Provider logins may carry characters the entity forbids.
func federatedLoginBase(profile *FederatedProfile) string {
	if base := sanitizeLogin(profile.Login); IsValidLogin(base) {
		return base
	}
	if at := strings.IndexByte(profile.Email, '@'); at > 0 {
		if base := sanitizeLogin(profile.Email[:at]); IsValidLogin(base) {
			return base
		}
	}
	return sanitizeLogin("github_" + profile.ID)
}

func sanitizeLogin(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-', r == '.', r == ' ':
			b.WriteByte('_')
		}
	}
	return b.String()
}
