package identity

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memUserRepo struct {
	users map[string]*User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*User{}}
}

func (m *memUserRepo) FindByID(_ context.Context, id string) (*User, error) {
	if u, ok := m.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, nil
}

func (m *memUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByLogin(_ context.Context, login string) (*User, error) {
	for _, u := range m.users {
		if u.Login == login {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByFederatedID(_ context.Context, federatedID string) (*User, error) {
	if federatedID == "" {
		return nil, nil
	}
	for _, u := range m.users {
		if u.FederatedID == federatedID {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) Save(_ context.Context, user *User) (*User, error) {
	for _, u := range m.users {
		if u.Login == user.Login || u.Email == user.Email ||
			(user.FederatedID != "" && u.FederatedID == user.FederatedID) {
			return nil, ErrConflict
		}
	}
	clone := *user
	m.users[user.ID.String()] = &clone
	out := clone
	return &out, nil
}

func (m *memUserRepo) Update(_ context.Context, id string, patch UserPatch) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if patch.Email != nil {
		u.Email = *patch.Email
		u.IsEmailVerified = false
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	clone := *u
	return &clone, nil
}

func (m *memUserRepo) MarkEmailVerified(_ context.Context, id string) error {
	if u, ok := m.users[id]; ok {
		u.IsEmailVerified = true
	}
	return nil
}

func (m *memUserRepo) Deactivate(_ context.Context, id string) (bool, error) {
	if u, ok := m.users[id]; ok {
		u.IsActive = false
		return true, nil
	}
	return false, nil
}

type fakeProvider struct {
	profile *FederatedProfile
	err     error
	authURL string
}

func (f *fakeProvider) GetUserData(context.Context, string) (*FederatedProfile, error) {
	return f.profile, f.err
}

func (f *fakeProvider) AuthorizationURL() string { return f.authURL }

type recordedMail struct {
	kind  string
	email string
	value string
}

type fakeSender struct {
	delivered bool
	err       error
	sent      []recordedMail
}

func newFakeSender() *fakeSender {
	return &fakeSender{delivered: true}
}

func (f *fakeSender) SendVerificationCode(_ context.Context, email, code string) (bool, error) {
	f.sent = append(f.sent, recordedMail{kind: "code", email: email, value: code})
	return f.delivered, f.err
}

func (f *fakeSender) SendWelcome(_ context.Context, email, displayName string) (bool, error) {
	f.sent = append(f.sent, recordedMail{kind: "welcome", email: email, value: displayName})
	return f.delivered, f.err
}

func (f *fakeSender) SendPasswordReset(_ context.Context, email, token string) (bool, error) {
	f.sent = append(f.sent, recordedMail{kind: "reset", email: email, value: token})
	return f.delivered, f.err
}

func newTestAuthenticator(t *testing.T, opts ...AuthOption) (*Authenticator, *memUserRepo) {
	t.Helper()

	repo := newMemUserRepo()
	hasher, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := NewTokenService([]byte("test-signing-key"), "identity-test")
	require.NoError(t, err)

	return NewAuthenticator(repo, tokens, hasher, opts...), repo
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an active unverified user with a hashed credential", func(t *testing.T) {
		auth, _ := newTestAuthenticator(t)

		user, err := auth.Register(ctx, "alice", "alice@example.com", "Passw0rd")
		require.NoError(t, err)
		require.NotNil(t, user)

		assert.Equal(t, "alice", user.Login)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.True(t, user.IsActive)
		assert.False(t, user.IsEmailVerified)
		assert.NotEqual(t, "Passw0rd", user.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("Passw0rd")))
	})

	t.Run("aggregates every violated rule in order", func(t *testing.T) {
		auth, _ := newTestAuthenticator(t)

		_, err := auth.Register(ctx, "a!", "not-an-email", "short")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		violations := ViolationsFromError(err)
		require.Len(t, violations, 3)
		assert.Contains(t, violations[0], "login")
		assert.Contains(t, violations[1], "email")
		assert.Contains(t, violations[2], "password")
	})

	t.Run("rejects a duplicate email", func(t *testing.T) {
		auth, _ := newTestAuthenticator(t)

		_, err := auth.Register(ctx, "alice", "alice@example.com", "Passw0rd")
		require.NoError(t, err)

		_, err = auth.Register(ctx, "alice2", "alice@example.com", "Passw0rd")
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) (*Authenticator, *memUserRepo, *User) {
		auth, repo := newTestAuthenticator(t)
		user, err := auth.Register(ctx, "alice", "alice@example.com", "Passw0rd")
		require.NoError(t, err)
		return auth, repo, user
	}

	t.Run("resolves by email and issues a decodable token", func(t *testing.T) {
		auth, _, user := seed(t)

		result, err := auth.Login(ctx, "alice@example.com", "Passw0rd")
		require.NoError(t, err)
		require.NotNil(t, result.User)
		assert.Equal(t, user.ID, result.User.ID)

		subject, err := auth.tokens.Decode(result.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), subject)
	})

	t.Run("resolves by login when the identifier is not an email", func(t *testing.T) {
		auth, _, user := seed(t)

		result, err := auth.Login(ctx, "alice", "Passw0rd")
		require.NoError(t, err)
		assert.Equal(t, user.ID, result.User.ID)
	})

	t.Run("unknown identifier is not found", func(t *testing.T) {
		auth, _, _ := seed(t)

		_, err := auth.Login(ctx, "nobody@example.com", "Passw0rd")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("wrong password is invalid credentials, not not-found", func(t *testing.T) {
		auth, _, _ := seed(t)

		_, err := auth.Login(ctx, "alice@example.com", "WrongPass1")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("a deactivated user can still log in with a password", func(t *testing.T) {
		auth, repo, user := seed(t)
		repo.users[user.ID.String()].IsActive = false

		_, err := auth.Login(ctx, "alice@example.com", "Passw0rd")
		assert.NoError(t, err)
	})
}

func TestRefreshToken(t *testing.T) {
	ctx := context.Background()
	auth, _ := newTestAuthenticator(t)

	user, err := auth.Register(ctx, "alice", "alice@example.com", "Passw0rd")
	require.NoError(t, err)

	result, err := auth.Login(ctx, "alice", "Passw0rd")
	require.NoError(t, err)

	refreshed, err := auth.RefreshToken(result.Token)
	require.NoError(t, err)

	subject, err := auth.tokens.Decode(refreshed)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), subject)

	_, err = auth.RefreshToken("not-a-token")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, TextCodeRefreshFailed, richErr.TextCode)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) (*Authenticator, *memUserRepo, string) {
		auth, repo := newTestAuthenticator(t)
		_, err := auth.Register(ctx, "alice", "alice@example.com", "Passw0rd")
		require.NoError(t, err)
		result, err := auth.Login(ctx, "alice", "Passw0rd")
		require.NoError(t, err)
		return auth, repo, result.Token
	}

	t.Run("changes the email", func(t *testing.T) {
		auth, _, token := seed(t)

		email := "new@example.com"
		user, err := auth.UpdateUser(ctx, token, UpdateUserRequest{Email: &email})
		require.NoError(t, err)
		assert.Equal(t, email, user.Email)
	})

	t.Run("rejects an email owned by someone else", func(t *testing.T) {
		auth, _, token := seed(t)
		_, err := auth.Register(ctx, "bob", "bob@example.com", "Passw0rd")
		require.NoError(t, err)

		email := "bob@example.com"
		_, err = auth.UpdateUser(ctx, token, UpdateUserRequest{Email: &email})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("accepts a six character password on update", func(t *testing.T) {
		auth, _, token := seed(t)

		password := "abc123"
		_, err := auth.UpdateUser(ctx, token, UpdateUserRequest{Password: &password})
		require.NoError(t, err)

		_, err = auth.Login(ctx, "alice", "abc123")
		assert.NoError(t, err)
	})

	t.Run("rejects a password under six characters", func(t *testing.T) {
		auth, _, token := seed(t)

		password := "abc12"
		_, err := auth.UpdateUser(ctx, token, UpdateUserRequest{Password: &password})
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		auth, _, _ := seed(t)

		email := "x@example.com"
		_, err := auth.UpdateUser(ctx, "garbage", UpdateUserRequest{Email: &email})
		assert.ErrorIs(t, err, ErrTokenMalformed)
	})

	t.Run("rejects a token for a deleted user", func(t *testing.T) {
		auth, repo, token := seed(t)
		for id := range repo.users {
			delete(repo.users, id)
		}

		email := "x@example.com"
		_, err := auth.UpdateUser(ctx, token, UpdateUserRequest{Email: &email})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestDeactivateUser(t *testing.T) {
	ctx := context.Background()
	auth, repo := newTestAuthenticator(t)

	user, err := auth.Register(ctx, "alice", "alice@example.com", "Passw0rd")
	require.NoError(t, err)
	result, err := auth.Login(ctx, "alice", "Passw0rd")
	require.NoError(t, err)

	ok, err := auth.DeactivateUser(ctx, result.Token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, repo.users[user.ID.String()].IsActive)

	// idempotent at the orchestration level
	ok, err = auth.DeactivateUser(ctx, result.Token)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOAuthGithubLogin(t *testing.T) {
	ctx := context.Background()

	profile := func() *FederatedProfile {
		return &FederatedProfile{
			ID:          "12345",
			Login:       "octocat",
			Email:       "octo@example.com",
			DisplayName: "Octo Cat",
		}
	}

	t.Run("provisions a new identity on first login", func(t *testing.T) {
		sender := newFakeSender()
		auth, repo := newTestAuthenticator(t,
			WithOAuthProvider(&fakeProvider{profile: profile()}),
			WithEmailSender(sender),
		)

		result, err := auth.OAuthGithubLogin(ctx, "code")
		require.NoError(t, err)

		user := result.User
		assert.Equal(t, "octocat", user.Login)
		assert.Equal(t, "octo@example.com", user.Email)
		assert.Equal(t, "12345", user.FederatedID)
		assert.True(t, user.IsActive)
		assert.False(t, user.IsEmailVerified)
		assert.NotEmpty(t, user.PasswordHash)
		assert.Len(t, repo.users, 1)

		require.Len(t, sender.sent, 1)
		assert.Equal(t, "welcome", sender.sent[0].kind)
		assert.Equal(t, "Octo Cat", sender.sent[0].value)

		subject, err := auth.tokens.Decode(result.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), subject)
	})

	t.Run("second login reuses the identity", func(t *testing.T) {
		auth, repo := newTestAuthenticator(t, WithOAuthProvider(&fakeProvider{profile: profile()}))

		first, err := auth.OAuthGithubLogin(ctx, "code")
		require.NoError(t, err)
		second, err := auth.OAuthGithubLogin(ctx, "code")
		require.NoError(t, err)

		assert.Equal(t, first.User.ID, second.User.ID)
		assert.Len(t, repo.users, 1)
	})

	t.Run("suffixes the login when taken", func(t *testing.T) {
		auth, _ := newTestAuthenticator(t, WithOAuthProvider(&fakeProvider{profile: profile()}))

		_, err := auth.Register(ctx, "octocat", "other@example.com", "Passw0rd")
		require.NoError(t, err)
		_, err = auth.Register(ctx, "octocat1", "other2@example.com", "Passw0rd")
		require.NoError(t, err)

		result, err := auth.OAuthGithubLogin(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, "octocat2", result.User.Login)
	})

	t.Run("gives up after the probe ceiling", func(t *testing.T) {
		auth, repo := newTestAuthenticator(t, WithOAuthProvider(&fakeProvider{profile: profile()}))

		for i := 0; i < maxLoginProbes; i++ {
			login := "octocat"
			if i > 0 {
				login = "octocat" + strconv.Itoa(i)
			}
			u := &User{ID: uuid.New(), Login: login, Email: fmt.Sprintf("u%d@example.com", i)}
			repo.users[u.ID.String()] = u
		}

		_, err := auth.OAuthGithubLogin(ctx, "code")
		assert.ErrorIs(t, err, ErrLoginGenerationExhausted)
	})

	t.Run("profile without an email is a validation failure and provisions nothing", func(t *testing.T) {
		p := profile()
		p.Email = ""
		auth, repo := newTestAuthenticator(t, WithOAuthProvider(&fakeProvider{profile: p}))

		_, err := auth.OAuthGithubLogin(ctx, "code")
		assert.True(t, IsValidationError(err))
		assert.Empty(t, repo.users)
	})

	t.Run("falls back to the email local part for an unusable provider login", func(t *testing.T) {
		p := profile()
		p.Login = "o!"
		auth, _ := newTestAuthenticator(t, WithOAuthProvider(&fakeProvider{profile: p}))

		result, err := auth.OAuthGithubLogin(ctx, "code")
		require.NoError(t, err)
		assert.Equal(t, "octo", result.User.Login)
	})

	t.Run("deactivated federated identity is rejected", func(t *testing.T) {
		auth, repo := newTestAuthenticator(t, WithOAuthProvider(&fakeProvider{profile: profile()}))

		first, err := auth.OAuthGithubLogin(ctx, "code")
		require.NoError(t, err)
		repo.users[first.User.ID.String()].IsActive = false

		_, err = auth.OAuthGithubLogin(ctx, "code")
		assert.ErrorIs(t, err, ErrAccountDeactivated)
	})

	t.Run("provider exchange errors pass through", func(t *testing.T) {
		auth, _ := newTestAuthenticator(t, WithOAuthProvider(&fakeProvider{err: ErrOAuthExchange}))

		_, err := auth.OAuthGithubLogin(ctx, "code")
		assert.ErrorIs(t, err, ErrOAuthExchange)
	})
}

func TestEmailVerificationFlow(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) (*Authenticator, *memUserRepo, *fakeSender, *memVerificationStore) {
		store := newMemVerificationStore()
		sender := newFakeSender()
		verifier, err := NewEmailVerifier(store, sender, 3, 30*time.Second)
		require.NoError(t, err)

		auth, repo := newTestAuthenticator(t,
			WithEmailVerifier(verifier),
			WithEmailSender(sender),
		)
		_, err = auth.Register(ctx, "alice", "alice@example.com", "Passw0rd")
		require.NoError(t, err)
		return auth, repo, sender, store
	}

	t.Run("request then confirm flips the verified flag", func(t *testing.T) {
		auth, repo, sender, _ := seed(t)

		sent, err := auth.RequestEmailVerification(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, sent)
		require.Len(t, sender.sent, 1)

		code := sender.sent[0].value
		verified, err := auth.VerifyEmail(ctx, "alice@example.com", code)
		require.NoError(t, err)
		assert.True(t, verified)

		for _, u := range repo.users {
			assert.True(t, u.IsEmailVerified)
		}
	})

	t.Run("wrong code does not verify", func(t *testing.T) {
		auth, repo, _, _ := seed(t)

		_, err := auth.RequestEmailVerification(ctx, "alice@example.com")
		require.NoError(t, err)

		verified, err := auth.VerifyEmail(ctx, "alice@example.com", "000000")
		require.NoError(t, err)
		assert.False(t, verified)

		for _, u := range repo.users {
			assert.False(t, u.IsEmailVerified)
		}
	})

	t.Run("unknown email is a validation failure", func(t *testing.T) {
		auth, _, _, _ := seed(t)

		_, err := auth.RequestEmailVerification(ctx, "nobody@example.com")
		assert.True(t, IsValidationError(err))
	})

	t.Run("already verified email cannot request another code", func(t *testing.T) {
		auth, repo, _, _ := seed(t)
		for _, u := range repo.users {
			u.IsEmailVerified = true
		}

		_, err := auth.RequestEmailVerification(ctx, "alice@example.com")
		assert.True(t, IsValidationError(err))
	})

	t.Run("code is single use", func(t *testing.T) {
		auth, repo, sender, _ := seed(t)

		_, err := auth.RequestEmailVerification(ctx, "alice@example.com")
		require.NoError(t, err)
		code := sender.sent[0].value

		verified, err := auth.VerifyEmail(ctx, "alice@example.com", code)
		require.NoError(t, err)
		require.True(t, verified)

		// re-confirming needs an unverified user and a live code; both are gone
		for _, u := range repo.users {
			u.IsEmailVerified = false
		}
		verified, err = auth.VerifyEmail(ctx, "alice@example.com", code)
		require.NoError(t, err)
		assert.False(t, verified)
	})
}

func TestAuthorizationURL(t *testing.T) {
	auth, _ := newTestAuthenticator(t, WithOAuthProvider(&fakeProvider{authURL: "https://example.com/authorize"}))

	url, err := auth.AuthorizationURL()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/authorize", url)

	bare, _ := newTestAuthenticator(t)
	_, err = bare.AuthorizationURL()
	assert.Error(t, err)
}

func TestSanitizeLogin(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"octocat", "octocat"},
		{"octo-cat", "octo_cat"},
		{"octo.cat", "octo_cat"},
		{"octo cat", "octo_cat"},
		{"øctocat!", "ctocat"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.out, sanitizeLogin(tc.in), "input %q", tc.in)
	}
}
