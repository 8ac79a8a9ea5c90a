package identity

import (
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher wraps bcrypt with a deployment-configured cost factor.
// The cost is mandatory: a silent weak default is a security regression,
// so construction fails when it is unset or out of range.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher validates the configured cost and returns a hasher.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost factor is not configured or out of range", errors.CategoryInternal).
			WithMetadata(map[string]any{
				"cost": cost,
				"min":  bcrypt.MinCost,
				"max":  bcrypt.MaxCost,
			})
	}
	return &PasswordHasher{cost: cost}, nil
}

// Hash generates a salted one-way hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty", errors.CategoryBadInput)
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}
	return string(out), nil
}

// Compare reports whether password matches the stored hash.
func (h *PasswordHasher) Compare(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// RandomPasswordHash returns the hash of a random, never-disclosed
// credential. Federated identities get one so password login stays
// unusable for them. The plaintext satisfies the registration policy.
func (h *PasswordHasher) RandomPasswordHash() (string, error) {
	return h.Hash(RandomPlaceholderPassword())
}

// RandomPlaceholderPassword builds a throwaway credential that passes the
// registration password policy.
func RandomPlaceholderPassword() string {
	return "Fed1_" + uuid.NewString()
}
