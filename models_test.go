package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidLogin(t *testing.T) {
	valid := []string{"bob", "alice_99", "ABC", "a_b", "user123"}
	for _, login := range valid {
		assert.True(t, IsValidLogin(login), "expected %q to be valid", login)
	}

	invalid := []string{"", "ab", "has space", "dash-ed", "dot.ted", "naïve", "p@ss"}
	for _, login := range invalid {
		assert.False(t, IsValidLogin(login), "expected %q to be invalid", login)
	}
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("alice@example.com"))
	assert.True(t, IsValidEmail("a.b+tag@sub.example.org"))

	assert.False(t, IsValidEmail(""))
	assert.False(t, IsValidEmail("not-an-email"))
	assert.False(t, IsValidEmail("@example.com"))
}

func TestIsValidPassword(t *testing.T) {
	assert.True(t, IsValidPassword("Passw0rd"))
	assert.True(t, IsValidPassword("LongerPassword1"))

	// each rule violated on its own
	assert.False(t, IsValidPassword(""), "empty")
	assert.False(t, IsValidPassword("Pass1"), "too short")
	assert.False(t, IsValidPassword("password1"), "no uppercase")
	assert.False(t, IsValidPassword("Password"), "no digit")
}

func TestValidateCredentials(t *testing.T) {
	t.Run("valid input has no violations", func(t *testing.T) {
		assert.Empty(t, ValidateCredentials("alice", "alice@example.com", "Passw0rd"))
		assert.True(t, IsValidUser("alice", "alice@example.com", "Passw0rd"))
	})

	t.Run("all rules violated reports three messages in field order", func(t *testing.T) {
		violations := ValidateCredentials("x", "bad", "weak")
		assert.Len(t, violations, 3)
		assert.Contains(t, violations[0], "login")
		assert.Contains(t, violations[1], "email")
		assert.Contains(t, violations[2], "password")
	})

	t.Run("single violation reports only itself", func(t *testing.T) {
		violations := ValidateCredentials("alice", "alice@example.com", "weak")
		assert.Len(t, violations, 1)
		assert.Contains(t, violations[0], "password")
	})
}
