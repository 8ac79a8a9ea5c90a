package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateVerificationCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code := GenerateVerificationCode()
		assert.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "code %q has a non-digit", code)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1, "codes should not repeat every time")
}

func TestGenerateExpiryDate(t *testing.T) {
	now := time.Now()

	expiry := GenerateExpiryDate(time.Hour)
	assert.WithinDuration(t, now.Add(time.Hour), expiry, time.Minute)

	expiry = GenerateExpiryDate(0)
	assert.WithinDuration(t, now.Add(DefaultCodeTTL), expiry, time.Minute)
}

func TestGeneratePasswordResetToken(t *testing.T) {
	a := GeneratePasswordResetToken()
	b := GeneratePasswordResetToken()

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
