package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// DefaultCodeTTL is how long a verification code stays redeemable.
const DefaultCodeTTL = 15 * time.Minute

// GenerateVerificationCode produces a 6-digit numeric code.
func GenerateVerificationCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// crypto/rand failing means the process has no entropy source
		panic(fmt.Sprintf("identity: crypto/rand unavailable: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}

// GenerateExpiryDate returns the expiry timestamp for a code issued now.
// A non-positive ttl falls back to DefaultCodeTTL.
func GenerateExpiryDate(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return time.Now().Add(ttl)
}

// GeneratePasswordResetToken produces an opaque single-use token for the
// password reset flow. Only the primitive exists here; the flow itself is
// out of scope.
func GeneratePasswordResetToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("identity: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
