package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// EmailVerifier applies the verification-code policy: a code may be
// (re)sent only when the trailing-hour send count is under the cap AND the
// resend delay since the last send has elapsed. Throttling is an expected
// outcome, reported as false rather than an error.
type EmailVerifier struct {
	store       VerificationStore
	sender      EmailSender
	maxPerHour  int
	resendDelay time.Duration
	codeTTL     time.Duration
	now         func() time.Time
	logger      Logger
}

// rateWindow is the rolling period the send cap applies to.
const rateWindow = time.Hour

// VerifierOption configures the verifier.
type VerifierOption func(*EmailVerifier)

// WithCodeTTL overrides the 15-minute code expiry.
func WithCodeTTL(ttl time.Duration) VerifierOption {
	return func(v *EmailVerifier) {
		if ttl > 0 {
			v.codeTTL = ttl
		}
	}
}

// WithVerifierClock overrides the time source for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *EmailVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithVerifierLogger overrides the default logger.
func WithVerifierLogger(l Logger) VerifierOption {
	return func(v *EmailVerifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewEmailVerifier builds the verifier. Both throttle thresholds are
// mandatory configuration; missing values are a startup error, never a
// silent default.
func NewEmailVerifier(store VerificationStore, sender EmailSender, maxPerHour int, resendDelay time.Duration, opts ...VerifierOption) (*EmailVerifier, error) {
	if store == nil || sender == nil {
		return nil, errors.New("verification store and email sender are required", errors.CategoryInternal)
	}
	if maxPerHour <= 0 {
		return nil, errors.New("max verification attempts per hour is not configured", errors.CategoryInternal)
	}
	if resendDelay <= 0 {
		return nil, errors.New("verification resend delay is not configured", errors.CategoryInternal)
	}

	v := &EmailVerifier{
		store:       store,
		sender:      sender,
		maxPerHour:  maxPerHour,
		resendDelay: resendDelay,
		codeTTL:     DefaultCodeTTL,
		now:         time.Now,
		logger:      defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// CanResendCode exposes the throttle decision for UI-level pre-checks.
func (v *EmailVerifier) CanResendCode(ctx context.Context, email string) (bool, error) {
	sent, err := v.store.CountRecentAttempts(ctx, email, rateWindow)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to count recent verification sends")
	}
	if sent >= v.maxPerHour {
		return false, nil
	}

	last, err := v.store.LastSentAt(ctx, email)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to read last verification send")
	}
	// no prior send counts as elapsed
	if last != nil && v.now().Sub(*last) < v.resendDelay {
		return false, nil
	}

	return true, nil
}

// SendVerificationCode generates, stores, and dispatches a fresh code.
// Returns false without error when throttled. A dispatch failure after the
// code is persisted escalates to ErrDispatchFailed.
func (v *EmailVerifier) SendVerificationCode(ctx context.Context, email string) (bool, error) {
	ok, err := v.CanResendCode(ctx, email)
	if err != nil {
		return false, err
	}
	if !ok {
		v.logger.Debug("verification send throttled for %s", email)
		return false, nil
	}

	code := GenerateVerificationCode()
	expiresAt := v.now().Add(v.codeTTL)

	if err := v.store.SaveCode(ctx, email, code, expiresAt); err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to store verification code")
	}

	delivered, err := v.sender.SendVerificationCode(ctx, email, code)
	if err != nil {
		return false, errors.Wrap(err, ErrDispatchFailed.Category, ErrDispatchFailed.Message).
			WithTextCode(TextCodeDispatchFailed).
			WithCode(ErrDispatchFailed.Code).
			WithMetadata(map[string]any{"email": email})
	}
	if !delivered {
		return false, ErrDispatchFailed
	}

	return true, nil
}

// VerifyCode checks the submitted code against the outstanding one.
// Missing, expired, and mismatched codes are all reported as false; the
// caller cannot distinguish them. A successful match consumes the code.
// This component never mutates the identity itself.
func (v *EmailVerifier) VerifyCode(ctx context.Context, email, code string) (bool, error) {
	stored, err := v.store.FindCode(ctx, email)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to look up verification code")
	}
	if stored == nil {
		return false, nil
	}

	if stored.Expired(v.now()) {
		return false, nil
	}

	if stored.Code != code {
		if err := v.store.IncrementAttempts(ctx, email); err != nil {
			v.logger.Error("failed to track verification attempt for %s: %s", email, err)
		}
		return false, nil
	}

	if err := v.store.DeleteCode(ctx, email); err != nil {
		v.logger.Error("failed to consume verification code for %s: %s", email, err)
	}
	return true, nil
}
