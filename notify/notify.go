// Package notify implements the outbound email boundary. The Kafka sender
// publishes mail events for a downstream mailer; the log sender is the
// development stand-in.
package notify

import (
	"context"
	"fmt"

	"github.com/keyhaven/go-identity"
)

type defaultLogger struct{}

func (defaultLogger) Debug(format string, args ...any) { fmt.Printf("[DBG] NOTIFY "+format+"\n", args...) }
func (defaultLogger) Info(format string, args ...any)  { fmt.Printf("[INF] NOTIFY "+format+"\n", args...) }
func (defaultLogger) Error(format string, args ...any) { fmt.Printf("[ERR] NOTIFY "+format+"\n", args...) }

// LogSender reports every dispatch as delivered and writes it to the
// logger. Development and test deployments use it in place of a broker.
type LogSender struct {
	logger identity.Logger
}

var _ identity.EmailSender = (*LogSender)(nil)

// NewLogSender builds a log-only sender; a nil logger gets the default.
func NewLogSender(logger identity.Logger) *LogSender {
	s := &LogSender{logger: logger}
	if s.logger == nil {
		s.logger = defaultLogger{}
	}
	return s
}

func (s *LogSender) SendVerificationCode(ctx context.Context, email, code string) (bool, error) {
	s.logger.Info("verification code for %s: %s", email, code)
	return true, nil
}

func (s *LogSender) SendWelcome(ctx context.Context, email, displayName string) (bool, error) {
	s.logger.Info("welcome email for %s (%s)", email, displayName)
	return true, nil
}

func (s *LogSender) SendPasswordReset(ctx context.Context, email, token string) (bool, error) {
	s.logger.Info("password reset token for %s: %s", email, token)
	return true, nil
}
