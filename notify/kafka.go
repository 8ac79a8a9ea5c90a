package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/keyhaven/go-identity"
)

const (
	eventVerificationCode = "verification_code"
	eventWelcome          = "welcome"
	eventPasswordReset    = "password_reset"
)

// mailEvent is the wire shape consumed by the downstream mailer.
type mailEvent struct {
	Type        string `json:"type"`
	Email       string `json:"email"`
	Code        string `json:"code,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Token       string `json:"token,omitempty"`
}

// KafkaConfig carries the broker settings for the mail event stream.
// Username and Password are optional; when set, the writer authenticates
// with SASL plain over TLS.
type KafkaConfig struct {
	Broker   string
	Topic    string
	Username string
	Password string
}

// KafkaSender publishes mail events to the broker. Delivery means the
// broker acknowledged the event, not that the mail reached an inbox.
type KafkaSender struct {
	writer *kafka.Writer
	logger identity.Logger
}

var _ identity.EmailSender = (*KafkaSender)(nil)

// NewKafkaSender builds a sender over a fresh writer.
func NewKafkaSender(cfg KafkaConfig, logger identity.Logger) (*KafkaSender, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.New("kafka broker and topic are required", errors.CategoryInternal)
	}
	if logger == nil {
		logger = defaultLogger{}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Broker),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: 10 * time.Second,
	}

	if cfg.Username != "" {
		writer.Transport = &kafka.Transport{
			SASL: plain.Mechanism{
				Username: cfg.Username,
				Password: cfg.Password,
			},
			TLS: &tls.Config{},
		}
	}

	return &KafkaSender{writer: writer, logger: logger}, nil
}

func (s *KafkaSender) SendVerificationCode(ctx context.Context, email, code string) (bool, error) {
	return s.publish(ctx, mailEvent{Type: eventVerificationCode, Email: email, Code: code})
}

func (s *KafkaSender) SendWelcome(ctx context.Context, email, displayName string) (bool, error) {
	return s.publish(ctx, mailEvent{Type: eventWelcome, Email: email, DisplayName: displayName})
}

func (s *KafkaSender) SendPasswordReset(ctx context.Context, email, token string) (bool, error) {
	return s.publish(ctx, mailEvent{Type: eventPasswordReset, Email: email, Token: token})
}

func (s *KafkaSender) publish(ctx context.Context, event mailEvent) (bool, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to encode mail event")
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Email),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		s.logger.Error("failed to publish %s mail event for %s: %s", event.Type, event.Email, err)
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to publish mail event")
	}

	return true, nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
