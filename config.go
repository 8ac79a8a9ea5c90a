package identity

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
)

// Config carries every deployment knob for the identity service. Secrets
// and thresholds have no defaults on purpose: a misconfigured deployment
// should fail at startup, not run weakened.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file::memory:?cache=shared"`

	TokenSigningKey string `env:"TOKEN_SIGNING_KEY"`
	TokenIssuer     string `env:"TOKEN_ISSUER" envDefault:"identity-core"`

	BcryptCost int `env:"BCRYPT_COST"`

	VerificationMaxPerHour  int           `env:"VERIFICATION_MAX_PER_HOUR"`
	VerificationResendDelay time.Duration `env:"VERIFICATION_RESEND_DELAY"`

	GithubClientID     string `env:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GithubRedirectURL  string `env:"GITHUB_REDIRECT_URL"`

	KafkaBroker   string `env:"KAFKA_BROKER"`
	KafkaTopic    string `env:"KAFKA_TOPIC" envDefault:"identity.emails"`
	KafkaUsername string `env:"KAFKA_USERNAME"`
	KafkaPassword string `env:"KAFKA_PASSWORD"`
}

// LoadConfig reads the configuration from the process environment and
// validates the mandatory fields.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the fields the core refuses to run without.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.TokenSigningKey, validation.Required),
		validation.Field(&c.BcryptCost, validation.Required, validation.Min(4), validation.Max(31)),
		validation.Field(&c.VerificationMaxPerHour, validation.Required, validation.Min(1)),
		validation.Field(&c.VerificationResendDelay, validation.Required),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid configuration").
			WithCode(errors.CodeBadRequest)
	}
	return nil
}

// GithubConfigured reports whether the federated login path can be wired.
func (c *Config) GithubConfigured() bool {
	return c.GithubClientID != "" && c.GithubClientSecret != ""
}

// KafkaConfigured reports whether email dispatch should go through the
// broker instead of the log sender.
func (c *Config) KafkaConfigured() bool {
	return c.KafkaBroker != ""
}
