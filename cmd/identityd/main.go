package main

import (
	"context"
	"database/sql"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/keyhaven/go-identity"
	"github.com/keyhaven/go-identity/notify"
	"github.com/keyhaven/go-identity/provider/github"
	"github.com/keyhaven/go-identity/repository"
	"github.com/keyhaven/go-identity/rest"
)

func main() {
	// .env is a development convenience, absence is fine
	_ = godotenv.Load()

	cfg, err := identity.LoadConfig()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx := context.Background()

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())

	if err := repository.CreateTables(ctx, db); err != nil {
		log.Fatalf("schema error: %v", err)
	}

	users := repository.NewUsers(db)
	codes := repository.NewVerifications(db)

	hasher, err := identity.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		log.Fatalf("hasher error: %v", err)
	}

	tokens, err := identity.NewTokenService([]byte(cfg.TokenSigningKey), cfg.TokenIssuer)
	if err != nil {
		log.Fatalf("token service error: %v", err)
	}

	var sender identity.EmailSender
	if cfg.KafkaConfigured() {
		kafkaSender, err := notify.NewKafkaSender(notify.KafkaConfig{
			Broker:   cfg.KafkaBroker,
			Topic:    cfg.KafkaTopic,
			Username: cfg.KafkaUsername,
			Password: cfg.KafkaPassword,
		}, nil)
		if err != nil {
			log.Fatalf("kafka sender error: %v", err)
		}
		defer kafkaSender.Close()
		sender = kafkaSender
	} else {
		sender = notify.NewLogSender(nil)
	}

	verifier, err := identity.NewEmailVerifier(codes, sender, cfg.VerificationMaxPerHour, cfg.VerificationResendDelay)
	if err != nil {
		log.Fatalf("verifier error: %v", err)
	}

	opts := []identity.AuthOption{
		identity.WithEmailVerifier(verifier),
		identity.WithEmailSender(sender),
	}

	if cfg.GithubConfigured() {
		provider, err := github.New(github.Config{
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
			RedirectURL:  cfg.GithubRedirectURL,
		})
		if err != nil {
			log.Fatalf("github provider error: %v", err)
		}
		opts = append(opts, identity.WithOAuthProvider(provider))
	}

	auth := identity.NewAuthenticator(users, tokens, hasher, opts...)

	app := fiber.New()
	rest.NewHandler(auth, nil).SetupRoutes(app)

	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
