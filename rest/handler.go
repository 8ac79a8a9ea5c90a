// Package rest exposes the identity core over HTTP. It owns request
// decoding, bearer-token extraction, and the mapping from typed core
// errors to status codes; all semantics live in the core.
package rest

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"

	"github.com/keyhaven/go-identity"
)

// Handler wires the authenticator into fiber routes.
type Handler struct {
	auth   *identity.Authenticator
	logger identity.Logger
}

// NewHandler builds the HTTP handler set.
func NewHandler(auth *identity.Authenticator, logger identity.Logger) *Handler {
	return &Handler{auth: auth, logger: logger}
}

// SetupRoutes registers every route on the app.
func (h *Handler) SetupRoutes(app *fiber.App) {
	app.Get("/health", h.Health)

	auth := app.Group("/auth")
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Patch("/me", h.UpdateMe)
	auth.Delete("/me", h.DeactivateMe)
	auth.Post("/github", h.GithubLogin)
	auth.Get("/github/authorize", h.GithubAuthorize)
	auth.Post("/verify/request", h.RequestVerification)
	auth.Post("/verify/confirm", h.ConfirmVerification)
}

type registerPayload struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p registerPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Login, validation.Required),
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

func (h *Handler) Register(c *fiber.Ctx) error {
	var payload registerPayload
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	user, err := h.auth.Register(c.Context(), payload.Login, payload.Email, payload.Password)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(user)
}

type loginPayload struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (p loginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Identifier, validation.Required),
		validation.Field(&p.Password, validation.Required),
	)
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var payload loginPayload
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.auth.Login(c.Context(), payload.Identifier, payload.Password)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(result)
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return unauthorized(c, "missing bearer token")
	}

	refreshed, err := h.auth.RefreshToken(token)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(fiber.Map{"access_token": refreshed})
}

func (h *Handler) UpdateMe(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return unauthorized(c, "missing bearer token")
	}

	var payload identity.UpdateUserRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}

	user, err := h.auth.UpdateUser(c.Context(), token, payload)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(user)
}

func (h *Handler) DeactivateMe(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return unauthorized(c, "missing bearer token")
	}

	deactivated, err := h.auth.DeactivateUser(c.Context(), token)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(fiber.Map{"deactivated": deactivated})
}

type githubLoginPayload struct {
	Code string `json:"code"`
}

func (p githubLoginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Code, validation.Required),
	)
}

func (h *Handler) GithubLogin(c *fiber.Ctx) error {
	var payload githubLoginPayload
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.auth.OAuthGithubLogin(c.Context(), payload.Code)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(result)
}

func (h *Handler) GithubAuthorize(c *fiber.Ctx) error {
	url, err := h.auth.AuthorizationURL()
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"authorization_url": url})
}

type verificationPayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (p verificationPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

func (h *Handler) RequestVerification(c *fiber.Ctx) error {
	var payload verificationPayload
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	sent, err := h.auth.RequestEmailVerification(c.Context(), payload.Email)
	if err != nil {
		return h.writeError(c, err)
	}

	status := fiber.StatusAccepted
	if !sent {
		status = fiber.StatusTooManyRequests
	}
	return c.Status(status).JSON(fiber.Map{"sent": sent})
}

func (h *Handler) ConfirmVerification(c *fiber.Ctx) error {
	var payload verificationPayload
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := payload.Validate(); err != nil || payload.Code == "" {
		return badRequest(c, "email and code are required")
	}

	verified, err := h.auth.VerifyEmail(c.Context(), payload.Email, payload.Code)
	if err != nil {
		return h.writeError(c, err)
	}

	status := fiber.StatusOK
	if !verified {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(fiber.Map{"verified": verified})
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// writeError maps a typed core error onto an HTTP response. Unknown
// errors are logged and reported as an opaque 500.
func (h *Handler) writeError(c *fiber.Ctx, err error) error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		status := richErr.Code
		if status < 400 || status > 599 {
			status = fiber.StatusInternalServerError
		}

		body := fiber.Map{
			"error":     richErr.Message,
			"text_code": richErr.TextCode,
		}
		if violations := identity.ViolationsFromError(err); len(violations) > 0 {
			body["violations"] = violations
		}

		if status >= 500 && h.logger != nil {
			h.logger.Error("request failed: %s", richErr)
		}
		return c.Status(status).JSON(body)
	}

	if h.logger != nil {
		h.logger.Error("request failed: %s", err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
