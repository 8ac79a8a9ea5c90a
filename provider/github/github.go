// Package github implements the GitHub OAuth provider boundary: the
// authorization-code exchange and the profile fetch, normalized into the
// identity core's FederatedProfile.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/keyhaven/go-identity"
)

const (
	defaultAuthURL  = "https://github.com/login/oauth/authorize"
	defaultTokenURL = "https://github.com/login/oauth/access_token"
	defaultUserURL  = "https://api.github.com/user"

	defaultScope = "user:email"
)

// Config holds the provider credentials and, for tests, endpoint
// overrides.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL  string
	TokenURL string
	UserURL  string

	HTTPClient *http.Client
}

// Provider exchanges GitHub authorization codes for normalized profiles.
type Provider struct {
	clientID     string
	clientSecret string
	redirectURL  string
	authURL      string
	tokenURL     string
	userURL      string
	client       *http.Client
}

// New builds a provider from config, applying GitHub's public endpoints
// where no override is given.
func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("github: client id and secret are required")
	}

	p := &Provider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		authURL:      cfg.AuthURL,
		tokenURL:     cfg.TokenURL,
		userURL:      cfg.UserURL,
		client:       cfg.HTTPClient,
	}

	if p.authURL == "" {
		p.authURL = defaultAuthURL
	}
	if p.tokenURL == "" {
		p.tokenURL = defaultTokenURL
	}
	if p.userURL == "" {
		p.userURL = defaultUserURL
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 10 * time.Second}
	}

	return p, nil
}

// AuthorizationURL builds the URL the user agent is redirected to for
// consent.
func (p *Provider) AuthorizationURL() string {
	q := url.Values{}
	q.Set("client_id", p.clientID)
	if p.redirectURL != "" {
		q.Set("redirect_uri", p.redirectURL)
	}
	q.Set("scope", defaultScope)
	return p.authURL + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// GetUserData runs the full code-for-profile exchange. Exchange failures
// wrap ErrOAuthExchange, profile failures wrap ErrOAuthProfile, so callers
// can tell which provider leg broke.
func (p *Provider) GetUserData(ctx context.Context, code string) (*identity.FederatedProfile, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", identity.ErrOAuthExchange)
	}

	accessToken, err := p.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	return p.fetchProfile(ctx, accessToken)
}

func (p *Provider) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("code", code)
	if p.redirectURL != "" {
		form.Set("redirect_uri", p.redirectURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", identity.ErrOAuthExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", identity.ErrOAuthExchange, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", identity.ErrOAuthExchange, res.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: %v", identity.ErrOAuthExchange, err)
	}

	if tok.Error != "" {
		return "", fmt.Errorf("%w: %s: %s", identity.ErrOAuthExchange, tok.Error, tok.ErrorDescription)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: response carried no access token", identity.ErrOAuthExchange)
	}

	return tok.AccessToken, nil
}

func (p *Provider) fetchProfile(ctx context.Context, accessToken string) (*identity.FederatedProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrOAuthProfile, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrOAuthProfile, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("%w: user endpoint returned %d: %s", identity.ErrOAuthProfile, res.StatusCode, body)
	}

	var gu githubUser
	if err := json.NewDecoder(res.Body).Decode(&gu); err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrOAuthProfile, err)
	}

	displayName := gu.Name
	if displayName == "" {
		displayName = gu.Login
	}

	var id string
	if gu.ID != 0 {
		id = strconv.FormatInt(gu.ID, 10)
	}

	return &identity.FederatedProfile{
		ID:          id,
		Login:       gu.Login,
		Email:       gu.Email,
		DisplayName: displayName,
		AvatarURL:   gu.AvatarURL,
	}, nil
}
