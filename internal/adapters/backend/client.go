package backend

// Package backend provides the REST client for the congress backend's auth endpoints.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jmespath "github.com/jmespath-community/go-jmespath"
	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
	apperrors "github.com/target/congress-backoffice/internal/errors"
	"github.com/target/congress-backoffice/internal/ports"
	"golang.org/x/oauth2"
)

const (
	loginPath   = "/auth/login"
	profilePath = "/auth/profile"

	// maxBodyBytes caps how much of a backend response is read.
	maxBodyBytes = 1 << 20

	defaultLoginMessage = "login failed"
	requestIDHeader     = "X-Request-ID"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.ProfileFetcher      = (*Client)(nil)
	_ ports.CredentialExchanger = (*Client)(nil)
)

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	BaseURL string
	// LoginField is the JSON field carrying the identifier in the login body ("id" or "email").
	LoginField string
	// TokenPath is a JMESPath expression locating the token in the login response.
	TokenPath    string
	LoginTimeout time.Duration
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
	Logger       *slog.Logger // Optional
}

// Client talks to the backend's /auth/login and /auth/profile endpoints.
type Client struct {
	baseURL      *url.URL
	loginField   string
	tokenPath    string
	loginTimeout time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend URL is required")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", cfg.BaseURL)
	}

	field := strings.TrimSpace(cfg.LoginField)
	if field == "" {
		field = "id"
	}

	tokenPath := strings.TrimSpace(cfg.TokenPath)
	if tokenPath == "" {
		tokenPath = "token"
	}
	if _, err := jmespath.Compile(tokenPath); err != nil {
		return nil, fmt.Errorf("invalid token path %q: %w", tokenPath, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:      u,
		loginField:   field,
		tokenPath:    tokenPath,
		loginTimeout: cfg.LoginTimeout,
		httpClient:   httpClient,
		logger:       logger.With("component", "backend"),
	}, nil
}

// Profile resolves token into the user it belongs to.
// 401/403 yield ErrCodeUnauthorized, transport failures ErrCodeUnavailable and any other
// unexpected status or payload ErrCodeUpstream.
func (c *Client) Profile(ctx context.Context, token string) (domainauth.User, error) {
	if token == "" {
		return domainauth.User{}, apperrors.Unauthorized(http.StatusUnauthorized, "missing token")
	}

	req, err := c.newRequest(ctx, http.MethodGet, profilePath, nil)
	if err != nil {
		return domainauth.User{}, err
	}

	resp, err := c.bearerClient(token).Do(req)
	if err != nil {
		return domainauth.User{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "GET "+profilePath)
	}
	defer c.closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domainauth.User{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "read profile response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domainauth.User{}, apperrors.Unauthorized(resp.StatusCode, backendMessage(body, "invalid or expired token"))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domainauth.User{}, apperrors.Upstream(resp.StatusCode, backendMessage(body, resp.Status))
	}

	var user domainauth.User
	if err := json.Unmarshal(body, &user); err != nil {
		return domainauth.User{}, apperrors.Wrap(err, apperrors.ErrCodeUpstream, "decode profile")
	}
	if user.ID == "" {
		return domainauth.User{}, apperrors.Upstream(resp.StatusCode, "profile response has no user id")
	}
	return user, nil
}

// Login exchanges credentials for a bearer token. A rejected login carries the backend's
// message so it can be shown to the operator verbatim.
func (c *Client) Login(ctx context.Context, creds ports.Credentials) (string, error) {
	if c.loginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.loginTimeout)
		defer cancel()
	}

	payload, err := json.Marshal(map[string]string{
		c.loginField: creds.Identifier,
		"password":   creds.Password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal login body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, loginPath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "POST "+loginPath)
	}
	defer c.closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "read login response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := backendMessage(body, defaultLoginMessage)
		if resp.StatusCode >= 500 {
			return "", apperrors.Upstream(resp.StatusCode, msg)
		}
		return "", apperrors.Unauthorized(resp.StatusCode, msg)
	}

	token, err := c.extractToken(body)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (c *Client) extractToken(body []byte) (string, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUpstream, "decode login response")
	}

	res, err := jmespath.Search(c.tokenPath, data)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrCodeUpstream, "evaluate token path %q", c.tokenPath)
	}

	token, ok := res.(string)
	if !ok || strings.TrimSpace(token) == "" {
		return "", apperrors.Upstream(http.StatusOK, "login response has no token")
	}
	return token, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	return req, nil
}

// bearerClient returns a client that authenticates every request with token.
func (c *Client) bearerClient(token string) *http.Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		},
		Timeout:       c.httpClient.Timeout,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Debug("close backend response body", "error", err)
	}
}

// backendMessage extracts {"message": "..."} from an error body, falling back to def.
func backendMessage(body []byte, def string) string {
	var payload struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Message) == 0 {
		return def
	}

	var s string
	if err := json.Unmarshal(payload.Message, &s); err == nil && strings.TrimSpace(s) != "" {
		return s
	}
	// Validation errors sometimes come back as a list of messages.
	var list []string
	if err := json.Unmarshal(payload.Message, &list); err == nil && len(list) > 0 {
		return strings.Join(list, "; ")
	}
	return def
}
