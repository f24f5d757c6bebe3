package httpx

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
)

const (
	// SessionCookieName is the cookie that ties a browser to the operator session.
	SessionCookieName = "backoffice_session"

	sessionIssuer        = "backoffice"
	defaultSessionMaxAge = 12 * time.Hour
	minSessionSecretLen  = 32
)

// bindingClaims is the payload of the session cookie. The bearer token never leaves the
// server; the cookie only carries its digest.
type bindingClaims struct {
	jwt.RegisteredClaims
	TokenHash string `json:"tkh"`
}

// SessionBindingConfig configures NewSessionBinding.
type SessionBindingConfig struct {
	// Secret signs the cookie (HS256). A random secret is generated when empty.
	Secret       []byte
	MaxAge       time.Duration
	CookieDomain string
}

// SessionBinding issues and checks the signed cookie that marks the browser which signed in.
// The process holds one session; only the browser holding a cookie for the current token
// may see it. Every other client is treated as signed out.
type SessionBinding struct {
	secret []byte
	maxAge time.Duration
	domain string
}

// NewSessionBinding validates cfg and returns a binding.
func NewSessionBinding(cfg SessionBindingConfig) (*SessionBinding, error) {
	secret := cfg.Secret
	switch {
	case len(secret) == 0:
		secret = make([]byte, minSessionSecretLen)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	case len(secret) < minSessionSecretLen:
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSessionSecretLen)
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultSessionMaxAge
	}
	return &SessionBinding{secret: secret, maxAge: maxAge, domain: cfg.CookieDomain}, nil
}

// Issue binds the requesting browser to token.
func (b *SessionBinding) Issue(w http.ResponseWriter, r *http.Request, token string) error {
	if b == nil {
		return nil
	}
	if token == "" {
		return errors.New("cannot bind an empty token")
	}

	now := time.Now()
	claims := bindingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.maxAge)),
		},
		TokenHash: tokenDigest(token),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return fmt.Errorf("sign session cookie: %w", err)
	}

	http.SetCookie(w, b.cookie(r, signed, int(b.maxAge/time.Second)))
	return nil
}

// Clear removes the session cookie from the browser.
func (b *SessionBinding) Clear(w http.ResponseWriter, r *http.Request) {
	if b == nil {
		return
	}
	http.SetCookie(w, b.cookie(r, "", -1))
}

func (b *SessionBinding) cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   b.domain,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// Bound reports whether the request carries a valid cookie for token.
func (b *SessionBinding) Bound(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return false
	}

	var claims bindingClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims,
		func(*jwt.Token) (any, error) { return b.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(claims.TokenHash), []byte(tokenDigest(token))) == 1
}

// View returns the session as the requesting client may see it. A client that is not bound
// to the current token sees a signed-out session. A nil binding shows the snapshot as is.
func (b *SessionBinding) View(r *http.Request, snap domainauth.Snapshot) domainauth.Snapshot {
	if b == nil || snap.Token == "" || b.Bound(r, snap.Token) {
		return snap
	}
	return domainauth.Snapshot{}
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// isSecureRequest reports whether the request arrived over HTTPS, directly or behind a proxy.
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	for _, proto := range strings.Split(r.Header.Get("X-Forwarded-Proto"), ",") {
		if strings.EqualFold(strings.TrimSpace(proto), "https") {
			return true
		}
	}
	return false
}
