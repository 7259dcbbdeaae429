// Package csrf issues and checks double-submit anti-forgery tokens.
//
// The secret lives in an HttpOnly, SameSite=Strict cookie as a signed record;
// the client only ever sees the SHA-256 digest of the secret, which it echoes
// back in the X-CSRF-Token header.
package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	HeaderName        = "X-CSRF-Token"
	DefaultCookieName = "csrf_token"
	DefaultTTL        = 24 * time.Hour

	secretSize = 32
	minKeySize = 16
)

var ErrWeakKey = errors.New("csrf: signing key too short")

// recordClaims is the cookie payload. IssuedMs is the authoritative issuance
// time; the registered iat/exp are whole seconds and only bound the token.
type recordClaims struct {
	Secret   string `json:"sec"`
	IssuedMs int64  `json:"iat_ms"`
	jwt.RegisteredClaims
}

// Manager issues and validates tokens. Safe for concurrent use.
type Manager struct {
	key        []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
	random     io.Reader
}

// Option configures Manager.
type Option func(*Manager)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSecureCookie toggles the Secure attribute. Disable only for plain-HTTP development.
func WithSecureCookie(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithCookieName overrides the cookie that stores the record.
func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

// WithTTL overrides the 24h validity window.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewManager returns a Manager signing cookie records with key.
func NewManager(key []byte, opts ...Option) (*Manager, error) {
	if len(key) < minKeySize {
		return nil, ErrWeakKey
	}
	m := &Manager{
		key:        append([]byte(nil), key...),
		cookieName: DefaultCookieName,
		ttl:        DefaultTTL,
		secure:     true,
		now:        time.Now,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue generates a fresh secret, stores it in the caller's cookie (replacing
// any earlier one) and returns the digest the client must echo back.
func (m *Manager) Issue(w http.ResponseWriter) (string, error) {
	secret := make([]byte, secretSize)
	if _, err := io.ReadFull(m.random, secret); err != nil {
		return "", fmt.Errorf("csrf: read random: %w", err)
	}
	issuedAt := m.now().UTC()
	claims := recordClaims{
		Secret:   base64.RawURLEncoding.EncodeToString(secret),
		IssuedMs: issuedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(issuedAt),
			// NumericDate truncates to seconds; round exp up past the real deadline.
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl + time.Second)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("csrf: sign record: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return digest(secret), nil
}

// Validate reports whether presented is the digest of the secret stored in
// r's cookie. Missing, forged, unparsable or expired records all yield false.
func (m *Manager) Validate(r *http.Request, presented string) bool {
	if presented == "" {
		return false
	}
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return false
	}
	claims := &recordClaims{}
	token, err := jwt.ParseWithClaims(c.Value, claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid || claims.IssuedMs <= 0 {
		return false
	}
	if !m.now().Before(time.UnixMilli(claims.IssuedMs).Add(m.ttl)) {
		return false
	}
	secret, err := base64.RawURLEncoding.DecodeString(claims.Secret)
	if err != nil || len(secret) != secretSize {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest(secret)), []byte(presented)) == 1
}

// Verify validates the token carried in the X-CSRF-Token header.
func (m *Manager) Verify(r *http.Request) bool {
	return m.Validate(r, r.Header.Get(HeaderName))
}

// CookieName reports the cookie that holds the record.
func (m *Manager) CookieName() string { return m.cookieName }

func digest(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}
