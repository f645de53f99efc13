package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Gate authenticates requests. A nil Principal error means the caller may
// proceed to permission checks.
type Gate interface {
	Authenticate(r *http.Request) (Principal, error)
	Enabled() bool
}

// OpenGate lets every request through as an admin.
type OpenGate struct{}

func (OpenGate) Authenticate(*http.Request) (Principal, error) {
	return Principal{Subject: "anonymous", Role: RoleAdmin}, nil
}

func (OpenGate) Enabled() bool { return false }

// Claims represents JWT claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTGate validates HS256 bearer tokens carrying a role claim.
type JWTGate struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	now      func() time.Time
}

// NewJWTGate returns a gate for secret. An empty secret is rejected; use
// OpenGate to disable auth.
func NewJWTGate(secret, issuer string, ttl time.Duration) (*JWTGate, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTGate{secret: []byte(secret), issuer: issuer, tokenTTL: ttl, now: time.Now}, nil
}

// NewGate picks the gate for a configured secret.
func NewGate(secret, issuer string, ttl time.Duration) (Gate, error) {
	if secret == "" {
		return OpenGate{}, nil
	}
	return NewJWTGate(secret, issuer, ttl)
}

func (g *JWTGate) Enabled() bool { return true }

// Issue mints a token for subject with role.
func (g *JWTGate) Issue(subject, role string) (*Token, error) {
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	now := g.now()
	expiresAt := now.Add(g.tokenTTL)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    g.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse validates a token string.
func (g *JWTGate) Parse(tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !ValidRole(claims.Role) {
		return Principal{}, fmt.Errorf("%w: %w %q", ErrInvalidToken, ErrUnknownRole, claims.Role)
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

func (g *JWTGate) Authenticate(r *http.Request) (Principal, error) {
	tok := bearer(r)
	if tok == "" {
		return Principal{}, ErrMissingToken
	}
	return g.Parse(tok)
}

// bearer extracts the token from the Authorization header, or from the
// access_token query parameter for websocket upgrades.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
