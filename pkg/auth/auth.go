// Package auth verifies bearer tokens of scheduled triggers.
//
// A token is a JWT issued for the scheduler's service account. It is valid
// when it is signed by a known key, is not expired, its audience is the
// executor, and (if a caller is configured) its email claim is the caller.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrCallerMismatch = fmt.Errorf("%w: caller is not allowed", ErrInvalidToken)
	ErrNoKeyFound     = errors.New("auth: no key found")
	ErrNoAudience     = errors.New("auth: audience is not configured")
)

// Key verifies signatures.
type Key struct {
	// Id matches "kid" in token headers. Empty Id matches any kid.
	Id string

	// Alg is the signing algorithm, like "RS256" or "HS256".
	Alg string

	verify any
}

// HMACKey creates an HS256 key from a shared secret.
func HMACKey(kid string, secret []byte) Key {
	return Key{Id: kid, Alg: jwt.SigningMethodHS256.Alg(), verify: secret}
}

// RSAKey creates an RS256 key from a public key.
func RSAKey(kid string, pub *rsa.PublicKey) Key {
	return Key{Id: kid, Alg: jwt.SigningMethodRS256.Alg(), verify: pub}
}

// LoadRSAKey reads a PEM encoded RSA public key from a file.
func LoadRSAKey(kid string, path string) (Key, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Key{}, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return Key{}, fmt.Errorf("%s: %w", path, err)
	}
	return RSAKey(kid, pub), nil
}

// Claims of a scheduler token.
type Claims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	audience string
	caller   string
	issuer   string
	leeway   time.Duration
	now      func() time.Time
	keys     []Key
}

type Option func(*Verifier) *Verifier

// WithCaller requires the email claim to be caller. Empty caller accepts anyone.
func WithCaller(caller string) Option {
	return func(v *Verifier) *Verifier {
		v.caller = caller
		return v
	}
}

func WithIssuer(issuer string) Option {
	return func(v *Verifier) *Verifier {
		v.issuer = issuer
		return v
	}
}

// WithLeeway tolerates clock skew. Default: 30 seconds.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) *Verifier {
		v.leeway = d
		return v
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) *Verifier {
		v.now = now
		return v
	}
}

func NewVerifier(audience string, keys []Key, options ...Option) (*Verifier, error) {
	if audience == "" {
		return nil, ErrNoAudience
	}
	if len(keys) == 0 {
		return nil, ErrNoKeyFound
	}
	v := &Verifier{
		audience: audience,
		keys:     keys,
		leeway:   30 * time.Second,
		now:      time.Now,
	}
	for _, opt := range options {
		v = opt(v)
	}
	return v, nil
}

func (v *Verifier) algs() []string {
	seen := map[string]struct{}{}
	algs := []string{}
	for _, k := range v.keys {
		if _, ok := seen[k.Alg]; ok {
			continue
		}
		seen[k.Alg] = struct{}{}
		algs = append(algs, k.Alg)
	}
	return algs
}

func (v *Verifier) keyFor(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	for _, k := range v.keys {
		if k.Alg != t.Method.Alg() {
			continue
		}
		if k.Id != "" && k.Id != kid {
			continue
		}
		return k.verify, nil
	}
	return nil, fmt.Errorf("%w: kid=%q, alg=%s", ErrNoKeyFound, kid, t.Method.Alg())
}

// Verify a token and returns its claims.
//
// # Returns
//
// - error: wraps ErrInvalidToken when the token is not acceptable.
func (v *Verifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods(v.algs()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := new(Claims)
	if _, err := jwt.ParseWithClaims(token, claims, v.keyFor, opts...); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if v.caller != "" && claims.Email != v.caller {
		return nil, fmt.Errorf("%w: %q", ErrCallerMismatch, claims.Email)
	}
	return claims, nil
}
