// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie carrying the identity provider's token.
const CookieName = "auth_token"

// ErrNoToken is returned when a request carries no token at all.
var ErrNoToken = errors.New("missing auth token")

// privateKey and publicKey sign and verify tokens. The identity provider
// owns the private key in production; the server only needs the public half.
var (
	keyMu      sync.RWMutex
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenExpire is how long minted tokens live (0 => no exp claim).
	tokenExpire time.Duration
)

// parseTokenExpireTime reads values like "72h"; "", "0" and "never" disable expiry.
func parseTokenExpireTime(s string) (time.Duration, error) {
	if s == "never" || s == "0" || s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// Init generates a fresh ed25519 key pair at runtime. Tokens minted before a
// restart stop verifying, which suits development and tests.
func Init(expire string) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	d, err := parseTokenExpireTime(expire)
	if err != nil {
		return err
	}
	keyMu.Lock()
	publicKey, privateKey, tokenExpire = pub, priv, d
	keyMu.Unlock()
	return nil
}

// InitFromPath reads raw ed25519 keys from disk. The private key path may be
// empty for a verify-only server.
func InitFromPath(privatePath, publicPath, expire string) error {
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKeyData))
	}

	var priv ed25519.PrivateKey
	if privatePath != "" {
		privateKeyData, err := os.ReadFile(privatePath)
		if err != nil {
			return fmt.Errorf("failed to read private key file: %w", err)
		}
		priv = ed25519.PrivateKey(privateKeyData)
	}

	d, err := parseTokenExpireTime(expire)
	if err != nil {
		return err
	}
	keyMu.Lock()
	publicKey, privateKey, tokenExpire = ed25519.PublicKey(publicKeyData), priv, d
	keyMu.Unlock()
	return nil
}

// CreateJWT signs a token with "sub" = identity.
func CreateJWT(identity string) (string, error) {
	keyMu.RLock()
	priv, expire := privateKey, tokenExpire
	keyMu.RUnlock()
	if priv == nil {
		return "", errors.New("no signing key loaded")
	}

	claims := jwt.MapClaims{"sub": identity}
	if expire > 0 {
		claims["exp"] = time.Now().Add(expire).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(priv)
}

// AuthenticateJWT verifies a token and returns its "sub" claim.
func AuthenticateJWT(tokenString string) (string, error) {
	keyMu.RLock()
	pub := publicKey
	keyMu.RUnlock()

	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return sub, nil
}

// IdentityFromRequest authenticates the auth_token cookie, falling back to
// an Authorization: Bearer header.
func IdentityFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return AuthenticateJWT(c.Value)
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return AuthenticateJWT(strings.TrimPrefix(h, "Bearer "))
	}
	return "", ErrNoToken
}
