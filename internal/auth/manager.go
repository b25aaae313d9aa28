// Package auth authenticates admin API callers with HS256 JWTs or static API keys.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/pkg/config"
)

// Roles understood by the admin API.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

const (
	issuer          = "ouroboros"
	defaultTokenTTL = 24 * time.Hour
	bcryptPrefix    = "$2"
)

var (
	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidAPIKey is returned when no configured key matches.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Claims are the JWT claims issued by the manager.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is an authenticated caller.
type Principal struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
	Method  string `json:"method"` // "jwt" or "api_key"
}

// CanWrite reports whether the principal may call mutating endpoints.
func (p *Principal) CanWrite() bool {
	return p != nil && p.Role == RoleAdmin
}

// Manager issues and validates credentials.
type Manager struct {
	secret   []byte
	apiKeys  []string
	tokenTTL time.Duration
	enabled  bool
}

// NewManager creates a manager from the security config. An empty JWT secret
// is replaced by a random one, so tokens do not survive a restart.
func NewManager(cfg config.SecurityConfig) *Manager {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = generateRandomSecret(32)
		if cfg.EnableAuth {
			log := logging.Component("auth")
			log.Warn().Msg("generated random JWT secret for session (not persistent)")
		}
	}
	return &Manager{
		secret:   []byte(secret),
		apiKeys:  cfg.APIKeys,
		tokenTTL: defaultTokenTTL,
		enabled:  cfg.EnableAuth,
	}
}

// Enabled reports whether requests must authenticate.
func (m *Manager) Enabled() bool { return m.enabled }

// GenerateToken signs a token for subject with the given role. ttl <= 0
// uses the default lifetime.
func (m *Manager) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	if role != RoleAdmin && role != RoleViewer {
		return "", fmt.Errorf("unknown role: %s", role)
	}
	if ttl <= 0 {
		ttl = m.tokenTTL
	}
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateToken verifies signature, issuer and expiry.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// ValidateAPIKey checks key against the configured keys. Entries starting
// with "$2" are bcrypt hashes; anything else is compared in constant time.
func (m *Manager) ValidateAPIKey(key string) error {
	if key == "" {
		return ErrInvalidAPIKey
	}
	for _, configured := range m.apiKeys {
		if strings.HasPrefix(configured, bcryptPrefix) {
			if bcrypt.CompareHashAndPassword([]byte(configured), []byte(key)) == nil {
				return nil
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(configured), []byte(key)) == 1 {
			return nil
		}
	}
	return ErrInvalidAPIKey
}

// HashAPIKey returns a bcrypt hash suitable for security.api_keys.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GenerateAPIKey returns a random key with an "ob_" prefix.
func GenerateAPIKey() string {
	return "ob_" + generateRandomSecret(24)
}

func generateRandomSecret(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
