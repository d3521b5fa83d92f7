package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"portfoliochat/internal/config"
	"portfoliochat/internal/redis"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPassword = errors.New("access denied")
	ErrAdminDisabled   = errors.New("admin access not configured")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
)

const redisTokenPrefix = "admin_token:"

// Service guards the admin surface with one shared password and issues opaque
// session tokens once it has been presented.
type Service struct {
	db             *sql.DB
	cache          *redis.Client
	tokenTTL       time.Duration
	password       string
	passwordHash   []byte
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService builds the admin auth service. cache may be nil.
func NewService(db *sql.DB, cache *redis.Client, cfg config.AdminConfig) *Service {
	ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	s := &Service{
		db:             db,
		cache:          cache,
		tokenTTL:       ttl,
		password:       cfg.Password,
		cookieName:     "admin_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
	if hash := strings.TrimSpace(cfg.PasswordHash); hash != "" {
		s.passwordHash = []byte(hash)
	}
	return s
}

// Enabled reports whether any admin secret is configured.
func (s *Service) Enabled() bool {
	return s.password != "" || len(s.passwordHash) > 0
}

// CheckPassword compares password with the configured secret. A bcrypt hash
// takes precedence over a plain password.
func (s *Service) CheckPassword(password string) error {
	if !s.Enabled() {
		return ErrAdminDisabled
	}
	if password == "" {
		return ErrInvalidPassword
	}
	if len(s.passwordHash) > 0 {
		if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
			return ErrInvalidPassword
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

// Login checks password and issues a new admin token.
func (s *Service) Login(ctx context.Context, password string) (string, error) {
	if err := s.CheckPassword(password); err != nil {
		return "", err
	}
	return s.IssueToken(ctx)
}

// IssueToken mints a random token and persists it.
func (s *Service) IssueToken(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO admin_tokens (token, created_at, expires_at) VALUES (?, ?, ?)`,
			token, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, token, s.tokenTTL)
			return token, nil
		}
	}
	return "", errors.New("could not issue token")
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token exists and has not expired.
func (s *Service) ValidateToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, redisTokenPrefix+token); err == nil && val == "1" {
			return nil
		} else if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("auth: token cache lookup failed: %v", err)
		}
	}
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM admin_tokens WHERE token = ?`, token,
	).Scan(&expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return fmt.Errorf("lookup token: %w", err)
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM admin_tokens WHERE token = ?`, token)
		return ErrTokenExpired
	}
	s.cacheToken(ctx, token, remaining)
	return nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, redisTokenPrefix+token); err != nil {
			log.Printf("auth: token cache delete failed: %v", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM admin_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// PurgeExpired removes expired tokens and reports how many were deleted.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM admin_tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *Service) cacheToken(ctx context.Context, token string, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, redisTokenPrefix+token, "1", ttl); err != nil {
		log.Printf("auth: token cache write failed: %v", err)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing admin tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
