package auth

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"portfoliochat/internal/config"
	"portfoliochat/internal/redis"
	"portfoliochat/internal/storage"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func TestLoginValidateRevoke(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, nil, config.AdminConfig{Password: "s3cret"})
	ctx := context.Background()

	if _, err := svc.Login(ctx, "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	token, err := svc.Login(ctx, "s3cret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	if err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken error: %v", err)
	}
	if err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revoke, got %v", err)
	}
}

func TestLoginWithBcryptHash(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	svc := NewService(db, nil, config.AdminConfig{Password: "ignored", PasswordHash: string(hash)})
	if err := svc.CheckPassword("ignored"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("hash should take precedence, got %v", err)
	}
	if err := svc.CheckPassword("hunter2"); err != nil {
		t.Fatalf("CheckPassword error: %v", err)
	}
}

func TestLoginDisabledWithoutSecret(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, nil, config.AdminConfig{})
	if _, err := svc.Login(context.Background(), ""); !errors.Is(err, ErrAdminDisabled) {
		t.Fatalf("expected ErrAdminDisabled, got %v", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, nil, config.AdminConfig{Password: "pw"})
	svc.tokenTTL = 10 * time.Millisecond
	token, err := svc.IssueToken(context.Background())
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiration error, got %v", err)
	}
	// ensure token removed
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM admin_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("query tokens: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired token not purged")
	}
}

func TestPurgeExpired(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, nil, config.AdminConfig{Password: "pw"})
	svc.tokenTTL = time.Millisecond
	if _, err := svc.IssueToken(context.Background()); err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	n, err := svc.PurgeExpired(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one purged token, got %d %v", n, err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, nil, config.AdminConfig{Password: "pw"})
	token, err := svc.IssueToken(context.Background())
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	r := gin.New()
	r.GET("/admin", svc.Middleware(), func(c *gin.Context) {
		if got, ok := AuthTokenFromContext(c); !ok || got != token {
			t.Errorf("token missing from context: %q", got)
		}
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: svc.AuthCookieName(), Value: token}) }, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status %d, want %d", w.Code, tc.status)
			}
		})
	}
}

func TestCSRFMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(nil, nil, config.AdminConfig{})
	r := gin.New()
	r.POST("/x", svc.CSRFMiddleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing csrf token should be rejected, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: "abc"})
	req.Header.Set(svc.CSRFHeaderName(), "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("matching csrf token should pass, got %d", w.Code)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func TestTokenCacheUsesRedis(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	cacheClient, cleanup := newRedisCacheClient(t)
	defer cleanup()

	svc := NewService(db, cacheClient, config.AdminConfig{Password: "pw"})
	ctx := context.Background()

	token, err := svc.IssueToken(ctx)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	raw := cacheClient.Raw()
	if raw == nil {
		t.Fatalf("redis raw client nil")
	}
	key := redisTokenPrefix + token
	got, err := raw.Get(ctx, key).Result()
	if err != nil {
		t.Fatalf("get redis token: %v", err)
	}
	if got != "1" {
		t.Fatalf("expected cached marker, got %s", got)
	}

	_, _ = db.Exec(`DELETE FROM admin_tokens WHERE token = ?`, token)
	if err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("ValidateToken via redis failed: %v", err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := raw.Get(ctx, key).Result(); err == nil {
		t.Fatalf("expected redis key deleted")
	}
	if err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected error after revoke and redis delete")
	}
}

func newRedisCacheClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := redis.NewRedisClient(&config.Config{
		Redis: config.RedisConfig{Host: host, Port: port, DB: db},
	})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Raw().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	return client, func() { client.Close() }
}
