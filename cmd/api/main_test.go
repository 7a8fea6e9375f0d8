package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/account-gateway/internal/auth"
	"github.com/yourusername/account-gateway/internal/config"
	"github.com/yourusername/account-gateway/internal/jobs"
	"github.com/yourusername/account-gateway/internal/storage"
	"github.com/yourusername/account-gateway/internal/users"
)

// inlineScheduler は Redis を使わずにアクティビティタスクをその場でワーカーに渡します。
type inlineScheduler struct {
	worker *jobs.ActivityWorker
}

func (s *inlineScheduler) ScheduleActivity(ctx context.Context, event, userID string) error {
	task, err := jobs.NewActivityTask(&jobs.TaskPayload{
		JobID:  uuid.NewString(),
		UserID: userID,
		Event:  event,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.worker.ProcessTask(ctx, task)
}

type testServer struct {
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		SessionSecret: "session-secret",
		JWTSecret:     "jwt-secret",
		JWTExpiresIn:  3600,
		BcryptCost:    bcrypt.MinCost,
		GinMode:       gin.TestMode,
		LogLevel:      "info",
		DatabasePath:  filepath.Join(t.TempDir(), "accounts.db"),
	}
	logger := zap.NewNop()

	store, err := storage.OpenSQLite(cfg.DatabasePath, logger)
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	service, err := users.NewService(store, cfg.BcryptCost, logger)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	authManager, err := auth.NewManager(cfg, service, logger)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	limiter, err := setupLimiter(cfg)
	if err != nil {
		t.Fatalf("setupLimiter returned error: %v", err)
	}

	sessionStore, err := newSessionStore(cfg, authManager, logger)
	if err != nil {
		t.Fatalf("newSessionStore returned error: %v", err)
	}

	router := gin.New()
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))
	setupRoutes(router, service, authManager, users.HandlerOptions{
		Scheduler: &inlineScheduler{worker: jobs.NewActivityWorker(store, logger)},
		Limiter:   limiter,
		Logger:    logger,
	})

	return &testServer{router: router, cookies: map[string]*http.Cookie{}}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range s.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(s.cookies, c.Name)
			continue
		}
		s.cookies[c.Name] = c
	}
	return rec
}

func decodeUser(t *testing.T, rec *httptest.ResponseRecorder) *users.User {
	t.Helper()
	var payload struct {
		User *users.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return payload.User
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestSignupSessionAndLoginFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/users/Signup", map[string]string{
		"firstName": "Demo",
		"lastName":  "User",
		"email":     "demo@example.com",
		"username":  "demo-user",
		"password":  "password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeUser(t, rec)
	if created == nil || created.FirstName != "Demo" || created.LastName != "User" {
		t.Fatalf("unexpected user: %#v", created)
	}
	if _, ok := s.cookies[auth.TokenCookieName]; !ok {
		t.Fatal("expected token cookie after signup")
	}

	rec = s.do(t, http.MethodGet, "/api/session", nil)
	current := decodeUser(t, rec)
	if current == nil || current.ID != created.ID {
		t.Fatalf("unexpected session user: %s", rec.Body.String())
	}
	// サインアップ後のアクティビティタスクで last_login_at が記録される
	if current.LastLoginAt == nil || current.LastLoginAt.IsZero() {
		t.Fatalf("expected lastLoginAt in session response: %s", rec.Body.String())
	}

	// 同じユーザー名での再登録は拒否される
	rec = s.do(t, http.MethodPost, "/api/users/Signup", map[string]string{
		"firstName": "Other",
		"lastName":  "User",
		"email":     "other@example.com",
		"username":  "demo-user",
		"password":  "password",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for taken username, got %d", rec.Code)
	}

	s.cookies = map[string]*http.Cookie{}
	rec = s.do(t, http.MethodPost, "/api/users/login", map[string]string{
		"credential": "demo@example.com",
		"password":   "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/users/login", map[string]string{
		"credential": "demo-user",
		"password":   "password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	if user := decodeUser(t, rec); user == nil || user.ID != created.ID || user.LastLoginAt == nil {
		t.Fatalf("unexpected login user: %s", rec.Body.String())
	}
}

func TestRunStopsWhenContextIsCanceled(t *testing.T) {
	cfg := &config.Config{
		SessionSecret: "session-secret",
		JWTSecret:     "jwt-secret",
		JWTExpiresIn:  3600,
		BcryptCost:    bcrypt.MinCost,
		Port:          "0",
		GinMode:       gin.TestMode,
		DatabasePath:  filepath.Join(t.TempDir(), "accounts.db"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, zap.NewNop())
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestBasicSignupDuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{
		"email":    "demo@example.com",
		"username": "demo-user",
		"password": "password",
	}
	if rec := s.do(t, http.MethodPost, "/api/users", body); rec.Code != http.StatusOK {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body.String())
	}

	body["username"] = "another-user"
	rec := s.do(t, http.MethodPost, "/api/users/", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", rec.Code, rec.Body.String())
	}
	var envelope users.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if envelope.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected envelope: %#v", envelope)
	}
}

func TestNewCORSConfig(t *testing.T) {
	cfg := &config.Config{CORSAllowedOrigins: " http://a.example , ,http://b.example"}
	corsConfig := newCORSConfig(cfg)
	if len(corsConfig.AllowOrigins) != 2 || corsConfig.AllowOrigins[0] != "http://a.example" {
		t.Fatalf("unexpected origins: %#v", corsConfig.AllowOrigins)
	}
	if !corsConfig.AllowCredentials {
		t.Fatal("expected credentials to be allowed")
	}

	if all := newCORSConfig(&config.Config{}); !all.AllowAllOrigins {
		t.Fatal("expected all origins when none are configured")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger(&config.Config{LogLevel: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
