// Package auth は認証トークンの発行・検証とセッション周りの機能を提供します。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/account-gateway/internal/config"
	"github.com/yourusername/account-gateway/internal/users"
)

const (
	SessionCookieName = "ag_session"
	TokenCookieName   = "token"

	sessionKeyCSRF = "csrf_token"
	csrfHeader     = "X-CSRF-Token"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// ErrInvalidToken はトークンが不正または期限切れの場合に返されます。
var ErrInvalidToken = errors.New("invalid token")

// UserFinder はトークンの subject からユーザーを取得します。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*users.User, error)
}

type tokenData struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Data tokenData `json:"data"`
}

// Manager は認証トークンの発行とセッション状態をまとめた構造体です。
type Manager struct {
	finder    UserFinder
	secret    []byte
	expiresIn time.Duration
	secure    bool
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager は認証マネージャーを作成します。
// JWT_SECRET が未設定の場合（開発時のみ許可）はプロセス毎のランダム鍵を使います。
func NewManager(cfg *config.Config, finder UserFinder, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if finder == nil {
		return nil, errors.New("finder is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("auth")

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		generated, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		secret = []byte(generated)
		logger.Warn("JWT_SECRET is not set; using an ephemeral signing key")
	}

	return &Manager{
		finder:    finder,
		secret:    secret,
		expiresIn: time.Duration(cfg.JWTExpiresIn) * time.Second,
		secure:    cfg.IsProduction(),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// MaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func (m *Manager) MaxAgeSeconds() int {
	return int(m.expiresIn.Seconds())
}

// SetTokenCookie は署名済みトークンを Cookie に設定し、CSRF トークンをセッションに保存します。
func (m *Manager) SetTokenCookie(c *gin.Context, user *users.User) error {
	if user == nil {
		return errors.New("user is nil")
	}

	token, err := m.signToken(user)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(TokenCookieName, token, m.MaxAgeSeconds(), "/", "", m.secure, true)

	csrf, err := generateToken()
	if err != nil {
		return fmt.Errorf("generate csrf token: %w", err)
	}

	session := sessions.Default(c)
	session.Set(sessionKeyCSRF, csrf)
	if err := session.Save(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	c.Header(csrfHeader, csrf)
	return nil
}

// ClearTokenCookie はトークン Cookie とセッションを削除します。
func (m *Manager) ClearTokenCookie(c *gin.Context) error {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(TokenCookieName, "", -1, "/", "", m.secure, true)

	session := sessions.Default(c)
	session.Clear()
	return session.Save()
}

func (m *Manager) signToken(user *users.User) (string, error) {
	now := m.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiresIn)),
		},
		Data: tokenData{
			ID:       user.ID,
			Email:    user.Email,
			Username: user.Username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseToken はトークンを検証し、ユーザーIDを返します。
func (m *Manager) ParseToken(raw string) (string, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// currentUser は Cookie のトークンからユーザーを復元します。見つからない場合は nil です。
func (m *Manager) currentUser(c *gin.Context) (*users.User, error) {
	raw, err := c.Cookie(TokenCookieName)
	if err != nil || raw == "" {
		return nil, nil
	}

	userID, err := m.ParseToken(raw)
	if err != nil {
		m.logger.Debug("discarding invalid token", zap.Error(err))
		c.SetCookie(TokenCookieName, "", -1, "/", "", m.secure, true)
		return nil, nil
	}

	return m.finder.FindByID(c.Request.Context(), userID)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
