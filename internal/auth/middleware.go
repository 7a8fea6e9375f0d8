package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/account-gateway/internal/users"
)

// RestoreUser は Cookie のトークンからユーザーを復元し、コンテキストに設定するミドルウェアです。
// トークンが無い、または無効な場合でもリクエストは継続します。
func (m *Manager) RestoreUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := m.currentUser(c)
		if err != nil {
			m.logger.Error("failed to restore user", zap.Error(err))
			users.NewErrorEnvelope(http.StatusInternalServerError, "Internal server error", "An unexpected error occurred").Respond(c)
			c.Abort()
			return
		}
		if user != nil {
			c.Set(ContextUserKey, user)
		}
		c.Next()
	}
}

// RequireAuth はログイン済みであることを要求するミドルウェアです。RestoreUser の後に置きます。
func (m *Manager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			users.NewErrorEnvelope(http.StatusUnauthorized, "Authentication required", "Authentication required").Respond(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			users.NewErrorEnvelope(http.StatusForbidden, "Invalid CSRF token", "CSRF token is not set").Respond(c)
			c.Abort()
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			users.NewErrorEnvelope(http.StatusForbidden, "Invalid CSRF token", "CSRF token does not match").Respond(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// CurrentUser はコンテキストに設定されたユーザーを返します。
func CurrentUser(c *gin.Context) *users.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*users.User)
	return user
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
