package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/account-gateway/internal/users"
)

// RegisterSessionRoutes は /session 配下のルートを登録します。
func (m *Manager) RegisterSessionRoutes(group *gin.RouterGroup) {
	group.GET("", m.RestoreUser(), m.CurrentSession)
	group.DELETE("", m.RestoreUser(), m.RequireAuth(), m.VerifyCSRF(), m.Logout)
}

// CurrentSession は GET /api/session のハンドラーです。未ログインの場合は user を null で返します。
func (m *Manager) CurrentSession(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusOK, gin.H{"user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout は DELETE /api/session のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	if err := m.ClearTokenCookie(c); err != nil {
		m.logger.Error("failed to clear session", zap.Error(err))
		users.NewErrorEnvelope(http.StatusInternalServerError, "Internal server error", "Failed to clear session").Respond(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "success"})
}
