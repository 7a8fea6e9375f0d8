package users

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgValidationError    = "Validation error"
	msgUserAlreadyExists  = "User already exists"
	msgInvalidCredentials = "Invalid credentials"
	msgInternalError      = "Internal server error"

	msgUsernameExists = "User with that username already exists"
	msgEmailExists    = "User with that email already exists"
	msgAccountExists  = "User with that username or email already exists"
	msgInvalidBody    = "Request body must be a JSON object"
)

// ErrorEnvelope はエラーレスポンスの共通形式です。
type ErrorEnvelope struct {
	Message    string   `json:"message"`
	StatusCode int      `json:"statusCode"`
	Errors     []string `json:"errors,omitempty"`
}

// NewErrorEnvelope はステータスコードとメッセージからエラー応答を組み立てます。
func NewErrorEnvelope(status int, message string, errs ...string) ErrorEnvelope {
	return ErrorEnvelope{
		Message:    message,
		StatusCode: status,
		Errors:     errs,
	}
}

// Respond はエンベロープを JSON として書き込みます。
func (e ErrorEnvelope) Respond(c *gin.Context) {
	c.JSON(e.StatusCode, e)
}

func respondValidation(c *gin.Context, failed []string) {
	NewErrorEnvelope(http.StatusBadRequest, msgValidationError, failed...).Respond(c)
}

func respondConflict(c *gin.Context, detail string) {
	NewErrorEnvelope(http.StatusForbidden, msgUserAlreadyExists, detail).Respond(c)
}

// respondWithError は協調オブジェクトのエラーをエンベロープに変換します。
func respondWithError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, ErrUsernameTaken):
		respondConflict(c, msgUsernameExists)
	case errors.Is(err, ErrEmailTaken):
		respondConflict(c, msgEmailExists)
	case errors.Is(err, ErrUserAlreadyExists):
		respondConflict(c, msgAccountExists)
	case errors.Is(err, context.Canceled):
		NewErrorEnvelope(http.StatusRequestTimeout, "Request canceled", "The request was canceled").Respond(c)
	default:
		logger.Error("unhandled account error",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		NewErrorEnvelope(http.StatusInternalServerError, msgInternalError, "An unexpected error occurred").Respond(c)
	}
}
