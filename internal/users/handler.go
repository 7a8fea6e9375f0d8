package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

// アクティビティジョブに渡すイベント種別です。
const (
	ActivitySignup = "signup"
	ActivityLogin  = "login"
)

// Accounts はユーザーの作成・認証・検索・更新を提供します。
type Accounts interface {
	Signup(ctx context.Context, in SignupInput) (*User, error)
	// Login は認証に失敗した場合 (nil, nil) を返します。
	Login(ctx context.Context, in LoginInput) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id string, profile Profile) (*User, error)
}

// TokenIssuer は認証トークンを Cookie としてレスポンスに設定します。
type TokenIssuer interface {
	SetTokenCookie(c *gin.Context, user *User) error
}

// ActivityScheduler はサインアップ・ログイン後の記録ジョブを投入します。
type ActivityScheduler interface {
	ScheduleActivity(ctx context.Context, event, userID string) error
}

// LoginLimiter はクライアント単位でログイン失敗回数を制限します。
type LoginLimiter interface {
	// Check はロック中であれば残り時間を返します。
	Check(ctx context.Context, key string) (time.Duration, error)
	// Fail は失敗を記録し、ロックまでの残り回数を返します。
	Fail(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// HandlerOptions はハンドラー共通の任意設定です。
type HandlerOptions struct {
	Scheduler ActivityScheduler
	Limiter   LoginLimiter
	Logger    *zap.Logger

	// LegacyConflictHint が true の場合、/Signup の 400 応答の先頭に
	// "User with that email already exists" を含めます。
	LegacyConflictHint bool
}

func (o HandlerOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o HandlerOptions) schedule(c *gin.Context, event, userID string) {
	if o.Scheduler == nil {
		return
	}
	if err := o.Scheduler.ScheduleActivity(c.Request.Context(), event, userID); err != nil {
		o.logger().Warn("failed to schedule account activity",
			zap.String("event", event),
			zap.String("userId", userID),
			zap.Error(err),
		)
	}
}

// RegisterRoutes は /users 配下のルートを登録します。
func RegisterRoutes(group *gin.RouterGroup, accounts Accounts, tokens TokenIssuer, opts HandlerOptions) {
	signup := SignupHandler(accounts, tokens, opts)
	group.POST("", signup)
	group.POST("/", signup)
	group.POST("/login", LoginHandler(accounts, tokens, opts))
	group.POST("/Signup", ProfileSignupHandler(accounts, tokens, opts))
	group.GET("/Test", TestHandler)
}

// SignupHandler は POST /api/users のハンドラーを返します。
func SignupHandler(accounts Accounts, tokens TokenIssuer, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in SignupInput
		if err := bindBody(c, &in); err != nil {
			respondValidation(c, bodyErrors(err))
			return
		}

		if failed := Validate(SignupRules, in); len(failed) > 0 {
			respondValidation(c, failed)
			return
		}

		user, err := accounts.Signup(c.Request.Context(), in)
		if err != nil {
			respondWithError(c, opts.logger(), err)
			return
		}

		if err := tokens.SetTokenCookie(c, user); err != nil {
			respondWithError(c, opts.logger(), err)
			return
		}

		opts.schedule(c, ActivitySignup, user.ID)
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// LoginHandler は POST /api/users/login のハンドラーを返します。
func LoginHandler(accounts Accounts, tokens TokenIssuer, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in LoginInput
		if err := bindBody(c, &in); err != nil {
			respondValidation(c, bodyErrors(err))
			return
		}

		if failed := Validate(LoginRules, in); len(failed) > 0 {
			respondValidation(c, failed)
			return
		}

		ctx := c.Request.Context()
		ip := c.ClientIP()
		if opts.Limiter != nil {
			retryAfter, err := opts.Limiter.Check(ctx, ip)
			if err != nil {
				// 制限ストアの障害でログインを止めない
				opts.logger().Warn("login limiter check failed", zap.Error(err))
			} else if retryAfter > 0 {
				c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
				NewErrorEnvelope(http.StatusTooManyRequests, "Too many login attempts", "Try again later").Respond(c)
				return
			}
		}

		user, err := accounts.Login(ctx, in)
		if err != nil {
			respondWithError(c, opts.logger(), err)
			return
		}

		if user == nil {
			if opts.Limiter != nil {
				if _, err := opts.Limiter.Fail(ctx, ip); err != nil {
					opts.logger().Warn("login limiter record failed", zap.Error(err))
				}
			}
			NewErrorEnvelope(http.StatusUnauthorized, msgInvalidCredentials).Respond(c)
			return
		}

		if opts.Limiter != nil {
			if err := opts.Limiter.Reset(ctx, ip); err != nil {
				opts.logger().Warn("login limiter reset failed", zap.Error(err))
			}
		}

		if err := tokens.SetTokenCookie(c, user); err != nil {
			respondWithError(c, opts.logger(), err)
			return
		}

		opts.schedule(c, ActivityLogin, user.ID)
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// ProfileSignupHandler は POST /api/users/Signup のハンドラーを返します。
// 氏名を含めて検証し、ユーザー名、メールアドレスの順に重複を確認してから作成します。
func ProfileSignupHandler(accounts Accounts, tokens TokenIssuer, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in SignupInput
		if err := bindBody(c, &in); err != nil {
			respondValidation(c, bodyErrors(err))
			return
		}

		if failed := Validate(ProfileSignupRules, in); len(failed) > 0 {
			if opts.LegacyConflictHint {
				failed = append([]string{msgEmailExists}, failed...)
			}
			respondValidation(c, failed)
			return
		}

		ctx := c.Request.Context()

		existing, err := accounts.FindByUsername(ctx, in.Username)
		if err != nil {
			respondWithError(c, opts.logger(), err)
			return
		}
		if existing != nil {
			respondConflict(c, msgUsernameExists)
			return
		}

		existing, err = accounts.FindByEmail(ctx, in.Email)
		if err != nil {
			respondWithError(c, opts.logger(), err)
			return
		}
		if existing != nil {
			respondConflict(c, msgEmailExists)
			return
		}

		user, err := accounts.Signup(ctx, in)
		if err != nil {
			respondWithError(c, opts.logger(), err)
			return
		}

		created := user
		user, err = accounts.UpdateProfile(ctx, created.ID, Profile{
			FirstName: in.FirstName,
			LastName:  in.LastName,
		})
		if err != nil {
			// アカウントは作成済みのため、同じ内容での再試行は 403 になる
			opts.logger().Warn("user created without profile",
				zap.String("userId", created.ID),
				zap.String("username", created.Username),
				zap.Error(err),
			)
			respondWithError(c, opts.logger(), err)
			return
		}

		if err := tokens.SetTokenCookie(c, user); err != nil {
			respondWithError(c, opts.logger(), err)
			return
		}

		opts.schedule(c, ActivitySignup, user.ID)
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// TestHandler は GET /api/users/Test のハンドラーです。本文は返しません。
func TestHandler(c *gin.Context) {
	c.Status(http.StatusOK)
}

// bodyErrors は JSON の読み込みエラーを応答メッセージに変換します。
// 型違いのフィールドはフィールド名と期待する型を返します。
func bodyErrors(err error) []string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return []string{fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type)}
	}
	return []string{msgInvalidBody}
}

// bindBody は JSON ボディを読み込みます。空のボディは {} として扱います。
func bindBody(c *gin.Context, dst any) error {
	if c.Request.Body == nil {
		return nil
	}
	raw, err := c.GetRawData()
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return binding.JSON.BindBody(raw, dst)
}
