package main

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yourusername/account-gateway/internal/auth"
	"github.com/yourusername/account-gateway/internal/config"
	"github.com/yourusername/account-gateway/internal/jobs"
	"github.com/yourusername/account-gateway/internal/users"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func setupJobs(cfg *config.Config, recorder jobs.ActivityRecorder, logger *zap.Logger) (*jobs.Manager, error) {
	return jobs.NewManager(cfg, recorder, logger)
}

// setupLimiter は LOGIN_LIMIT_REDIS_URL があれば Redis、無ければメモリ上のリミッターを返します。
func setupLimiter(cfg *config.Config) (users.LoginLimiter, error) {
	if cfg.LoginLimitRedisURL == "" {
		return auth.NewMemoryLimiter(), nil
	}

	opt, err := redis.ParseURL(cfg.LoginLimitRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return auth.NewRedisLimiter(client), nil
}
