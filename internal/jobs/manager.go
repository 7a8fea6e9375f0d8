// Package jobs はサインアップ・ログイン後の非同期ジョブを管理します。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/account-gateway/internal/config"
	"github.com/yourusername/account-gateway/internal/users"
)

// Manager はジョブの投入とワーカーの実行を担います。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	worker *ActivityWorker
	logger *zap.Logger
	now    func() time.Time
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, recorder ActivityRecorder, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if recorder == nil {
		return nil, errors.New("recorder is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client: client,
		server: server,
		mux:    mux,
		worker: NewActivityWorker(recorder, logger),
		logger: logger.Named("jobs"),
		now:    time.Now,
	}
	mux.Handle(taskTypeActivity, manager.worker)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", zap.Error(err))
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// ScheduleActivity は users.ActivityScheduler の実装です。
func (m *Manager) ScheduleActivity(ctx context.Context, event, userID string) error {
	_, err := m.Enqueue(ctx, &TaskPayload{
		JobID:  uuid.NewString(),
		UserID: userID,
		Event:  event,
		At:     m.now().UTC(),
	})
	return err
}

// Enqueue はジョブをキューに投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	task, err := NewActivityTask(payload)
	if err != nil {
		return "", err
	}
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func validatePayload(payload *TaskPayload) error {
	if payload == nil {
		return fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return fmt.Errorf("payload.JobID is required")
	}
	if payload.UserID == "" {
		return fmt.Errorf("payload.UserID is required")
	}
	switch payload.Event {
	case users.ActivitySignup, users.ActivityLogin:
	default:
		return fmt.Errorf("unsupported event: %q", payload.Event)
	}
	if payload.At.IsZero() {
		return fmt.Errorf("payload.At is required")
	}
	return nil
}
