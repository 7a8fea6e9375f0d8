package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/account-gateway/internal/users"
)

// ActivityRecorder は最終ログイン日時を保存します。
type ActivityRecorder interface {
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// NewActivityTask はペイロードを検証し、投入用のタスクを作成します。
func NewActivityTask(payload *TaskPayload) (*asynq.Task, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskTypeActivity, body, asynq.Queue(queueName), asynq.TaskID(payload.JobID)), nil
}

// ActivityWorker は account:activity タスクを処理する asynq.Handler です。
type ActivityWorker struct {
	recorder ActivityRecorder
	logger   *zap.Logger
}

var _ asynq.Handler = (*ActivityWorker)(nil)

// NewActivityWorker は ActivityWorker を作成します。
func NewActivityWorker(recorder ActivityRecorder, logger *zap.Logger) *ActivityWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityWorker{recorder: recorder, logger: logger.Named("jobs.worker")}
}

// ProcessTask はユーザーの last_login_at を更新します。
// 壊れたペイロードと存在しないユーザーは再試行しません。
func (w *ActivityWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if err := validatePayload(&payload); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With(
		zap.String("jobId", payload.JobID),
		zap.String("userId", payload.UserID),
		zap.String("event", payload.Event),
	)

	if err := w.recorder.TouchLogin(ctx, payload.UserID, payload.At); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			log.Warn("activity for unknown user dropped")
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		log.Error("failed to record activity", zap.Error(err))
		return err
	}

	log.Debug("activity recorded")
	return nil
}
