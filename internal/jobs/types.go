package jobs

import "time"

const (
	taskTypeActivity = "account:activity"
	queueName        = "accounts"
)

// TaskPayload はアカウントアクティビティジョブのペイロードです。
type TaskPayload struct {
	JobID  string    `json:"jobId"`
	UserID string    `json:"userId"`
	Event  string    `json:"event"`
	At     time.Time `json:"at"`
}
