package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeCapture is the asynq task type for capture jobs.
	TaskTypeCapture = "capture:process"
	// QueueCapture is the asynq queue capture tasks run on.
	QueueCapture = "capture"
)

// CaptureTaskPayload is the asynq task body; the job record itself
// lives in the store.
type CaptureTaskPayload struct {
	JobID string `json:"jobId"`
}

// TaskQueue hands jobs to the runner pool.
type TaskQueue interface {
	EnqueueCapture(ctx context.Context, jobID string) error
}

// AsynqQueue enqueues capture tasks on the asynq capture queue. Failed
// jobs are retried through Retry(), not by asynq, so MaxRetry is zero.
type AsynqQueue struct {
	client *asynq.Client
}

func NewAsynqQueue(client *asynq.Client) *AsynqQueue {
	return &AsynqQueue{client: client}
}

func (q *AsynqQueue) EnqueueCapture(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(CaptureTaskPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeCapture, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueCapture),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	return err
}
