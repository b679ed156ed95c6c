package model

import "time"

// Job stage
type JobStage string

const (
	StageQueued      JobStage = "queued"
	StageDownloading JobStage = "downloading"
	StageUploading   JobStage = "uploading"
	StageDone        JobStage = "done"
	StageError       JobStage = "error"
	StageCanceled    JobStage = "canceled"
)

// Terminal reports whether no further stage transitions are permitted.
func (s JobStage) Terminal() bool {
	return s == StageDone || s == StageError || s == StageCanceled
}

// Job represents one capture pipeline execution: source URL in, stored
// audio object out. The worker is the sole writer once the job leaves
// queued; readers always get a full snapshot.
type Job struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	SourceURL   string     `json:"sourceUrl"`
	DisplayName string     `json:"displayName,omitempty"`
	OutputName  string     `json:"outputName,omitempty"`
	Stage       JobStage   `json:"stage"`
	Progress    int        `json:"progress"`
	Error       *string    `json:"error,omitempty"`
	OutputRef   *string    `json:"outputRef,omitempty"`
	Active      bool       `json:"active"`
	RetryCount  int        `json:"retryCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Owner holds the per-user storage namespace record.
type Owner struct {
	ID        string    `json:"id"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"createdAt"`
}
