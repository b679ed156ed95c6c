package model

import "time"

// CaptureStartRequest is the submit payload.
type CaptureStartRequest struct {
	SourceURL string `json:"sourceUrl" validate:"required,max=2048"`
	FileName  string `json:"fileName,omitempty" validate:"omitempty,max=150"`
}

// CaptureStartResponse is returned immediately; the pipeline runs off the
// calling path.
type CaptureStartResponse struct {
	ID              string    `json:"id"`
	ProvisionalName string    `json:"provisionalName"`
	Stage           JobStage  `json:"stage"`
	CreatedAt       time.Time `json:"createdAt"`
}

// CaptureStatusResponse is the point-in-time job snapshot returned to
// status polls. The same shape is pushed over the progress feed.
type CaptureStatusResponse struct {
	ID          string     `json:"id"`
	Stage       JobStage   `json:"stage"`
	Progress    int        `json:"progress"`
	DisplayName string     `json:"displayName,omitempty"`
	OutputName  string     `json:"outputName,omitempty"`
	Error       *string    `json:"error,omitempty"`
	OutputRef   *string    `json:"outputRef,omitempty"`
	RetryCount  int        `json:"retryCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Snapshot builds the externally visible view of a job.
func Snapshot(j *Job) *CaptureStatusResponse {
	return &CaptureStatusResponse{
		ID:          j.ID,
		Stage:       j.Stage,
		Progress:    j.Progress,
		DisplayName: j.DisplayName,
		OutputName:  j.OutputName,
		Error:       j.Error,
		OutputRef:   j.OutputRef,
		RetryCount:  j.RetryCount,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// CaptureCancelResponse acknowledges a cancel request.
type CaptureCancelResponse struct {
	ID    string   `json:"id"`
	Stage JobStage `json:"stage"`
}

// CaptureRetryResponse acknowledges a retry request.
type CaptureRetryResponse struct {
	ID         string   `json:"id"`
	Stage      JobStage `json:"stage"`
	RetryCount int      `json:"retryCount"`
}

// Track describes one stored audio object in the owner's library.
type Track struct {
	Ref       string    `json:"ref"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// LibraryResponse lists an owner's stored tracks.
type LibraryResponse struct {
	Tracks []Track `json:"tracks"`
}
