package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trackvault/api/internal/client"
	"github.com/trackvault/api/internal/extract"
	"github.com/trackvault/api/internal/model"
	"github.com/trackvault/api/internal/store"
	"github.com/trackvault/api/internal/websocket"
)

var (
	// ErrInvalidSource rejects URLs that do not match the recognized
	// source pattern. Raised synchronously, before any job record exists.
	ErrInvalidSource = errors.New("invalid source URL")
	// ErrNotRetryable rejects retry requests for jobs not in the error
	// stage.
	ErrNotRetryable = errors.New("job is not retryable")
)

const defaultOutputExt = ".webm"

// CaptureService owns job submission, lookup, cancellation, retry and
// the owner's stored-track library. It is the only entry point external
// collaborators use; the worker drives running jobs through the
// state-mutation methods below.
type CaptureService struct {
	store    store.JobStore
	storage  client.StorageClient
	queue    TaskQueue
	canceler *Canceler
	hub      *websocket.Hub
}

func NewCaptureService(jobStore store.JobStore, storage client.StorageClient, queue TaskQueue, canceler *Canceler, hub *websocket.Hub) *CaptureService {
	return &CaptureService{
		store:    jobStore,
		storage:  storage,
		queue:    queue,
		canceler: canceler,
		hub:      hub,
	}
}

// Submit validates the URL shape, creates the job record in queued and
// enqueues the capture task. The long-running work happens off the
// calling path.
func (s *CaptureService) Submit(ctx context.Context, ownerID string, req *model.CaptureStartRequest) (*model.CaptureStartResponse, error) {
	if !extract.ValidSourceURL(req.SourceURL) {
		return nil, ErrInvalidSource
	}

	if _, err := s.ensureOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("failed to resolve owner namespace: %w", err)
	}

	provisional := extract.SanitizeFileName(req.FileName)
	if provisional == "" {
		provisional = "Unknown Title"
	}

	job := &model.Job{
		ID:          uuid.New().String(),
		Owner:       ownerID,
		SourceURL:   extract.NormalizeURL(req.SourceURL),
		DisplayName: provisional,
		Stage:       model.StageQueued,
		Progress:    0,
		Active:      true,
		CreatedAt:   time.Now(),
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.queue.EnqueueCapture(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("failed to enqueue capture: %w", err)
	}

	return &model.CaptureStartResponse{
		ID:              job.ID,
		ProvisionalName: provisional,
		Stage:           job.Stage,
		CreatedAt:       job.CreatedAt,
	}, nil
}

// GetStatus returns the current job snapshot. Jobs belonging to a
// different owner report not-found rather than leaking existence.
func (s *CaptureService) GetStatus(ctx context.Context, ownerID, id string) (*model.CaptureStatusResponse, error) {
	job, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	return model.Snapshot(job), nil
}

// Cancel requests cancellation. Terminal jobs are left untouched, so
// repeated cancels are no-ops. The terminal compare-and-set guarantees
// canceled never overwrites done.
func (s *CaptureService) Cancel(ctx context.Context, ownerID, id string) (*model.CaptureCancelResponse, error) {
	job, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if job.Stage.Terminal() {
		return &model.CaptureCancelResponse{ID: job.ID, Stage: job.Stage}, nil
	}

	updated, err := s.store.SetTerminal(ctx, id, func(j *model.Job) error {
		j.Stage = model.StageCanceled
		j.Active = false
		now := time.Now()
		j.CompletedAt = &now
		return nil
	})
	if errors.Is(err, store.ErrAlreadyTerminal) {
		// Lost the race against natural completion; report what won.
		job, err = s.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		return &model.CaptureCancelResponse{ID: job.ID, Stage: job.Stage}, nil
	}
	if err != nil {
		return nil, err
	}

	// Destroy the in-flight stream, if a runner picked the job up.
	s.canceler.Cancel(id)
	s.hub.BroadcastSnapshot(id, model.Snapshot(updated))

	return &model.CaptureCancelResponse{ID: updated.ID, Stage: updated.Stage}, nil
}

// Retry re-queues a failed job. Only jobs in the error stage qualify;
// canceled and completed jobs must be resubmitted.
func (s *CaptureService) Retry(ctx context.Context, ownerID, id string) (*model.CaptureRetryResponse, error) {
	job, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if job.Stage != model.StageError {
		return nil, ErrNotRetryable
	}

	updated, err := s.store.UpdateJob(ctx, id, func(j *model.Job) error {
		if j.Stage != model.StageError {
			return ErrNotRetryable
		}
		j.Stage = model.StageQueued
		j.Progress = 0
		j.Error = nil
		j.Active = true
		j.RetryCount++
		j.StartedAt = nil
		j.CompletedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.queue.EnqueueCapture(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to enqueue capture: %w", err)
	}
	s.hub.BroadcastSnapshot(id, model.Snapshot(updated))

	return &model.CaptureRetryResponse{
		ID:         updated.ID,
		Stage:      updated.Stage,
		RetryCount: updated.RetryCount,
	}, nil
}

// Library lists the owner's stored tracks.
func (s *CaptureService) Library(ctx context.Context, ownerID string) (*model.LibraryResponse, error) {
	owner, err := s.ensureOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	tracks, err := s.storage.List(ctx, owner.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list library: %w", err)
	}
	if tracks == nil {
		tracks = []model.Track{}
	}
	return &model.LibraryResponse{Tracks: tracks}, nil
}

// Open streams a stored track, honoring an optional byte-range header.
func (s *CaptureService) Open(ctx context.Context, ownerID, ref, rangeHeader string) (*client.StoredObject, error) {
	owner, err := s.ensureOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.storage.Fetch(ctx, owner.Prefix, ref, rangeHeader)
}

// Remove deletes a stored track from the owner's namespace.
func (s *CaptureService) Remove(ctx context.Context, ownerID, ref string) error {
	owner, err := s.ensureOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	return s.storage.Delete(ctx, owner.Prefix, ref)
}

// Worker-facing state mutations. The worker is the sole writer for a
// running job; every successful mutation is pushed to the hub so the
// store stays the single trigger for broadcaster emissions.

// BeginDownloading moves queued -> downloading and records the resolved
// display name.
func (s *CaptureService) BeginDownloading(ctx context.Context, id, displayName string) (*model.Job, error) {
	job, err := s.store.UpdateJob(ctx, id, func(j *model.Job) error {
		if j.Stage != model.StageQueued {
			return fmt.Errorf("job %s not in queued stage", id)
		}
		j.Stage = model.StageDownloading
		j.Progress = 0
		if displayName != "" {
			j.DisplayName = displayName
		}
		j.OutputName = extract.SanitizeFileName(j.DisplayName) + defaultOutputExt
		now := time.Now()
		j.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastSnapshot(id, model.Snapshot(job))
	return job, nil
}

// SetProgress records progress within the current stage. Updates against
// a job that already left the stage are dropped.
func (s *CaptureService) SetProgress(ctx context.Context, id string, stage model.JobStage, progress int) (*model.Job, error) {
	job, err := s.store.UpdateJob(ctx, id, func(j *model.Job) error {
		if j.Stage != stage {
			return errStaleStage
		}
		if progress > j.Progress {
			j.Progress = progress
		}
		return nil
	})
	if errors.Is(err, errStaleStage) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastSnapshot(id, model.Snapshot(job))
	return job, nil
}

var errStaleStage = errors.New("stale stage update")

// BeginUploading moves downloading -> uploading and resets progress.
func (s *CaptureService) BeginUploading(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.UpdateJob(ctx, id, func(j *model.Job) error {
		if j.Stage != model.StageDownloading {
			return fmt.Errorf("job %s not in downloading stage", id)
		}
		j.Stage = model.StageUploading
		j.Progress = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastSnapshot(id, model.Snapshot(job))
	return job, nil
}

// CompleteJob is the natural-completion terminal write.
func (s *CaptureService) CompleteJob(ctx context.Context, id, outputRef string) (*model.Job, error) {
	job, err := s.store.SetTerminal(ctx, id, func(j *model.Job) error {
		j.Stage = model.StageDone
		j.Progress = 100
		j.OutputRef = &outputRef
		j.Active = false
		now := time.Now()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastSnapshot(id, model.Snapshot(job))
	return job, nil
}

// FailJob is the error terminal write. The message is the short
// user-facing reason, never a backend diagnostic.
func (s *CaptureService) FailJob(ctx context.Context, id, errMsg string) (*model.Job, error) {
	job, err := s.store.SetTerminal(ctx, id, func(j *model.Job) error {
		j.Stage = model.StageError
		j.Error = &errMsg
		j.Active = false
		now := time.Now()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastSnapshot(id, model.Snapshot(job))
	return job, nil
}

// MarkCanceled is the cancellation terminal write used by the runner
// when its context is torn down mid-flight.
func (s *CaptureService) MarkCanceled(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.SetTerminal(ctx, id, func(j *model.Job) error {
		j.Stage = model.StageCanceled
		j.Active = false
		now := time.Now()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.BroadcastSnapshot(id, model.Snapshot(job))
	return job, nil
}

// GetJob returns the raw record; used by the worker and the hub.
func (s *CaptureService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// OwnerPrefix resolves the storage namespace for an owner.
func (s *CaptureService) OwnerPrefix(ctx context.Context, ownerID string) (string, error) {
	owner, err := s.ensureOwner(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return owner.Prefix, nil
}

// Canceler exposes the in-process cancellation registry to the worker.
func (s *CaptureService) Canceler() *Canceler {
	return s.canceler
}

func (s *CaptureService) getOwned(ctx context.Context, ownerID, id string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Owner != ownerID {
		return nil, store.ErrNotFound
	}
	return job, nil
}

// ensureOwner creates the owner namespace record on first contact.
func (s *CaptureService) ensureOwner(ctx context.Context, ownerID string) (*model.Owner, error) {
	owner, err := s.store.GetOwner(ctx, ownerID)
	if err == nil {
		return owner, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	owner = &model.Owner{
		ID:        ownerID,
		Prefix:    "users/" + ownerID,
		CreatedAt: time.Now(),
	}
	if err := s.store.PutOwner(ctx, owner); err != nil {
		return nil, err
	}
	return owner, nil
}
