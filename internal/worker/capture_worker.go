package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/trackvault/api/internal/client"
	"github.com/trackvault/api/internal/extract"
	"github.com/trackvault/api/internal/model"
	"github.com/trackvault/api/internal/service"
	"github.com/trackvault/api/internal/store"
)

// User-facing failure reasons. Snapshots never carry backend
// diagnostics.
const (
	msgSourceUnavailable = "The video is unavailable, private or restricted"
	msgExtractionFailed  = "All download methods failed; the source may be blocking requests"
	msgUploadFailed      = "Uploading the audio to storage failed"
)

// CaptureWorker drives one capture job through its state machine:
// queued -> downloading -> uploading -> done, with error and canceled
// reachable from the non-terminal stages. The extraction stream is
// piped straight into the upload sink without buffering the whole
// object in memory.
type CaptureWorker struct {
	service  *service.CaptureService
	storage  client.StorageClient
	chain    *extract.Chain
	resolver *extract.InfoResolver
}

func NewCaptureWorker(captureService *service.CaptureService, storage client.StorageClient, chain *extract.Chain, resolver *extract.InfoResolver) *CaptureWorker {
	return &CaptureWorker{
		service:  captureService,
		storage:  storage,
		chain:    chain,
		resolver: resolver,
	}
}

// ProcessTask handles one capture task. Job-level failures are written
// to the store and reported as handled (nil): retries are user-driven
// through Retry, never asynq's.
func (w *CaptureWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.CaptureTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	jobID := payload.JobID

	job, err := w.service.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Capture job %s expired before processing", jobID)
			return nil
		}
		return err
	}

	// Canceled before the runner started, or an older task for a job
	// that moved on. Either way this runner has nothing to do.
	if job.Stage != model.StageQueued {
		log.Printf("Capture job %s in stage %s, skipping", jobID, job.Stage)
		return nil
	}

	log.Printf("Starting capture job %s: %s", jobID, job.SourceURL)

	// jobCtx is what a cancel request tears down; terminal writes go
	// through the background context so they land even after teardown.
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.service.Canceler().Register(jobID, cancel)
	defer w.service.Canceler().Unregister(jobID)

	w.run(jobCtx, job)
	return nil
}

func (w *CaptureWorker) run(ctx context.Context, job *model.Job) {
	jobID := job.ID

	// Resolve the display name best-effort before downloading.
	displayName := job.DisplayName
	if displayName == "" || displayName == "Unknown Title" {
		if info := w.resolver.Resolve(ctx, job.SourceURL); info.Title != "" {
			displayName = info.Title
		}
	}

	job, err := w.service.BeginDownloading(ctx, jobID, displayName)
	if err != nil {
		// A cancel won the race before downloading began.
		log.Printf("Capture job %s could not enter downloading: %v", jobID, err)
		return
	}

	result, err := w.chain.Run(ctx, job.SourceURL, func(pct int) {
		w.service.SetProgress(ctx, jobID, model.StageDownloading, pct)
	})
	if err != nil {
		w.finishWithError(ctx, jobID, classifyChainError(ctx, err))
		return
	}
	defer result.Stream.Close()

	if _, err := w.service.BeginUploading(ctx, jobID); err != nil {
		log.Printf("Capture job %s could not enter uploading: %v", jobID, err)
		return
	}

	prefix, err := w.service.OwnerPrefix(ctx, job.Owner)
	if err != nil {
		w.finishWithError(ctx, jobID, msgUploadFailed)
		return
	}

	// The sink reports no transfer feedback, so upload progress is an
	// elapsed-time estimate that approaches but never reaches done.
	stopEstimate := w.estimateUploadProgress(ctx, jobID)
	ref, err := w.storage.Upload(ctx, prefix, job.OutputName, result.Stream, "audio/webm")
	stopEstimate()
	if err != nil {
		w.finishWithError(ctx, jobID, msgUploadFailed)
		return
	}

	if _, err := w.service.CompleteJob(context.Background(), jobID, ref); err != nil {
		if errors.Is(err, store.ErrAlreadyTerminal) {
			// Cancellation won the terminal race; the stored object is
			// orphaned, remove it best-effort.
			log.Printf("Capture job %s canceled during upload, removing %s", jobID, ref)
			w.storage.Delete(context.Background(), prefix, ref)
			return
		}
		log.Printf("Capture job %s completed but could not be recorded: %v", jobID, err)
		return
	}

	log.Printf("Capture job %s completed via %s -> %s", jobID, result.Strategy, ref)
}

// finishWithError writes the terminal stage for a failed or canceled
// job. Context teardown means cancellation, not error.
func (w *CaptureWorker) finishWithError(ctx context.Context, jobID, message string) {
	if ctx.Err() != nil || message == "" {
		if _, err := w.service.MarkCanceled(context.Background(), jobID); err != nil && !errors.Is(err, store.ErrAlreadyTerminal) {
			log.Printf("Failed to mark job %s canceled: %v", jobID, err)
		}
		return
	}
	if _, err := w.service.FailJob(context.Background(), jobID, message); err != nil && !errors.Is(err, store.ErrAlreadyTerminal) {
		log.Printf("Failed to mark job %s failed: %v", jobID, err)
	}
}

// classifyChainError maps chain failures to short user-facing reasons.
// An empty return means cancellation.
func classifyChainError(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return ""
	case errors.Is(err, extract.ErrSourceUnavailable):
		return msgSourceUnavailable
	default:
		return msgExtractionFailed
	}
}

// estimateUploadProgress advances the uploading progress once a second,
// asymptotically toward 95, until stopped.
func (w *CaptureWorker) estimateUploadProgress(ctx context.Context, jobID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		pct := 0
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				pct += (95-pct)/10 + 1
				if pct > 95 {
					pct = 95
				}
				w.service.SetProgress(ctx, jobID, model.StageUploading, pct)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
