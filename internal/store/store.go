package store

import (
	"context"
	"errors"

	"github.com/trackvault/api/internal/model"
)

var (
	// ErrNotFound is returned when no job record exists for an id.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyTerminal is returned by SetTerminal when the job already
	// reached done, error or canceled. The losing write is discarded.
	ErrAlreadyTerminal = errors.New("job already terminal")
)

// JobStore is the persistence contract for job and owner records. The
// worker is the only writer for a running job; UpdateJob and SetTerminal
// apply the mutation under a per-id read-modify-write so readers never
// observe a partially written record.
type JobStore interface {
	// CreateJob persists a new job record. The record must exist before
	// the runner is started.
	CreateJob(ctx context.Context, job *model.Job) error

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, id string) (*model.Job, error)

	// UpdateJob applies mutate to the current record and persists the
	// result atomically with respect to other writers on the same id.
	UpdateJob(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error)

	// SetTerminal is the terminal-state compare-and-set: it applies
	// mutate and persists only if the job is not already terminal,
	// otherwise it returns ErrAlreadyTerminal and leaves the record
	// untouched. Cancellation racing natural completion resolves here.
	SetTerminal(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error)

	// GetOwner retrieves an owner namespace record.
	GetOwner(ctx context.Context, id string) (*model.Owner, error)

	// PutOwner persists an owner namespace record.
	PutOwner(ctx context.Context, owner *model.Owner) error
}
