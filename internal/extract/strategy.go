package extract

import (
	"context"
	"errors"
	"io"
)

// ErrSourceUnavailable marks failures where the origin content itself
// cannot be fetched (deleted, private, age-restricted). The chain stops
// immediately instead of trying further strategies.
var ErrSourceUnavailable = errors.New("source unavailable")

// ProgressFunc receives download progress as a percentage. Strategies
// report 0-99; 100 is reserved for the runner signaling completion.
type ProgressFunc func(percent int)

// Strategy is one backend capable of turning a source URL into a live
// audio byte stream. Attempt must honor ctx cancellation; closing the
// returned stream releases everything the attempt holds (processes,
// scratch files).
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, url string, onProgress ProgressFunc) (io.ReadCloser, error)
}

// unavailable wraps err so it is classified as a source-level failure.
func unavailable(err error) error {
	return errors.Join(ErrSourceUnavailable, err)
}
