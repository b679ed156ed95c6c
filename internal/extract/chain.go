package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// Result is a live audio stream plus the name of the strategy that
// produced it.
type Result struct {
	Stream   io.ReadCloser
	Strategy string
}

// Chain tries strategies in priority order and returns the first that
// yields a usable byte stream. A strategy must produce its first byte
// within the attempt timeout; once bytes flow it is allowed to continue.
type Chain struct {
	strategies []Strategy
	timeout    time.Duration
}

func NewChain(timeout time.Duration, strategies ...Strategy) *Chain {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Chain{strategies: strategies, timeout: timeout}
}

// Run attempts each strategy until one emits bytes. A source-level
// failure (ErrSourceUnavailable) aborts the chain immediately; any other
// failure advances to the next strategy. Progress callbacks from the
// active strategy are forwarded capped at 99.
func (c *Chain) Run(ctx context.Context, url string, onProgress ProgressFunc) (*Result, error) {
	normalized := NormalizeURL(url)

	var lastErr error
	for _, s := range c.strategies {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		res, err := c.attempt(ctx, s, normalized, onProgress)
		if err == nil {
			log.Printf("extract: %s succeeded for %s", s.Name(), normalized)
			return res, nil
		}
		if errors.Is(err, ErrSourceUnavailable) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("extract: %s failed: %v", s.Name(), err)
		lastErr = err
	}

	if lastErr == nil {
		return nil, errors.New("no extraction strategies configured")
	}
	return nil, fmt.Errorf("all extraction strategies failed: %w", lastErr)
}

func (c *Chain) attempt(ctx context.Context, s Strategy, url string, onProgress ProgressFunc) (*Result, error) {
	attemptCtx, cancel := context.WithCancel(ctx)

	forward := forwardProgress(onProgress)
	stream, err := s.Attempt(attemptCtx, url, forward)
	if err != nil {
		cancel()
		return nil, err
	}

	// Probe for the first byte within the attempt budget. A strategy
	// that produces nothing in time gets cancelled and the chain moves
	// on; one that starts emitting keeps the stream.
	first, err := probe(stream, c.timeout)
	if err != nil {
		cancel()
		stream.Close()
		return nil, err
	}

	return &Result{
		Stream: &chainStream{
			head:   first,
			inner:  stream,
			cancel: cancel,
		},
		Strategy: s.Name(),
	}, nil
}

// forwardProgress caps strategy progress at 99 and keeps it
// non-decreasing; 100 belongs to the runner.
func forwardProgress(onProgress ProgressFunc) ProgressFunc {
	if onProgress == nil {
		return func(int) {}
	}
	last := -1
	return func(percent int) {
		if percent > 99 {
			percent = 99
		}
		if percent <= last {
			return
		}
		last = percent
		onProgress(percent)
	}
}

func probe(r io.Reader, timeout time.Duration) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}

	ch := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 32*1024)
		n, err := r.Read(buf)
		ch <- readResult{data: buf[:n], err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if len(res.data) > 0 {
			return res.data, nil
		}
		if res.err == nil || res.err == io.EOF {
			return nil, errors.New("strategy produced zero bytes")
		}
		return nil, res.err
	case <-timer.C:
		return nil, fmt.Errorf("no data within %s", timeout)
	}
}

// chainStream replays the probed head bytes before the live stream and
// tears the attempt down on Close.
type chainStream struct {
	head   []byte
	inner  io.ReadCloser
	cancel context.CancelFunc
}

func (cs *chainStream) Read(p []byte) (int, error) {
	if len(cs.head) > 0 {
		n := copy(p, cs.head)
		cs.head = cs.head[n:]
		return n, nil
	}
	return cs.inner.Read(p)
}

func (cs *chainStream) Close() error {
	cs.cancel()
	return cs.inner.Close()
}
