package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/trackvault/api/internal/model"
)

// fakeConn records written frames. ReadMessage blocks until the
// connection is closed, like a quiet websocket peer.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	types  []int
	closed bool
	readCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{readCh: make(chan struct{})}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, messageType)
	if messageType == websocket.TextMessage {
		f.frames = append(f.frames, append([]byte(nil), data...))
	}
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.readCh
	return 0, nil, errors.New("use of closed connection")
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.readCh)
	}
	return nil
}

func (f *fakeConn) textFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeConn) wroteClose() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.types {
		if t == websocket.CloseMessage {
			return true
		}
	}
	return false
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func snapshotAt(jobID string, stage model.JobStage, progress int) *model.CaptureStatusResponse {
	return &model.CaptureStatusResponse{
		ID:        jobID,
		Stage:     stage,
		Progress:  progress,
		CreatedAt: time.Now(),
	}
}

func decodeSnapshot(t *testing.T, frame []byte) *model.WSSnapshotMessage {
	t.Helper()
	var msg model.WSSnapshotMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Fatalf("frame is not a snapshot message: %v", err)
	}
	return &msg
}

func TestHubSubscribeEmitsCurrentSnapshot(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.HandleConnection(conn, "job-1", func() (*model.CaptureStatusResponse, error) {
			return snapshotAt("job-1", model.StageDownloading, 42), nil
		})
	}()

	waitFor(t, 2*time.Second, func() bool { return len(conn.textFrames()) >= 1 })

	msg := decodeSnapshot(t, conn.textFrames()[0])
	if msg.Type != model.WSMessageTypeSnapshot || msg.JobID != "job-1" {
		t.Errorf("unexpected first frame: %+v", msg)
	}
	if msg.Snapshot.Stage != model.StageDownloading || msg.Snapshot.Progress != 42 {
		t.Errorf("first frame should carry the current state, got %+v", msg.Snapshot)
	}

	// A terminal broadcast closes the feed from the server side.
	h.BroadcastSnapshot("job-1", snapshotAt("job-1", model.StageDone, 100))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection still open after terminal snapshot")
	}
	if !conn.wroteClose() {
		t.Error("expected a close frame after the terminal snapshot")
	}
}

func TestHubMutationDuringSubscribeIsDelivered(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := newFakeConn()
	go h.HandleConnection(conn, "job-1", func() (*model.CaptureStatusResponse, error) {
		// A mutation lands after the subscription is registered but
		// before the first read of the record completes.
		h.BroadcastSnapshot("job-1", snapshotAt("job-1", model.StageDownloading, 40))
		for len(conn.textFrames()) == 0 {
			time.Sleep(time.Millisecond)
		}
		return snapshotAt("job-1", model.StageDownloading, 55), nil
	})

	waitFor(t, 3*time.Second, func() bool { return len(conn.textFrames()) >= 2 })

	first := decodeSnapshot(t, conn.textFrames()[0])
	second := decodeSnapshot(t, conn.textFrames()[1])
	if first.Snapshot.Progress != 40 {
		t.Errorf("expected the in-flight mutation first, got progress %d", first.Snapshot.Progress)
	}
	if second.Snapshot.Progress != 55 {
		t.Errorf("expected the fetched state second, got progress %d", second.Snapshot.Progress)
	}
}

func TestHubTerminalDuringSubscribeClosesConnection(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.HandleConnection(conn, "job-1", func() (*model.CaptureStatusResponse, error) {
			h.BroadcastSnapshot("job-1", snapshotAt("job-1", model.StageCanceled, 10))
			return snapshotAt("job-1", model.StageCanceled, 10), nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription hung after a terminal snapshot landed during subscribe")
	}

	msg := decodeSnapshot(t, conn.textFrames()[0])
	if msg.Snapshot.Stage != model.StageCanceled {
		t.Errorf("expected the terminal stage, got %s", msg.Snapshot.Stage)
	}
	if !conn.wroteClose() {
		t.Error("expected a close frame")
	}
	if !conn.isClosed() {
		t.Error("expected the connection to be closed")
	}
}

func TestWritePumpCoalescesBursts(t *testing.T) {
	conn := newFakeConn()
	client := &Client{JobID: "job-1", Conn: conn, Send: make(chan outbound, 64)}
	closed := make(chan struct{})
	go client.writePump(closed)

	frame := func(progress int) []byte {
		data, err := marshalSnapshot("job-1", snapshotAt("job-1", model.StageDownloading, progress))
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		return data
	}

	client.trySend(outbound{data: frame(10)})
	waitFor(t, time.Second, func() bool { return len(conn.textFrames()) == 1 })

	// A burst inside the emission window collapses to the latest.
	client.trySend(outbound{data: frame(20)})
	client.trySend(outbound{data: frame(30)})
	client.trySend(outbound{data: frame(40)})
	waitFor(t, 3*time.Second, func() bool { return len(conn.textFrames()) == 2 })

	second := decodeSnapshot(t, conn.textFrames()[1])
	if second.Snapshot.Progress != 40 {
		t.Errorf("expected the latest snapshot of the burst, got progress %d", second.Snapshot.Progress)
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(conn.textFrames()); got != 2 {
		t.Errorf("expected 2 frames total, got %d", got)
	}

	client.shutdown()
	<-closed
}

func TestWritePumpTerminalBypassesThrottle(t *testing.T) {
	conn := newFakeConn()
	client := &Client{JobID: "job-1", Conn: conn, Send: make(chan outbound, 64)}
	closed := make(chan struct{})
	go client.writePump(closed)

	running, err := marshalSnapshot("job-1", snapshotAt("job-1", model.StageUploading, 90))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	final, err := marshalSnapshot("job-1", snapshotAt("job-1", model.StageDone, 100))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	client.trySend(outbound{data: running})
	client.trySend(outbound{data: final, terminal: true})

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("pump still running after terminal snapshot")
	}

	frames := conn.textFrames()
	if len(frames) != 2 {
		t.Fatalf("expected both frames despite the emission window, got %d", len(frames))
	}
	last := decodeSnapshot(t, frames[1])
	if last.Snapshot.Stage != model.StageDone {
		t.Errorf("expected the terminal snapshot last, got %s", last.Snapshot.Stage)
	}
	if !conn.wroteClose() {
		t.Error("expected a close frame after the terminal snapshot")
	}
	if !conn.isClosed() {
		t.Error("expected the connection to be closed so the reader unblocks")
	}
}

func TestHubDropsSlowSubscriberWithoutPanic(t *testing.T) {
	h := NewHub()
	go h.Run()

	// No write pump: the subscriber never drains its buffer.
	client := &Client{JobID: "job-1", Conn: newFakeConn(), Send: make(chan outbound, 1)}
	h.register <- client
	client.trySend(outbound{data: []byte("x")})

	// Hammer the send path from another goroutine while the hub shuts
	// the subscriber down for not draining.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			client.trySend(outbound{data: []byte(fmt.Sprintf("pong-%d", i))})
		}
	}()

	for i := 0; i < 10; i++ {
		h.BroadcastSnapshot("job-1", snapshotAt("job-1", model.StageDownloading, i))
	}
	wg.Wait()

	waitFor(t, time.Second, func() bool { return !client.trySend(outbound{data: []byte("y")}) })
}
