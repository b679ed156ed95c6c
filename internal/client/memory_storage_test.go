package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func uploadTestObject(t *testing.T, m *MemoryStorage, prefix, name, data string) string {
	t.Helper()
	ref, err := m.Upload(context.Background(), prefix, name, strings.NewReader(data), "audio/webm")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	return ref
}

func TestMemoryStorageUploadAndFetch(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	ref := uploadTestObject(t, m, "users/u1", "song.webm", "audio-bytes")
	if !strings.HasPrefix(ref, "users/u1/") {
		t.Errorf("ref %q not under owner prefix", ref)
	}
	if !strings.HasSuffix(ref, "-song.webm") {
		t.Errorf("ref %q should end with the object name", ref)
	}

	obj, err := m.Fetch(ctx, "users/u1", ref, "")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer obj.Body.Close()

	data, _ := io.ReadAll(obj.Body)
	if string(data) != "audio-bytes" {
		t.Errorf("unexpected body %q", data)
	}
	if obj.ContentLength != int64(len("audio-bytes")) {
		t.Errorf("unexpected content length %d", obj.ContentLength)
	}
	if obj.ContentType != "audio/webm" {
		t.Errorf("unexpected content type %s", obj.ContentType)
	}
}

func TestMemoryStorageFetchRange(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()
	ref := uploadTestObject(t, m, "users/u1", "song.webm", "0123456789")

	tests := []struct {
		header    string
		wantBody  string
		wantRange string
	}{
		{"bytes=0-3", "0123", "bytes 0-3/10"},
		{"bytes=4-", "456789", "bytes 4-9/10"},
		{"bytes=-3", "789", "bytes 7-9/10"},
		{"bytes=8-99", "89", "bytes 8-9/10"},
	}

	for _, tt := range tests {
		obj, err := m.Fetch(ctx, "users/u1", ref, tt.header)
		if err != nil {
			t.Fatalf("Fetch(%s) failed: %v", tt.header, err)
		}
		data, _ := io.ReadAll(obj.Body)
		obj.Body.Close()
		if string(data) != tt.wantBody {
			t.Errorf("Fetch(%s) body = %q, want %q", tt.header, data, tt.wantBody)
		}
		if obj.ContentRange != tt.wantRange {
			t.Errorf("Fetch(%s) range = %q, want %q", tt.header, obj.ContentRange, tt.wantRange)
		}
	}

	for _, header := range []string{"bytes=99-", "bytes=5-2", "chunks=0-3", "bytes=abc-def"} {
		if _, err := m.Fetch(ctx, "users/u1", ref, header); !errors.Is(err, ErrRangeNotSatisfiable) {
			t.Errorf("Fetch(%s) expected ErrRangeNotSatisfiable, got %v", header, err)
		}
	}
}

func TestMemoryStorageNamespaceConfinement(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()
	ref := uploadTestObject(t, m, "users/u1", "song.webm", "secret")

	// Another owner cannot reach into u1's namespace.
	if _, err := m.Fetch(ctx, "users/u2", ref, ""); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected not-found for cross-owner fetch, got %v", err)
	}

	// Traversal attempts are refused outright.
	for _, bad := range []string{"", "../users/u1/x", "users/u1/../u2/x"} {
		if _, err := m.Fetch(ctx, "users/u2", bad, ""); !errors.Is(err, ErrOutsideNamespace) {
			t.Errorf("Fetch(%q) expected ErrOutsideNamespace, got %v", bad, err)
		}
	}
}

func TestMemoryStorageListAndDelete(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	ref1 := uploadTestObject(t, m, "users/u1", "one.webm", "aaa")
	uploadTestObject(t, m, "users/u1", "two.webm", "bbbb")
	uploadTestObject(t, m, "users/u2", "other.webm", "c")

	tracks, err := m.List(ctx, "users/u1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	for _, track := range tracks {
		if track.Name != "one.webm" && track.Name != "two.webm" {
			t.Errorf("unexpected display name %q", track.Name)
		}
	}

	if err := m.Delete(ctx, "users/u1", ref1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Delete(ctx, "users/u1", ref1); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("second delete expected not-found, got %v", err)
	}

	tracks, _ = m.List(ctx, "users/u1")
	if len(tracks) != 1 {
		t.Errorf("expected 1 track after delete, got %d", len(tracks))
	}
}
