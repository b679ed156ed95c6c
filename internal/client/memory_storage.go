package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trackvault/api/internal/model"
)

// ErrObjectNotFound is returned by Fetch and Delete for unknown refs.
var ErrObjectNotFound = errors.New("stored object not found")

type memObject struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

// MemoryStorage is an in-process StorageClient for tests and development
// runs without R2 credentials. Range semantics mirror the S3 behavior.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memObject)}
}

func (m *MemoryStorage) Upload(ctx context.Context, prefix, name string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	ref := fmt.Sprintf("%s/%s-%s", prefix, uuid.New().String()[:8], name)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ref] = memObject{
		data:        data,
		contentType: contentType,
		createdAt:   time.Now(),
	}
	return ref, nil
}

func (m *MemoryStorage) List(ctx context.Context, prefix string) ([]model.Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tracks []model.Track
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix+"/") {
			continue
		}
		tracks = append(tracks, model.Track{
			Ref:       key,
			Name:      displayName(key),
			Size:      int64(len(obj.data)),
			CreatedAt: obj.createdAt,
		})
	}
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].CreatedAt.After(tracks[j].CreatedAt)
	})
	return tracks, nil
}

func (m *MemoryStorage) Fetch(ctx context.Context, prefix, ref, rangeHeader string) (*StoredObject, error) {
	key, err := resolveKey(prefix, ref)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}

	size := int64(len(obj.data))
	if rangeHeader == "" {
		return &StoredObject{
			Body:          io.NopCloser(bytes.NewReader(obj.data)),
			ContentType:   obj.contentType,
			ContentLength: size,
		}, nil
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		return nil, err
	}

	return &StoredObject{
		Body:          io.NopCloser(bytes.NewReader(obj.data[start : end+1])),
		ContentType:   obj.contentType,
		ContentLength: end - start + 1,
		ContentRange:  fmt.Sprintf("bytes %d-%d/%d", start, end, size),
	}, nil
}

func (m *MemoryStorage) Delete(ctx context.Context, prefix, ref string) error {
	key, err := resolveKey(prefix, ref)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

// parseRange handles the "bytes=start-end" forms, including open-ended
// and suffix ranges.
func parseRange(rangeHeader string, size int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(rangeHeader, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("%w: unsupported unit in %q", ErrRangeNotSatisfiable, rangeHeader)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: malformed %q", ErrRangeNotSatisfiable, rangeHeader)
	}

	if startStr == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("%w: malformed %q", ErrRangeNotSatisfiable, rangeHeader)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, fmt.Errorf("%w: out of bounds %q", ErrRangeNotSatisfiable, rangeHeader)
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("%w: malformed %q", ErrRangeNotSatisfiable, rangeHeader)
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, nil
}
