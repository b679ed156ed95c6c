package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trackvault/api/internal/model"
)

const casRetries = 5

// RedisStore persists job and owner records as JSON values in Redis.
// Concurrent writes to the same id are serialized with WATCH-based
// optimistic transactions.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{redis: redisClient, retention: retention}
}

func jobKey(id string) string   { return "job:" + id }
func ownerKey(id string) string { return "owner:" + id }

func (s *RedisStore) CreateJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, s.retention).Err()
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisStore) UpdateJob(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error) {
	return s.mutateJob(ctx, id, false, mutate)
}

func (s *RedisStore) SetTerminal(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error) {
	return s.mutateJob(ctx, id, true, mutate)
}

// mutateJob runs a WATCH/MULTI/EXEC read-modify-write on the job key.
// With guardTerminal set it refuses to touch a record that already holds
// a terminal stage, which makes the first terminal write win any race.
func (s *RedisStore) mutateJob(ctx context.Context, id string, guardTerminal bool, mutate func(*model.Job) error) (*model.Job, error) {
	key := jobKey(id)
	var result *model.Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if guardTerminal && job.Stage.Terminal() {
			return ErrAlreadyTerminal
		}
		if err := mutate(&job); err != nil {
			return err
		}

		out, err := json.Marshal(&job)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.retention)
			return nil
		})
		if err == nil {
			result = &job
		}
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.redis.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // key changed under us, retry
		}
		return nil, err
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", id)
}

func (s *RedisStore) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	data, err := s.redis.Get(ctx, ownerKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var owner model.Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, err
	}
	return &owner, nil
}

func (s *RedisStore) PutOwner(ctx context.Context, owner *model.Owner) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return err
	}
	// Owner namespace records do not expire.
	return s.redis.Set(ctx, ownerKey(owner.ID), data, 0).Err()
}
