package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ICShapy/shapy/internal/domain"
	"github.com/ICShapy/shapy/pkg/log"
)

// Redis key patterns:
// scene:{scene_id}        HASH    - name, users (JSON array)
// scene:{scene_id}:seq    STRING  - broadcast sequence counter

const (
	fieldName  = "name"
	fieldUsers = "users"
)

func sceneKey(id string) string {
	return fmt.Sprintf("scene:%s", id)
}

func sequenceKey(id string) string {
	return fmt.Sprintf("scene:%s:seq", id)
}

// Options tunes Mutate.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

type redisStore struct {
	client  *redis.Client
	names   NameSource
	retries int
	backoff time.Duration
}

// NewRedisStore creates a Redis-backed scene store. names may be nil, in
// which case new scenes get the default name.
func NewRedisStore(client *redis.Client, names NameSource, opts Options) SceneStore {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 16
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	return &redisStore{
		client:  client,
		names:   names,
		retries: opts.MaxRetries,
		backoff: opts.RetryBackoff,
	}
}

func (s *redisStore) SequenceKey(id string) string {
	return sequenceKey(id)
}

func (s *redisStore) Get(ctx context.Context, id string) (*domain.Scene, error) {
	scene, err := s.load(ctx, s.client, id)
	if err != nil {
		return nil, err
	}

	if scene == nil {
		name, err := s.durableName(ctx, id)
		if err != nil {
			return nil, err
		}
		// HSETNX keeps a concurrent seed or mutation intact
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSetNX(ctx, sceneKey(id), fieldName, name)
			pipe.HSetNX(ctx, sceneKey(id), fieldUsers, "[]")
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to seed scene: %w", err)
		}
		if scene, err = s.load(ctx, s.client, id); err != nil {
			return nil, err
		}
		if scene == nil {
			return nil, fmt.Errorf("scene %s vanished after seeding", id)
		}
	}

	seq, err := s.sequence(ctx, id)
	if err != nil {
		return nil, err
	}
	scene.Sequence = seq
	return scene, nil
}

func (s *redisStore) Mutate(ctx context.Context, id string, fn func(*domain.Scene)) (*domain.Scene, error) {
	key := sceneKey(id)

	for attempt := 0; attempt < s.retries; attempt++ {
		var result *domain.Scene

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			scene, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if scene == nil {
				name, err := s.durableName(ctx, id)
				if err != nil {
					return err
				}
				scene = domain.NewScene(id, name)
			}

			fn(scene)

			users, err := json.Marshal(scene.Users)
			if err != nil {
				return fmt.Errorf("failed to marshal users: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldName, scene.Name, fieldUsers, users)
				return nil
			})
			if err != nil {
				return err
			}
			result = scene
			return nil
		}, key)

		if err == nil {
			seq, err := s.sequence(ctx, id)
			if err != nil {
				return nil, err
			}
			result.Sequence = seq
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("failed to mutate scene: %w", err)
		}

		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldSceneID, id).Int("attempt", attempt+1).Msg("scene mutation lost race, retrying")

		if s.backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * s.backoff):
			}
		}
	}

	return nil, fmt.Errorf("scene %s: %w", id, ErrConflict)
}

func (s *redisStore) NextSequence(ctx context.Context, id string) (int64, error) {
	seq, err := s.client.Incr(ctx, sequenceKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}
	return seq, nil
}

// load reads the scene hash. It returns nil when the scene was never seeded.
func (s *redisStore) load(ctx context.Context, c redis.Cmdable, id string) (*domain.Scene, error) {
	vals, err := c.HMGet(ctx, sceneKey(id), fieldName, fieldUsers).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read scene: %w", err)
	}
	if vals[0] == nil && vals[1] == nil {
		return nil, nil
	}

	name, _ := vals[0].(string)
	scene := domain.NewScene(id, name)

	if raw, ok := vals[1].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &scene.Users); err != nil {
			return nil, fmt.Errorf("failed to decode users of scene %s: %w", id, err)
		}
		if scene.Users == nil {
			scene.Users = []string{}
		}
	}
	return scene, nil
}

func (s *redisStore) sequence(ctx context.Context, id string) (int64, error) {
	raw, err := s.client.Get(ctx, sequenceKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence %q: %w", raw, err)
	}
	return seq, nil
}

func (s *redisStore) durableName(ctx context.Context, id string) (string, error) {
	if s.names == nil {
		return domain.DefaultSceneName, nil
	}
	name, err := s.names.SceneName(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to seed scene %s: %w", id, err)
	}
	if name == "" {
		name = domain.DefaultSceneName
	}
	return name, nil
}
