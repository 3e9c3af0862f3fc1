package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ICShapy/shapy/internal/domain"
)

// Redis key patterns:
// scene:{scene_id}:lock:{object_id}   STRING<user_id>   - holder of one object

const scanCount = 100

func lockKey(sceneID, objectID string) string {
	return fmt.Sprintf("scene:%s:lock:", sceneID) + objectID
}

func lockPrefix(sceneID string) string {
	return fmt.Sprintf("scene:%s:lock:", sceneID)
}

func lockKeys(sceneID string, objectIDs []string) []string {
	keys := make([]string, len(objectIDs))
	for i, id := range objectIDs {
		keys[i] = lockKey(sceneID, id)
	}
	return keys
}

// releaseHeld deletes each of KEYS whose value is ARGV[1] and returns the
// number deleted.
var releaseHeld = redis.NewScript(`
local n = 0
for i = 1, #KEYS do
  if redis.call('GET', KEYS[i]) == ARGV[1] then
    n = n + redis.call('DEL', KEYS[i])
  end
end
return n
`)

// refreshHeld sets a PEXPIRE of ARGV[2] on each of KEYS whose value is
// ARGV[1] and returns the 1-based indexes of the keys it skipped.
var refreshHeld = redis.NewScript(`
local lost = {}
for i = 1, #KEYS do
  if redis.call('GET', KEYS[i]) == ARGV[1] then
    redis.call('PEXPIRE', KEYS[i], ARGV[2])
  else
    lost[#lost + 1] = i
  end
end
return lost
`)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

type redisLockManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLockManager creates a lock manager on Redis. A positive ttl makes
// locks expire unless their session keeps refreshing them; zero keeps them
// until released.
func NewRedisLockManager(client *redis.Client, ttl time.Duration) LockManager {
	if ttl < 0 {
		ttl = 0
	}
	return &redisLockManager{client: client, ttl: ttl}
}

func (m *redisLockManager) TryLock(ctx context.Context, sceneID, objectID, userID string) (bool, error) {
	ok, err := m.client.SetNX(ctx, lockKey(sceneID, objectID), userID, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", objectID, err)
	}
	return ok, nil
}

func (m *redisLockManager) Unlock(ctx context.Context, sceneID, objectID, userID string) (bool, error) {
	n, err := releaseHeld.Run(ctx, m.client, []string{lockKey(sceneID, objectID)}, userID).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to unlock %s: %w", objectID, err)
	}
	return n == 1, nil
}

func (m *redisLockManager) ReleaseAll(ctx context.Context, sceneID string, objectIDs []string, userID string) error {
	if len(objectIDs) == 0 {
		return nil
	}
	if err := releaseHeld.Run(ctx, m.client, lockKeys(sceneID, objectIDs), userID).Err(); err != nil {
		return fmt.Errorf("failed to release %d locks: %w", len(objectIDs), err)
	}
	return nil
}

func (m *redisLockManager) Refresh(ctx context.Context, sceneID string, objectIDs []string, userID string) ([]string, error) {
	if m.ttl == 0 || len(objectIDs) == 0 {
		return nil, nil
	}
	ms := max(m.ttl.Milliseconds(), 1)
	idx, err := refreshHeld.Run(ctx, m.client, lockKeys(sceneID, objectIDs), userID, ms).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh %d locks: %w", len(objectIDs), err)
	}
	lost := make([]string, 0, len(idx))
	for _, i := range idx {
		lost = append(lost, objectIDs[i-1])
	}
	return lost, nil
}

func (m *redisLockManager) TTL() time.Duration {
	return m.ttl
}

func (m *redisLockManager) Holders(ctx context.Context, sceneID string) ([]domain.ObjectLock, error) {
	prefix := lockPrefix(sceneID)
	match := globEscaper.Replace(prefix) + "*"

	var keys []string
	iter := m.client.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan locks: %w", err)
	}
	if len(keys) == 0 {
		return []domain.ObjectLock{}, nil
	}

	vals, err := m.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read lock holders: %w", err)
	}

	seen := make(map[string]struct{}, len(keys))
	locks := make([]domain.ObjectLock, 0, len(keys))
	for i, key := range keys {
		holder, ok := vals[i].(string)
		if !ok {
			// released between SCAN and MGET
			continue
		}
		objectID := strings.TrimPrefix(key, prefix)
		if _, dup := seen[objectID]; dup {
			continue
		}
		seen[objectID] = struct{}{}
		locks = append(locks, domain.ObjectLock{SceneID: sceneID, ObjectID: objectID, Holder: holder})
	}

	sort.Slice(locks, func(i, j int) bool { return locks[i].ObjectID < locks[j].ObjectID })
	return locks, nil
}
