package lock

import (
	"context"
	"time"

	"github.com/ICShapy/shapy/internal/domain"
)

// LockManager grants exclusive, non-blocking edit rights on scene objects.
// Release operations only remove locks still held by the given user.
type LockManager interface {
	// TryLock takes the lock if nobody holds it. It never waits; a held
	// lock, including one held by userID itself, returns false.
	TryLock(ctx context.Context, sceneID, objectID, userID string) (bool, error)

	// Unlock drops the lock if userID holds it and reports whether it did.
	Unlock(ctx context.Context, sceneID, objectID, userID string) (bool, error)

	// ReleaseAll drops every listed lock userID holds in one round trip.
	ReleaseAll(ctx context.Context, sceneID string, objectIDs []string, userID string) error

	// Refresh extends the expiry of the listed locks userID still holds and
	// returns the ones it no longer holds. Without a TTL it does nothing.
	Refresh(ctx context.Context, sceneID string, objectIDs []string, userID string) ([]string, error)

	// TTL is the lock expiry; zero means locks never expire.
	TTL() time.Duration

	// Holders lists the current locks of a scene ordered by object ID.
	Holders(ctx context.Context, sceneID string) ([]domain.ObjectLock, error)
}
