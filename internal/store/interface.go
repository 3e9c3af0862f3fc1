package store

import (
	"context"
	"errors"

	"github.com/ICShapy/shapy/internal/domain"
)

// ErrConflict is returned when Mutate keeps losing the optimistic race.
var ErrConflict = errors.New("scene modified concurrently, retries exhausted")

// SceneStore holds the shared per-scene state every node reads and writes.
type SceneStore interface {
	// Get returns the scene, seeding it from the durable name on first touch.
	Get(ctx context.Context, id string) (*domain.Scene, error)

	// Mutate applies fn to the current scene and stores the result. fn may
	// run more than once and must only modify the scene it is given.
	Mutate(ctx context.Context, id string, fn func(*domain.Scene)) (*domain.Scene, error)

	// NextSequence increments and returns the scene's broadcast counter.
	NextSequence(ctx context.Context, id string) (int64, error)

	// SequenceKey is the Redis key of the broadcast counter.
	SequenceKey(id string) string
}

// NameSource supplies the durable name of a scene.
type NameSource interface {
	SceneName(ctx context.Context, sceneID string) (string, error)
}
