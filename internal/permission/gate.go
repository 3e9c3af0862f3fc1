package permission

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/ICShapy/shapy/internal/domain"
)

// Gate answers who may see and edit a scene.
type Gate interface {
	// ResolveAccess returns the level userID has on sceneID. An empty userID
	// is anonymous. Unknown scenes resolve to NoAccess without error.
	ResolveAccess(ctx context.Context, sceneID, userID string) (domain.Access, error)

	// SceneName returns the durable name of a scene, used to seed the cache
	// the first time a scene is opened.
	SceneName(ctx context.Context, sceneID string) (string, error)
}

type gateImpl struct {
	repo Repository
	sf   singleflight.Group
}

// NewGate creates a Gate backed by repo.
func NewGate(repo Repository) Gate {
	return &gateImpl{repo: repo}
}

func (g *gateImpl) ResolveAccess(ctx context.Context, sceneID, userID string) (domain.Access, error) {
	scene, err := g.repo.GetScene(ctx, sceneID)
	if err != nil {
		if errors.Is(err, ErrSceneNotFound) {
			return domain.NoAccess, nil
		}
		return domain.NoAccess, fmt.Errorf("failed to load scene: %w", err)
	}

	if userID != "" && scene.Owner == userID {
		return domain.ReadWrite, nil
	}

	if userID != "" {
		write, err := g.repo.GetGrant(ctx, sceneID, userID)
		switch {
		case err == nil && write:
			return domain.ReadWrite, nil
		case err == nil:
			return domain.ReadOnly, nil
		case !errors.Is(err, ErrGrantNotFound):
			return domain.NoAccess, fmt.Errorf("failed to load permission: %w", err)
		}
	}

	if scene.Public {
		return domain.ReadOnly, nil
	}
	return domain.NoAccess, nil
}

func (g *gateImpl) SceneName(ctx context.Context, sceneID string) (string, error) {
	// Concurrent first opens of one scene share a single lookup
	result, err, _ := g.sf.Do(sceneID, func() (interface{}, error) {
		scene, err := g.repo.GetScene(ctx, sceneID)
		if err != nil {
			return "", err
		}
		return scene.Name, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to load scene name: %w", err)
	}

	name, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected result type from singleflight")
	}
	return name, nil
}
