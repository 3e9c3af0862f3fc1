package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ICShapy/shapy/internal/broadcast"
	"github.com/ICShapy/shapy/internal/domain"
	"github.com/ICShapy/shapy/internal/lock"
	"github.com/ICShapy/shapy/internal/permission"
	"github.com/ICShapy/shapy/internal/store"
)

var (
	ErrAccessDenied  = errors.New("access denied")
	ErrSessionClosed = errors.New("session closed")
)

// WebSocket close codes used by sessions.
const (
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Transport is the client connection of one session.
type Transport interface {
	// Send queues one text frame. It must not block.
	Send(data []byte) error
	Close(code int, reason string) error
}

// Engine bundles the shared components every session works against. It is
// built once per process and holds no per-scene state of its own.
type Engine struct {
	gate      permission.Gate
	scenes    store.SceneStore
	locks     lock.LockManager
	broadcast broadcast.Broadcaster
}

func NewEngine(
	gate permission.Gate,
	scenes store.SceneStore,
	locks lock.LockManager,
	bc broadcast.Broadcaster,
) *Engine {
	return &Engine{
		gate:      gate,
		scenes:    scenes,
		locks:     locks,
		broadcast: bc,
	}
}

// SceneState is a point-in-time view of a scene.
type SceneState struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Users    []string            `json:"users"`
	Sequence int64               `json:"seq"`
	Locks    []domain.ObjectLock `json:"locks"`
	Access   domain.Access       `json:"access"`
}

// State returns the scene as seen by userID. Users without read access get
// ErrAccessDenied.
func (e *Engine) State(ctx context.Context, sceneID, userID string) (*SceneState, error) {
	access, err := e.gate.ResolveAccess(ctx, sceneID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve access: %w", err)
	}
	if !access.CanRead() {
		return nil, ErrAccessDenied
	}

	scene, err := e.scenes.Get(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	locks, err := e.locks.Holders(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	return &SceneState{
		ID:       scene.ID,
		Name:     scene.Name,
		Users:    scene.Users,
		Sequence: scene.Sequence,
		Locks:    locks,
		Access:   access,
	}, nil
}
