package permission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICShapy/shapy/internal/domain"
	"github.com/ICShapy/shapy/pkg/database"
)

func newTestRepository(t *testing.T) *GormRepository {
	t.Helper()
	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     "file:" + t.Name() + "?mode=memory&cache=shared",
		LogLevel:     "silent",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, Models()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewGormRepository(db)
}

func seed(t *testing.T, repo *GormRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateScene(ctx, &SceneAsset{ID: "7", Name: "", Owner: "alice"}))
	require.NoError(t, repo.CreateScene(ctx, &SceneAsset{ID: "8", Name: "Plaza", Owner: "alice", Public: true}))
	require.NoError(t, repo.Grant(ctx, "7", "bob", true))
	require.NoError(t, repo.Grant(ctx, "7", "carol", false))
	require.NoError(t, repo.Grant(ctx, "8", "dave", false))
}

func TestResolveAccess(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)
	gate := NewGate(repo)

	tests := []struct {
		name   string
		scene  string
		user   string
		access domain.Access
	}{
		{"owner", "7", "alice", domain.ReadWrite},
		{"write share", "7", "bob", domain.ReadWrite},
		{"read share", "7", "carol", domain.ReadOnly},
		{"stranger on private", "7", "eve", domain.NoAccess},
		{"anonymous on private", "7", "", domain.NoAccess},
		{"stranger on public", "8", "eve", domain.ReadOnly},
		{"anonymous on public", "8", "", domain.ReadOnly},
		{"read share on public", "8", "dave", domain.ReadOnly},
		{"owner on public", "8", "alice", domain.ReadWrite},
		{"missing scene", "404", "alice", domain.NoAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			access, err := gate.ResolveAccess(context.Background(), tt.scene, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.access, access)
		})
	}
}

func TestGrantReplacesShare(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)
	ctx := context.Background()

	require.NoError(t, repo.Grant(ctx, "7", "bob", false))
	write, err := repo.GetGrant(ctx, "7", "bob")
	require.NoError(t, err)
	assert.False(t, write)

	_, err = repo.GetGrant(ctx, "7", "nobody")
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestSceneName(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)
	gate := NewGate(repo)

	name, err := gate.SceneName(context.Background(), "8")
	require.NoError(t, err)
	assert.Equal(t, "Plaza", name)

	name, err = gate.SceneName(context.Background(), "7")
	require.NoError(t, err)
	assert.Empty(t, name)

	_, err = gate.SceneName(context.Background(), "404")
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

type countingRepo struct {
	Repository
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (r *countingRepo) GetScene(ctx context.Context, id string) (*SceneAsset, error) {
	if r.calls.Add(1) == 1 {
		close(r.entered)
	}
	<-r.release
	return &SceneAsset{ID: id, Name: "Shared"}, nil
}

func TestSceneNameCoalescesConcurrentLookups(t *testing.T) {
	repo := &countingRepo{entered: make(chan struct{}), release: make(chan struct{})}
	gate := NewGate(repo)

	const n = 8
	var wg sync.WaitGroup
	names := make([]string, n)
	lookup := func(i int) {
		defer wg.Done()
		names[i], _ = gate.SceneName(context.Background(), "1")
	}

	wg.Add(1)
	go lookup(0)
	<-repo.entered

	wg.Add(n - 1)
	for i := 1; i < n; i++ {
		go lookup(i)
	}
	// let the rest reach the in-flight lookup
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	for _, name := range names {
		assert.Equal(t, "Shared", name)
	}
	assert.Equal(t, int32(1), repo.calls.Load())
}

type failingRepo struct {
	Repository
}

func (failingRepo) GetScene(context.Context, string) (*SceneAsset, error) {
	return nil, errors.New("connection refused")
}

func TestResolveAccessStoreFailure(t *testing.T) {
	gate := NewGate(failingRepo{})

	access, err := gate.ResolveAccess(context.Background(), "7", "alice")
	assert.Error(t, err)
	assert.Equal(t, domain.NoAccess, access)
}
