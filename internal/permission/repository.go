package permission

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ICShapy/shapy/pkg/log"
)

var (
	ErrSceneNotFound = errors.New("scene not found")
	ErrGrantNotFound = errors.New("permission not found")
)

// Repository reads scene assets and their shares from the durable store.
type Repository interface {
	GetScene(ctx context.Context, id string) (*SceneAsset, error)
	// GetGrant returns the write flag of the user's share, or ErrGrantNotFound.
	GetGrant(ctx context.Context, sceneID, userID string) (bool, error)
	CreateScene(ctx context.Context, scene *SceneAsset) error
	Grant(ctx context.Context, sceneID, userID string, write bool) error
}

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM-based permission repository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// GetScene retrieves a scene asset by ID.
func (r *GormRepository) GetScene(ctx context.Context, id string) (*SceneAsset, error) {
	var model AssetModel
	result := r.db.WithContext(ctx).First(&model, "id = ? AND type = ?", id, AssetTypeScene)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSceneNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldSceneID, id).Msg("failed to get scene by id")
		return nil, result.Error
	}
	return model.ToSceneAsset(), nil
}

// GetGrant retrieves the share of a scene for one user.
func (r *GormRepository) GetGrant(ctx context.Context, sceneID, userID string) (bool, error) {
	var model PermissionModel
	result := r.db.WithContext(ctx).First(&model, "asset_id = ? AND user_id = ?", sceneID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, ErrGrantNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).
			Str(log.FieldSceneID, sceneID).
			Str(log.FieldUserID, userID).
			Msg("failed to get permission")
		return false, result.Error
	}
	return model.Write, nil
}

// CreateScene inserts a scene asset.
func (r *GormRepository) CreateScene(ctx context.Context, scene *SceneAsset) error {
	model := &AssetModel{
		ID:     scene.ID,
		Name:   scene.Name,
		Type:   AssetTypeScene,
		Owner:  scene.Owner,
		Public: scene.Public,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldSceneID, scene.ID).Msg("failed to create scene in db")
		return err
	}
	return nil
}

// Grant shares a scene with a user, replacing any existing share.
func (r *GormRepository) Grant(ctx context.Context, sceneID, userID string, write bool) error {
	model := &PermissionModel{AssetID: sceneID, UserID: userID, Write: write}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(model).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).
			Str(log.FieldSceneID, sceneID).
			Str(log.FieldUserID, userID).
			Msg("failed to save permission")
		return err
	}
	return nil
}
