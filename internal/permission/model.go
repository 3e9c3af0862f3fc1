package permission

import "time"

// AssetTypeScene is the asset type this service edits.
const AssetTypeScene = "scene"

// AssetModel is the GORM model for the assets table.
type AssetModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Name      string    `gorm:"type:varchar(255)"`
	Type      string    `gorm:"type:varchar(20);index;not null"`
	Owner     string    `gorm:"type:varchar(36);index;not null"`
	Public    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for AssetModel.
func (AssetModel) TableName() string {
	return "assets"
}

// PermissionModel is a per-user share of one asset.
type PermissionModel struct {
	AssetID string `gorm:"type:varchar(36);primaryKey"`
	UserID  string `gorm:"type:varchar(36);primaryKey"`
	Write   bool   `gorm:"not null;default:false"`
}

// TableName specifies the table name for PermissionModel.
func (PermissionModel) TableName() string {
	return "permissions"
}

// SceneAsset is the part of a durable scene record the engine reads.
type SceneAsset struct {
	ID     string
	Name   string
	Owner  string
	Public bool
}

// ToSceneAsset converts AssetModel to SceneAsset.
func (m *AssetModel) ToSceneAsset() *SceneAsset {
	return &SceneAsset{
		ID:     m.ID,
		Name:   m.Name,
		Owner:  m.Owner,
		Public: m.Public,
	}
}

// Models lists the tables owned by this package, for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&AssetModel{}, &PermissionModel{}}
}
