package domain

// ObjectLock marks one object of a scene as exclusively held by a user.
type ObjectLock struct {
	SceneID  string `json:"-"`
	ObjectID string `json:"object"`
	Holder   string `json:"user"`
}
