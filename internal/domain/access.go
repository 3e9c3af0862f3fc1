package domain

// Access is the permission level a user has on a scene.
type Access int

const (
	NoAccess Access = iota
	ReadOnly
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read"
	case ReadWrite:
		return "write"
	default:
		return "none"
	}
}

// CanRead reports whether the level allows observing the scene.
func (a Access) CanRead() bool {
	return a >= ReadOnly
}

// CanWrite reports whether the level allows joining, locking, renaming and editing.
func (a Access) CanWrite() bool {
	return a == ReadWrite
}

// MarshalText encodes the level as its String form.
func (a Access) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
