package domain

import "slices"

// DefaultSceneName is used when the durable store has no name for a scene.
const DefaultSceneName = "New Scene"

// Scene is the shared, cache-resident state of one collaboratively edited scene.
type Scene struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Users    []string `json:"users"`
	Sequence int64    `json:"seq"`
}

// NewScene returns an empty scene seeded with name.
func NewScene(id, name string) *Scene {
	if name == "" {
		name = DefaultSceneName
	}
	return &Scene{ID: id, Name: name, Users: []string{}}
}

// AddUser appends user unless already present. It reports whether the list changed.
func (s *Scene) AddUser(user string) bool {
	if s.HasUser(user) {
		return false
	}
	s.Users = append(s.Users, user)
	return true
}

// RemoveUser removes every occurrence of user. It reports whether the list changed.
func (s *Scene) RemoveUser(user string) bool {
	n := len(s.Users)
	s.Users = slices.DeleteFunc(s.Users, func(u string) bool { return u == user })
	return len(s.Users) != n
}

func (s *Scene) HasUser(user string) bool {
	return slices.Contains(s.Users, user)
}
