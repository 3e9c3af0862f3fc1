package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSceneDefaultsName(t *testing.T) {
	s := NewScene("1", "")
	assert.Equal(t, DefaultSceneName, s.Name)
	assert.Equal(t, []string{}, s.Users)
	assert.Zero(t, s.Sequence)

	assert.Equal(t, "Castle", NewScene("2", "Castle").Name)
}

func TestSceneUsers(t *testing.T) {
	s := NewScene("1", "x")

	assert.True(t, s.AddUser("a"))
	assert.True(t, s.AddUser("b"))
	assert.False(t, s.AddUser("a"))
	assert.Equal(t, []string{"a", "b"}, s.Users)
	assert.True(t, s.HasUser("b"))

	assert.True(t, s.RemoveUser("a"))
	assert.False(t, s.RemoveUser("a"))
	assert.Equal(t, []string{"b"}, s.Users)
	assert.False(t, s.HasUser("a"))
}

func TestAccess(t *testing.T) {
	assert.False(t, NoAccess.CanRead())
	assert.True(t, ReadOnly.CanRead())
	assert.False(t, ReadOnly.CanWrite())
	assert.True(t, ReadWrite.CanWrite())

	assert.Equal(t, "none", NoAccess.String())
	assert.Equal(t, "read", ReadOnly.String())
	assert.Equal(t, "write", ReadWrite.String())
}
