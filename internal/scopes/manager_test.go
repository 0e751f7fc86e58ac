package scopes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/ltm/internal/store"
)

func TestAccessibleScopes(t *testing.T) {
	m, err := NewManager(Config{AgentAccess: map[string][]string{
		"ops": {"global", "project:infra"},
	}})
	require.NoError(t, err)

	assert.Nil(t, m.GetAccessibleScopes(""))
	assert.Equal(t, []string{"global", "agent:main"}, m.GetAccessibleScopes("main"))
	assert.Equal(t, []string{"global", "project:infra"}, m.GetAccessibleScopes("ops"))

	assert.True(t, m.IsAccessible("agent:main", "main"))
	assert.False(t, m.IsAccessible("agent:other", "main"))
	assert.True(t, m.IsAccessible("agent:other", ""), "no agent means unrestricted")
	assert.False(t, m.IsAccessible("agent:ops", "ops"))
}

func TestDefaultScope(t *testing.T) {
	m, err := NewManager(Config{})
	require.NoError(t, err)
	assert.Equal(t, "global", m.DefaultScope("main"))

	m, err = NewManager(Config{
		Default:     "project:web",
		AgentAccess: map[string][]string{"web": {"project:web"}, "ops": {"project:infra"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "project:web", m.DefaultScope("web"))
	assert.Equal(t, "project:infra", m.DefaultScope("ops"))
	assert.Equal(t, "project:web", m.DefaultScope(""))
}

func TestResolve(t *testing.T) {
	m, err := NewManager(Config{})
	require.NoError(t, err)

	s, err := m.Resolve("", "main")
	require.NoError(t, err)
	assert.Equal(t, "global", s)

	s, err = m.Resolve("agent:main", "main")
	require.NoError(t, err)
	assert.Equal(t, "agent:main", s)

	_, err = m.Resolve("agent:other", "main")
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	_, err = m.Resolve("not a scope", "main")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestNewManagerRejectsInvalidScopes(t *testing.T) {
	_, err := NewManager(Config{Default: "nope"})
	assert.Error(t, err)

	_, err = NewManager(Config{AgentAccess: map[string][]string{"a": {"bad scope"}}})
	assert.Error(t, err)
}
