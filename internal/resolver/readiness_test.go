package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness_NoDependenciesReadyImmediately(t *testing.T) {
	g, err := Build(forumDecls())
	require.NoError(t, err)
	r := NewReadiness(g, nil)

	for _, name := range g.Order() {
		assert.True(t, r.Ready(name), name)
		assert.True(t, r.CanApply(name), name)
	}
	assert.Empty(t, r.Unready())
}

func TestReadiness_AwaitingGatesDependents(t *testing.T) {
	g, err := Build(forumDecls())
	require.NoError(t, err)
	r := NewReadiness(g, []string{"User", "Group"})

	assert.False(t, r.Ready("User"))
	assert.True(t, r.CanApply("User"), "a store's own sync state never gates it")
	assert.False(t, r.CanApply("Group"))
	assert.False(t, r.CanApply("GroupMember"))
	assert.Equal(t, []string{"User", "Group", "GroupMember"}, r.Unready())

	assert.Equal(t, []string{"User"}, r.MarkSynced("User"))
	assert.True(t, r.CanApply("Group"))
	assert.False(t, r.CanApply("GroupMember"))

	assert.Equal(t, []string{"Group", "GroupMember"}, r.MarkSynced("Group"))
	assert.True(t, r.Ready("GroupMember"))
	assert.Nil(t, r.MarkSynced("Group"), "already synced")
}

func TestReadiness_InvalidateCascades(t *testing.T) {
	g, err := Build(forumDecls())
	require.NoError(t, err)
	r := NewReadiness(g, nil)

	assert.Equal(t, []string{"User", "Group", "GroupMember"}, r.Invalidate("User"))
	assert.False(t, r.Synced("User"))
	assert.False(t, r.Synced("Group"))
	assert.True(t, r.Ready("Forum"))
	assert.True(t, r.CanApply("User"))
	assert.False(t, r.CanApply("Group"))

	assert.Equal(t, []string{"User"}, r.MarkSynced("User"))
	assert.False(t, r.Ready("Group"), "dependents wait for their own marker")
	assert.Equal(t, []string{"Group"}, r.MarkSynced("Group"))
	assert.Equal(t, []string{"GroupMember"}, r.MarkSynced("GroupMember"))
}

func TestReadiness_UnknownStore(t *testing.T) {
	g, err := Build(forumDecls())
	require.NoError(t, err)
	r := NewReadiness(g, []string{"Nope"})

	assert.False(t, r.Ready("Nope"))
	assert.False(t, r.CanApply("Nope"))
	assert.Nil(t, r.MarkSynced("Nope"))
	assert.Nil(t, r.Invalidate("Nope"))
}
