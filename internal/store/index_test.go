package store

import (
	"cmp"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestore/internal/value"
)

func groupStores(t *testing.T) (*Store, *Store) {
	t.Helper()
	groups := newTestStore(t, Schema{Name: "Group"})
	members := newTestStore(t, Schema{
		Name:         "GroupMember",
		Dependencies: []string{"Group"},
		Required:     []string{"groupId", "userId"},
	})
	return groups, members
}

func membersIndex(t *testing.T, groups, members *Store, policy OrphanPolicy) *MemberIndex {
	t.Helper()
	idx, err := NewMemberIndex(groups, members, IndexConfig{
		Name: "members", Key: "groupId", Secondary: "userId", Orphans: policy,
	})
	require.NoError(t, err)
	return idx
}

func ids(recs []*Record) []value.ID {
	out := make([]value.ID, len(recs))
	for i, rec := range recs {
		out[i] = rec.ID()
	}
	return out
}

func TestMemberIndex_GroupMemberScenario(t *testing.T) {
	groups, members := groupStores(t)
	idx := membersIndex(t, groups, members, Backfill)

	require.NoError(t, groups.ApplyCreate(obj("id", 1, "name", "X")))
	require.NoError(t, members.ApplyCreate(obj("id", 10, "groupId", 1, "userId", 7)))

	assert.Equal(t, []value.ID{value.IntID(10)}, ids(idx.Members(value.IntID(1))))
	m, ok := idx.Lookup(value.IntID(1), value.IntID(7))
	require.True(t, ok)
	assert.Equal(t, value.IntID(10), m.ID())
}

func TestMemberIndex_LateParent(t *testing.T) {
	tests := []struct {
		policy  OrphanPolicy
		indexed bool
	}{
		{Backfill, true},
		{Skip, false},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			groups, members := groupStores(t)
			idx := membersIndex(t, groups, members, tt.policy)

			require.NoError(t, members.ApplyCreate(obj("id", 11, "groupId", 99, "userId", 3)))
			require.NoError(t, groups.ApplyCreate(obj("id", 99)))

			_, ok := members.Get(value.IntID(11))
			assert.True(t, ok, "the orphan is accepted into its own store")

			_, found := idx.Lookup(value.IntID(99), value.IntID(3))
			assert.Equal(t, tt.indexed, found)
			if tt.indexed {
				assert.Equal(t, []value.ID{value.IntID(11)}, ids(idx.Members(value.IntID(99))))
				assert.Empty(t, idx.Orphans())
			} else {
				assert.Empty(t, idx.Members(value.IntID(99)))
			}

			idx.Rebuild()
			assert.Equal(t, []value.ID{value.IntID(11)}, ids(idx.Members(value.IntID(99))),
				"a rebuild always indexes children of existing parents")
		})
	}
}

func TestMemberIndex_ChildDeleteAndKeyMove(t *testing.T) {
	groups, members := groupStores(t)
	idx := membersIndex(t, groups, members, Backfill)
	require.NoError(t, groups.ApplyCreate(obj("id", 1)))
	require.NoError(t, groups.ApplyCreate(obj("id", 2)))
	require.NoError(t, members.ApplyCreate(obj("id", 10, "groupId", 1, "userId", 7)))

	require.NoError(t, members.ApplyUpdate(value.IntID(10), obj("groupId", 2, "userId", 8)))
	assert.Empty(t, idx.Members(value.IntID(1)))
	_, ok := idx.Lookup(value.IntID(2), value.IntID(7))
	assert.False(t, ok)
	m, ok := idx.Lookup(value.IntID(2), value.IntID(8))
	require.True(t, ok)
	assert.Equal(t, value.IntID(10), m.ID())

	require.NoError(t, members.ApplyDelete(value.IntID(10)))
	assert.Empty(t, idx.Members(value.IntID(2)))
	assert.Empty(t, idx.Parents())
}

func TestMemberIndex_Remove(t *testing.T) {
	groups, members := groupStores(t)
	idx := membersIndex(t, groups, members, Backfill)
	require.NoError(t, groups.ApplyCreate(obj("id", 1)))
	require.NoError(t, members.ApplyCreate(obj("id", 10, "groupId", 1, "userId", 7)))
	require.NoError(t, members.ApplyCreate(obj("id", 12, "groupId", 1, "userId", 9)))

	var deleted []value.ID
	members.AddDeleteListener(func(_ string, n Notification) error {
		deleted = append(deleted, n.Record.ID())
		return nil
	})

	removed, err := idx.Remove(value.IntID(2), value.IntID(10))
	require.NoError(t, err)
	assert.False(t, removed, "not a member of group 2")

	removed, err = idx.Remove(value.IntID(1), value.IntID(10))
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok := members.Get(value.IntID(10))
	assert.False(t, ok, "removal is applied to the child store")
	assert.Equal(t, []value.ID{value.IntID(10)}, deleted)
	assert.Equal(t, []value.ID{value.IntID(12)}, ids(idx.Members(value.IntID(1))))
}

func TestMemberIndex_ParentDeleteAndRecreate(t *testing.T) {
	groups, members := groupStores(t)
	idx := membersIndex(t, groups, members, Backfill)
	require.NoError(t, groups.ApplyCreate(obj("id", 1)))
	require.NoError(t, members.ApplyCreate(obj("id", 10, "groupId", 1, "userId", 7)))

	require.NoError(t, groups.ApplyDelete(value.IntID(1)))
	assert.Empty(t, idx.Members(value.IntID(1)))
	assert.Equal(t, []value.ID{value.IntID(10)}, idx.Orphans())

	require.NoError(t, groups.ApplyCreate(obj("id", 1)))
	assert.Equal(t, []value.ID{value.IntID(10)}, ids(idx.Members(value.IntID(1))))
}

func TestMemberIndex_ResetRebuilds(t *testing.T) {
	groups, members := groupStores(t)
	idx := membersIndex(t, groups, members, Backfill)
	require.NoError(t, groups.ApplyCreate(obj("id", 1)))
	require.NoError(t, members.ApplyCreate(obj("id", 10, "groupId", 1, "userId", 7)))

	members.Reset()
	assert.Empty(t, idx.Parents())

	require.NoError(t, members.ApplyCreate(obj("id", 10, "groupId", 1, "userId", 7)))
	groups.Reset()
	assert.Empty(t, idx.Parents())
	assert.Equal(t, []value.ID{value.IntID(10)}, idx.Orphans())
}

func TestMemberIndex_SelfReferencing(t *testing.T) {
	tags := newTestStore(t, Schema{Name: "Tag"})
	idx, err := NewMemberIndex(tags, tags, IndexConfig{Name: "children", Key: "parentId"})
	require.NoError(t, err)

	require.NoError(t, tags.ApplyCreate(obj("id", 3, "parentId", 1, "rank", 2)))
	require.NoError(t, tags.ApplyCreate(obj("id", 1, "name", "root")))
	require.NoError(t, tags.ApplyCreate(obj("id", 2, "parentId", 1, "rank", 1)))

	byRank := func(a, b *Record) int {
		ra, _ := a.Int("rank")
		rb, _ := b.Int("rank")
		return cmp.Compare(ra, rb)
	}
	assert.Equal(t, []value.ID{value.IntID(2), value.IntID(3)}, ids(idx.MembersBy(value.IntID(1), byRank)))
	assert.Equal(t, []value.ID{value.IntID(1)}, idx.Parents())

	require.NoError(t, tags.ApplyDelete(value.IntID(1)))
	assert.Empty(t, idx.Parents())
	assert.Equal(t, []value.ID{value.IntID(2), value.IntID(3)}, idx.Orphans())
}

func TestMemberIndex_Close(t *testing.T) {
	groups, members := groupStores(t)
	idx := membersIndex(t, groups, members, Backfill)
	idx.Close()

	require.NoError(t, groups.ApplyCreate(obj("id", 1)))
	require.NoError(t, members.ApplyCreate(obj("id", 10, "groupId", 1, "userId", 7)))
	assert.Empty(t, idx.Parents())
}

func TestMemberIndex_ConfigErrors(t *testing.T) {
	groups, members := groupStores(t)

	_, err := NewMemberIndex(groups, members, IndexConfig{Name: "x"})
	assert.True(t, IsConfigError(err))

	_, err = NewMemberIndex(groups, members, IndexConfig{Name: "x", Key: "id"})
	assert.True(t, IsConfigError(err))

	_, err = NewMemberIndex(groups, members, IndexConfig{Name: "x", Key: "groupId", Orphans: OrphanPolicy(7)})
	assert.True(t, IsConfigError(err))
}

func TestParseOrphanPolicy(t *testing.T) {
	p, err := ParseOrphanPolicy("")
	require.NoError(t, err)
	assert.Equal(t, Backfill, p)

	p, err = ParseOrphanPolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, Skip, p)

	_, err = ParseOrphanPolicy("retry")
	assert.Error(t, err)
}

// The incrementally maintained index must equal one rebuilt from the
// final record sets after any interleaving of events.
func TestMemberIndex_ConvergesWithRebuild(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))

	for round := 0; round < 20; round++ {
		groups, members := groupStores(t)
		idx := membersIndex(t, groups, members, Backfill)

		for step := 0; step < 200; step++ {
			gid := rng.IntN(5)
			mid := 100 + rng.IntN(30)
			switch rng.IntN(6) {
			case 0:
				require.NoError(t, groups.ApplyCreate(obj("id", gid)))
			case 1:
				require.NoError(t, groups.ApplyDelete(value.IntID(int64(gid))))
			case 2, 3:
				require.NoError(t, members.ApplyCreate(obj("id", mid, "groupId", gid, "userId", rng.IntN(10))))
			case 4:
				require.NoError(t, members.ApplyUpdate(value.IntID(int64(mid)), obj("groupId", gid)))
			case 5:
				require.NoError(t, members.ApplyDelete(value.IntID(int64(mid))))
			}
		}

		fresh := membersIndex(t, groups, members, Backfill)
		assert.Equal(t, fresh.Snapshot(), idx.Snapshot(), "round %d", round)
		assert.Equal(t, fresh.Orphans(), idx.Orphans(), "round %d", round)
		for _, parent := range fresh.Parents() {
			for _, m := range fresh.Members(parent) {
				user, _ := m.Ref("userId")
				want, _ := fresh.Lookup(parent, user)
				got, ok := idx.Lookup(parent, user)
				require.True(t, ok)
				assert.Same(t, want, got)
			}
		}
		fresh.Close()
	}
}
