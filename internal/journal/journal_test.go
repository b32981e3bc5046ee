package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/registry"
	"github.com/roach88/livestore/internal/store"
	"github.com/roach88/livestore/internal/testutil"
)

func TestOpen_Pragmas(t *testing.T) {
	j := openTestJournal(t)

	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("synchronous", "1"))
	assert.NoError(t, j.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, j.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.BeginSession(ctx, 1, "first")
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, 1, testutil.Create("Group", "id", 1)))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	sessions, err := j.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "first", sessions[0].Note)
	assert.Equal(t, 1, sessions[0].Events)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
}

func TestRecord_RequiresSession(t *testing.T) {
	j := openTestJournal(t)
	err := j.Record(context.Background(), 1, testutil.Synced("Group"))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRecord_RoundTrip(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	session, err := j.BeginSession(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "session-0001", session)
	assert.Equal(t, session, j.Session())

	withChannel := testutil.Update("User", 7, "name", "Ana")
	withChannel.Channel = "user:7"

	envs := []event.Envelope{
		testutil.Create("Group", "id", 1, "name", "X", "tags", []any{"a", "b"}),
		testutil.Create("Country", "id", "fr", "name", "France"),
		withChannel,
		testutil.Delete("GroupMember", 10),
		testutil.Custom("ForumThread", "newMessage", 3, "messageId", 42),
		testutil.Custom("User", "ping", nil),
		testutil.Synced("Group"),
		testutil.Reset("Group"),
	}
	for i, env := range envs {
		require.NoError(t, j.Record(ctx, int64(i+1), env))
	}

	entries, err := j.Entries(ctx, session)
	require.NoError(t, err)
	require.Len(t, entries, len(envs))
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, session, e.Session)
		assert.Equal(t, envs[i], e.Envelope, "seq %d", e.Seq)
	}
}

func TestRecord_DuplicateSeqIsNoop(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	session, err := j.BeginSession(ctx, 1, "")
	require.NoError(t, err)

	require.NoError(t, j.Record(ctx, 1, testutil.Create("Group", "id", 1)))
	require.NoError(t, j.Record(ctx, 1, testutil.Create("Group", "id", 2)))

	entries, err := j.Entries(ctx, session)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testutil.Create("Group", "id", 1), entries[0].Envelope)
}

func TestEntries_OrderedBySeq(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	session, err := j.BeginSession(ctx, 1, "")
	require.NoError(t, err)

	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, j.Record(ctx, seq, testutil.Create("Group", "id", int(seq))))
	}

	entries, err := j.Entries(ctx, session)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestEntries_UnknownSessionIsEmpty(t *testing.T) {
	j := openTestJournal(t)
	entries, err := j.Entries(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	last, err := j.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestSessions_Listing(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	first, err := j.Import(ctx, "boot", []event.Envelope{
		testutil.Create("Group", "id", 1),
		testutil.Synced("Group"),
	})
	require.NoError(t, err)
	second, err := j.BeginSession(ctx, 3, "resume")
	require.NoError(t, err)

	sessions, err := j.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Session{
		{ID: first, StartedAtSeq: 1, Note: "boot", Events: 2},
		{ID: second, StartedAtSeq: 3, Note: "resume", Events: 0},
	}, sessions)
}

func groupRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New([]store.Schema{
		{Name: "Group"},
		{Name: "GroupMember", Dependencies: []string{"Group"}, Required: []string{"groupId", "userId"}},
	}, registry.WithIndexes(registry.IndexDecl{
		Name: "members", Parent: "Group", Child: "GroupMember", Key: "groupId", Secondary: "userId",
	}))
	require.NoError(t, err)
	return r
}

func TestReplay_ReproducesState(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	envs := []event.Envelope{
		testutil.Create("GroupMember", "id", 10, "groupId", 1, "userId", 7),
		testutil.Create("Group", "id", 1, "name", "X"),
		testutil.Update("Group", 1, "name", "Y"),
		testutil.Update("Group", 99, "name", "ghost"),
		testutil.Create("GroupMember", "id", 11, "groupId", 1, "userId", 8),
		testutil.Delete("GroupMember", 10),
	}

	live := groupRegistry(t)
	_, err := j.BeginSession(ctx, 1, "live")
	require.NoError(t, err)
	for i, env := range envs {
		require.NoError(t, j.Record(ctx, int64(i+1), env))
		require.NoError(t, live.Apply(env))
	}

	replayed := groupRegistry(t)
	res, err := j.Replay(ctx, j.Session(), replayed)
	require.NoError(t, err)
	assert.Equal(t, len(envs), res.Applied)
	assert.Zero(t, res.Failed)
	assert.Equal(t, int64(len(envs)), res.LastSeq)

	want, err := live.Digest()
	require.NoError(t, err)
	got, err := replayed.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReplay_SkipsRecoverableFailures(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	session, err := j.Import(ctx, "", []event.Envelope{
		testutil.Create("Group", "id", 1),
		testutil.Create("GroupMember", "id", 10, "groupId", 1, "userId", 7),
		testutil.Custom("Group", "unknownCustom", 1),
	})
	require.NoError(t, err)

	res, err := j.Replay(ctx, session, applierFunc(func(env event.Envelope) error {
		if env.Store == "GroupMember" {
			return assert.AnError
		}
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int64(3), res.LastSeq)
}

func TestReplay_StopsOnConfigError(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	session, err := j.Import(ctx, "", []event.Envelope{
		testutil.Create("Group", "id", 1),
		testutil.Create("Unknown", "id", 1),
		testutil.Create("Group", "id", 2),
	})
	require.NoError(t, err)

	r := groupRegistry(t)
	res, err := j.Replay(ctx, session, r)
	require.Error(t, err)
	assert.True(t, registry.IsConfigError(err))
	assert.Contains(t, err.Error(), "seq 2")
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, r.MustStore("Group").Len())
}

func TestReplay_HonorsContext(t *testing.T) {
	j := openTestJournal(t)
	session, err := j.Import(context.Background(), "", []event.Envelope{testutil.Create("Group", "id", 1)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = j.Replay(ctx, session, groupRegistry(t))
	assert.ErrorIs(t, err, context.Canceled)
}

type applierFunc func(env event.Envelope) error

func (f applierFunc) Apply(env event.Envelope) error { return f(env) }
