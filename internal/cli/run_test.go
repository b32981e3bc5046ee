package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestore/internal/feed"
	"github.com/roach88/livestore/internal/testutil"
)

const (
	msgUser    = `{"store":"User","type":"create","data":{"id":7,"name":"Ann"}}`
	msgGroup   = `[{"store":"Group","type":"create","data":{"id":1,"name":"X","ownerId":7}},{"store":"GroupMember","type":"create","data":{"id":10,"groupId":1,"userId":7}}]`
	msgReset   = `{"store":"Group","type":"reset"}`
	msgUnknown = `{"store":"Nope","type":"create","data":{"id":1}}`
	msgOrphan  = `{"store":"GroupMember","type":"create","data":{"id":10,"groupId":3,"userId":7}}`
)

// scriptServer writes a fixed script on every connection and forwards
// what the client sends.
func scriptServer(t *testing.T, script ...string) (string, <-chan string) {
	t.Helper()
	inbox := make(chan string, 64)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, msg := range script {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			inbox <- string(msg)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), inbox
}

func next(t *testing.T, inbox <-chan string) string {
	t.Helper()
	select {
	case msg := <-inbox:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return ""
	}
}

func fastRunOptions(format string) *RunOptions {
	s := feed.DefaultSettings()
	s.ReconnectTimeout = 10 * time.Millisecond
	s.PingInterval = 0
	return &RunOptions{RootOptions: testRoot(format), Settings: &s}
}

// startRun executes the run command in the background. Cancel the
// returned context to stop it.
func startRun(t *testing.T, opts *RunOptions, args ...string) (context.CancelFunc, func() (string, error)) {
	t.Helper()
	cmd := newRunCommand(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	done := make(chan struct{})
	var (
		out string
		err error
	)
	go func() {
		defer close(done)
		buf := &strings.Builder{}
		cmd.SetOut(buf)
		cmd.SetErr(&strings.Builder{})
		cmd.SetArgs(args)
		err = cmd.ExecuteContext(ctx)
		out = buf.String()
	}()

	wait := func() (string, error) {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("run did not stop")
		}
		return out, err
	}
	return cancel, wait
}

func TestRun_AppliesFeedAndJournals(t *testing.T) {
	url, inbox := scriptServer(t, msgUser, msgGroup, msgReset)
	db := filepath.Join(t.TempDir(), "live.db")
	gen := testutil.NewSequentialSessionGenerator("")

	opts := fastRunOptions("text")
	opts.SessionGenerator = gen
	cancel, wait := startRun(t, opts, "--url", url, "--db", db, "--channel", "group:1", "--channel", "user:7")

	assert.JSONEq(t, `{"subscribe":["group:1","user:7"]}`, next(t, inbox))
	// The reset is the last scripted message: once its resync arrives,
	// everything before it has been applied.
	assert.JSONEq(t, `{"resync":["Group","GroupMember"]}`, next(t, inbox))
	cancel()

	out, err := wait()
	require.NoError(t, err, out)
	assert.Contains(t, out, "Listening on "+url)
	assert.Contains(t, out, "Stopped at seq 4")
	assert.Contains(t, out, "session session-0001")
	assert.Regexp(t, `User\s+1 records  ready`, out)
	assert.Regexp(t, `Group\s+0 records  pending`, out)

	out, err = execute(t, NewSessionsCommand(testRoot("json")), "--db", db)
	require.NoError(t, err)
	sessions := decode[[]SessionInfo](t, out).Data
	require.Len(t, sessions, 1)
	assert.Equal(t, SessionInfo{ID: "session-0001", StartedAtSeq: 1, Events: 4, Note: "run " + url}, sessions[0])

	// A second run resumes the clock after the journal's last seq.
	url2, inbox2 := scriptServer(t, msgUser)
	opts = fastRunOptions("json")
	opts.SessionGenerator = gen
	cancel, wait = startRun(t, opts, "--url", url2, "--db", db, "--note", "second")
	assert.JSONEq(t, `{"subscribe":[]}`, next(t, inbox2))
	require.Eventually(t, func() bool {
		cmd := NewSessionsCommand(testRoot("json"))
		buf := &strings.Builder{}
		cmd.SetOut(buf)
		cmd.SetArgs([]string{"--db", db})
		if cmd.Execute() != nil {
			return false
		}
		var resp response[[]SessionInfo]
		if json.Unmarshal([]byte(buf.String()), &resp) != nil {
			return false
		}
		return len(resp.Data) == 2 && resp.Data[1].Events == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	out, err = wait()
	require.NoError(t, err, out)
	resp := decode[RunOutput](t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "session-0002", resp.Data.Session)
	assert.Equal(t, int64(5), resp.Data.LastSeq)

	out, err = execute(t, NewReplayCommand(testRoot("json")), "--db", db, "session-0002")
	require.NoError(t, err, out)
	replay := decode[ReplayOutput](t, out).Data
	assert.Equal(t, int64(5), replay.LastSeq)
	assert.Equal(t, resp.Data.Digest, replay.Digest)
}

func TestRun_FetchesMissingParent(t *testing.T) {
	url, inbox := scriptServer(t, msgUser, msgOrphan)
	queries := make(chan string, 4)
	records := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		w.Write([]byte(`[{"store":"Group","type":"create","data":{"id":3,"name":"Fetched","ownerId":7}}]`))
	}))
	t.Cleanup(records.Close)
	db := filepath.Join(t.TempDir(), "live.db")

	opts := fastRunOptions("json")
	opts.SessionGenerator = testutil.NewSequentialSessionGenerator("")
	cancel, wait := startRun(t, opts, "--url", url, "--db", db, "--fetch-url", records.URL+"/records")
	next(t, inbox) // subscription

	select {
	case q := <-queries:
		assert.Equal(t, "ids=3&store=Group", q)
	case <-time.After(2 * time.Second):
		t.Fatal("missing group was not fetched")
	}
	// The fetched create is journaled, then applied, before the engine
	// looks at its context again.
	require.Eventually(t, func() bool {
		cmd := NewSessionsCommand(testRoot("json"))
		buf := &strings.Builder{}
		cmd.SetOut(buf)
		cmd.SetArgs([]string{"--db", db})
		if cmd.Execute() != nil {
			return false
		}
		var resp response[[]SessionInfo]
		if json.Unmarshal([]byte(buf.String()), &resp) != nil {
			return false
		}
		return len(resp.Data) == 1 && resp.Data[0].Events == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	out, err := wait()
	require.NoError(t, err, out)
	resp := decode[RunOutput](t, out)
	assert.Equal(t, int64(3), resp.Data.LastSeq)
	counts := map[string]int{}
	for _, s := range resp.Data.Stores {
		counts[s.Name] = s.Records
	}
	assert.Equal(t, 1, counts["Group"])
	assert.Equal(t, 1, counts["GroupMember"])
	assert.Empty(t, queries, "the parent is requested once")
}

func TestRun_ConfigErrorStops(t *testing.T) {
	url, _ := scriptServer(t, msgUser, msgUnknown)

	_, wait := startRun(t, fastRunOptions("json"), "--url", url)
	out, err := wait()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "UNKNOWN_STORE")

	resp := decode[RunOutput](t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "UNKNOWN_STORE", resp.Error.Code)
	assert.Equal(t, int64(2), resp.Data.LastSeq)
	assert.Contains(t, resp.Data.Stopped, "seq 2")
}

func TestRun_Errors(t *testing.T) {
	_, err := execute(t, NewRunCommand(testRoot("text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "url" not set`)

	_, err = execute(t, NewRunCommand(testRoot("text")), "--url", "ws://127.0.0.1:1", "--schema", "/nonexistent/schema")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "NOT_FOUND")

	_, err = execute(t, NewRunCommand(testRoot("text")), "--url", "ws://127.0.0.1:1", "--orphans", "never")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
