package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livestore/internal/testutil"
)

// openTestJournal opens a journal in a temp dir with deterministic
// session ids. Closed automatically via t.Cleanup.
func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"),
		WithSessionGenerator(testutil.NewSequentialSessionGenerator("")))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}
