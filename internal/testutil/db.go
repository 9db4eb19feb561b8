package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindmux/mindmux/internal/store"
)

// NewTestStore creates a file-backed store in a temp directory with all
// migrations applied. Cleanup closes it.
func NewTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err, "opening test store should succeed")
	t.Cleanup(func() { _ = db.Close() })
	return db
}
