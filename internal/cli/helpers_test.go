package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/perchlab/datasetdb/db"
	"github.com/perchlab/datasetdb/value"
)

// seedDatabase creates a three-entry store and returns its path.
func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instances.db")

	store, err := db.Open(path, db.ModeWrite)
	require.NoError(t, err)

	ctx := context.Background()
	entries := []struct {
		id  int64
		key string
		v   value.Value
	}{
		{0, "pretraining_0", value.Object{
			"caption": value.String("a dog on a couch"),
			"scores":  value.Array{value.Float(0.5), value.Float(0.25)},
			"width":   value.Int(640),
		}},
		{1, "pretraining_1", value.String("second")},
		{2, "downstream_0", value.Int(42)},
	}
	for _, e := range entries {
		require.NoError(t, store.Set(ctx, e.id, e.key, e.v))
	}
	require.NoError(t, store.Close())
	return path
}

// runCommand executes a command constructor with the given args and returns
// its combined stdout.
func runCommand(t *testing.T, format string, build func(*RootOptions) *cobra.Command, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := build(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}
