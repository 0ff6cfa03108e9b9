package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlab/datasetdb/db"
	"github.com/perchlab/datasetdb/value"
)

func TestGetByID(t *testing.T) {
	path := seedDatabase(t)

	buf, err := runCommand(t, "text", NewGetCommand, "--db", path, "--id", "0")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "get_entry", buf.Bytes())
}

func TestGetByKey(t *testing.T) {
	path := seedDatabase(t)

	byID, err := runCommand(t, "text", NewGetCommand, "--db", path, "--id", "0")
	require.NoError(t, err)
	byKey, err := runCommand(t, "text", NewGetCommand, "--db", path, "--key", "pretraining_0")
	require.NoError(t, err)

	assert.Equal(t, byID.String(), byKey.String(), "both keys must reach the same entry")
}

func TestGetJSON(t *testing.T) {
	path := seedDatabase(t)

	buf, err := runCommand(t, "json", NewGetCommand, "--db", path, "--id", "2")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.EqualValues(t, 42, resp.Data)
}

func TestGetTensorSummarized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.db")
	store, err := db.Open(path, db.ModeWrite)
	require.NoError(t, err)

	tensor, err := value.Float32Tensor([]int64{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), 0, "features_0", value.Object{
		"features": tensor,
		"label":    value.Int(3),
	}))
	require.NoError(t, store.Close())

	buf, err := runCommand(t, "text", NewGetCommand, "--db", path, "--id", "0")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "get_tensor", buf.Bytes())
}

func TestGetNotFound(t *testing.T) {
	path := seedDatabase(t)

	_, err := runCommand(t, "text", NewGetCommand, "--db", path, "--id", "99")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestGetRequiresExactlyOneKey(t *testing.T) {
	path := seedDatabase(t)

	_, err := runCommand(t, "text", NewGetCommand, "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = runCommand(t, "text", NewGetCommand, "--db", path, "--id", "0", "--key", "pretraining_0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
