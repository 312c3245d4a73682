package node

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/aleph-im/go-ccn/cmd"
)

func newCLIContext(t *testing.T, args map[string]string) *cli.Context {
	app := cli.App{}
	set := flag.NewFlagSet("test", 0)
	for name, value := range args {
		set.String(name, value, "")
		require.NoError(t, set.Set(name, value))
	}
	return cli.NewContext(&app, set, nil)
}

func TestNewRequiresNodeKey(t *testing.T) {
	_, err := New(newCLIContext(t, nil), SyncTxs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node key")
}

func TestNewRejectsMalformedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, os.WriteFile(path, []byte("not-a-key"), 0o600))

	_, err := New(newCLIContext(t, map[string]string{cmd.KeyFileFlag.Name: path}), SyncTxs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hex")
}

func TestNewRejectsBrokenConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("aleph:\n  max_concurrency: -1\n"), 0o600))

	_, err := New(newCLIContext(t, map[string]string{cmd.ConfigFileFlag.Name: path}), ProcessMessages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrency")
}
