package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/internal/ddo"
	"github.com/tendermint/aquarius/internal/store"
	"github.com/tendermint/aquarius/internal/waiter"
	"github.com/tendermint/aquarius/libs/log"
	"github.com/tendermint/aquarius/version"
)

// runCommand executes the aquarius CLI with args against a fresh config.
func runCommand(t *testing.T, home string, args ...string) (*config.Config, string, error) {
	t.Helper()
	viper.Reset()

	conf := config.DefaultConfig()
	logger, err := log.NewLogger(io.Discard, log.LogFormatPlain, log.LogLevelError)
	require.NoError(t, err)

	cmd := RootCommand(conf, logger)
	cmd.AddCommand(
		MakeInitFilesCommand(conf, logger),
		NewRunNodeCmd(conf, logger),
		MakeWaitArtifactsCommand(conf, logger),
		MakeReindexEventCommand(conf, logger),
		MakeResetChainCommand(conf, logger),
		MakeVersionCommand(),
	)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--home", home}, args...))

	err = cmd.ExecuteContext(context.Background())
	return conf, out.String(), err
}

// writeKVConfig writes a config.toml selecting the embedded store.
func writeKVConfig(t *testing.T, home string) *config.Config {
	t.Helper()
	conf := config.DefaultConfig().SetRoot(home)
	conf.Store.Backend = config.StoreBackendKV
	require.NoError(t, config.EnsureRoot(home))
	require.NoError(t, config.WriteConfigFile(home, conf))
	return conf
}

func TestVersionCommand(t *testing.T) {
	_, out, err := runCommand(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)

	_, out, err = runCommand(t, t.TempDir(), "version", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, `"software": "Aquarius"`)
}

func TestInitFilesCommand(t *testing.T) {
	home := t.TempDir()
	_, _, err := runCommand(t, home, "init")
	require.NoError(t, err)

	path := config.ConfigFilePath(home)
	require.FileExists(t, path)
	written, err := os.ReadFile(path)
	require.NoError(t, err)

	// a second init keeps the existing file
	require.NoError(t, os.WriteFile(path, append(written, []byte("\n# edited\n")...), 0600))
	_, _, err = runCommand(t, home, "init")
	require.NoError(t, err)
	kept, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(kept), "# edited")
}

func TestRootReadsConfigFile(t *testing.T) {
	home := t.TempDir()
	writeKVConfig(t, home)

	conf, _, err := runCommand(t, home, "init")
	require.NoError(t, err)
	assert.Equal(t, home, conf.RootDir)
	assert.Equal(t, config.StoreBackendKV, conf.Store.Backend)
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, config.EnsureRoot(home))
	require.NoError(t, os.WriteFile(config.ConfigFilePath(home), []byte("[store]\nbackend = \"mongo\"\n"), 0600))

	_, _, err := runCommand(t, home, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}

func TestWaitArtifactsCommand(t *testing.T) {
	home := t.TempDir()
	file := filepath.Join(home, "address.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0600))

	_, _, err := runCommand(t, home, "wait-artifacts", "--file", file)
	require.NoError(t, err)

	_, _, err = runCommand(t, home, "wait-artifacts", "--file", filepath.Join(home, "missing.json"),
		"--attempts", "2", "--interval", "1ms")
	require.ErrorIs(t, err, waiter.ErrTimeout)

	_, _, err = runCommand(t, home, "wait-artifacts")
	require.Error(t, err)
}

func TestResetChainCommand(t *testing.T) {
	home := t.TempDir()
	conf := writeKVConfig(t, home)

	ctx := context.Background()
	s, err := store.NewFromConfig(conf)
	require.NoError(t, err)
	kept := ddo.MakeTestDDO("0x5FbDB2315678afecb367f032d93F642f64180aa3", 1, "0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	reset := ddo.MakeTestDDO("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", 8996, "0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	require.NoError(t, s.Put(ctx, kept))
	require.NoError(t, s.Put(ctx, reset))
	require.NoError(t, s.SetLastBlock(ctx, 8996, 120))
	require.NoError(t, s.Close())

	_, _, err = runCommand(t, home, "reset-chain")
	require.Error(t, err)

	_, out, err := runCommand(t, home, "reset-chain", "--chain-id", "8996")
	require.NoError(t, err)
	assert.Equal(t, "deleted 1 assets of chain 8996\n", out)

	s, err = store.NewFromConfig(conf)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(ctx, reset.ID())
	assert.True(t, store.IsNotFound(err))
	_, err = s.Get(ctx, kept.ID())
	assert.NoError(t, err)
	_, ok, err := s.LastBlock(ctx, 8996)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckValidBlockArgs(t *testing.T) {
	assert.NoError(t, checkValidBlockArgs(0, 0))
	assert.NoError(t, checkValidBlockArgs(2, 10))
	assert.Error(t, checkValidBlockArgs(-1, 10))
	assert.Error(t, checkValidBlockArgs(10, 2))
}

type recordingProcessor struct {
	ranges [][2]int64
}

func (p *recordingProcessor) ProcessBlockRange(_ context.Context, from, to int64) error {
	p.ranges = append(p.ranges, [2]int64{from, to})
	return nil
}

func TestReindexRange(t *testing.T) {
	var out bytes.Buffer
	p := &recordingProcessor{}
	require.NoError(t, reindexRange(context.Background(), &out, p, 5, 27, 10))
	assert.Equal(t, [][2]int64{{5, 14}, {15, 24}, {25, 27}}, p.ranges)
	assert.Contains(t, out.String(), "100%")
}
