package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[producers.mic]
type = "device"
enabled = true
sample_rate = 48000
channels = 2

[processors.boost]
type = "gain"

[flows.main]
inputs = ["mic"]
processors = ["boost"]
outputs = ["out"]
enabled = true

[ringbuffers.mic]
slots = 1000
chunk_ms = 100
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeConfig(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Contains(t, cfg.Producers, "mic")
	assert.Equal(t, "device", cfg.Producers["mic"].Type)
	require.Contains(t, cfg.Flows, "main")
	assert.Equal(t, []string{"mic"}, cfg.Flows["main"].Inputs)
	require.Contains(t, cfg.RingBuffers, "mic")
	assert.Equal(t, 1000, cfg.RingBuffers["mic"].Slots)
}

func TestValidateCatchesUnresolvedInput(t *testing.T) {
	cfg, err := Parse([]byte(`
[flows.main]
inputs = ["missing"]
`))
	require.NoError(t, err)

	issues := cfg.Validate()
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "missing")
}

func TestValidateCatchesMissingProcessorType(t *testing.T) {
	cfg, err := Parse([]byte(`
[processors.boost]
type = ""
`))
	require.NoError(t, err)
	issues := cfg.Validate()
	require.Len(t, issues, 1)
	assert.Equal(t, "processors.boost.type", issues[0].Key)
}

func TestValidateCleanConfigHasNoIssues(t *testing.T) {
	cfg, err := Parse([]byte(sampleTOML))
	require.NoError(t, err)
	assert.Empty(t, cfg.Validate())
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestWatchFileFiresOnChange(t *testing.T) {
	path := writeConfig(t, sampleTOML)

	changes := make(chan Config, 1)
	w, err := WatchFile(path, func(cfg Config, issues []Issue) {
		changes <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(sampleTOML+"\n[producers.mic2]\ntype=\"file\"\n"), 0o600))

	select {
	case cfg := <-changes:
		assert.Contains(t, cfg.Producers, "mic2")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
