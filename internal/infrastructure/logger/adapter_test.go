package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "run_chat", sanitize("run chat"))
	assert.Equal(t, "mcpbridge", sanitize("***"))
	assert.Len(t, sanitize(string(make([]byte, 100))), len("mcpbridge"))
}

func TestLoggerAdapter_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig("test run")
	cfg.Dir = dir
	cfg.Level = "debug"

	log, err := NewLoggerAdapter(cfg)
	require.NoError(t, err)

	log.WithField("component", "scanner").Info("card mounted", "tool", "add")
	log.WithFields(map[string]any{"server": "calc"}).Debug("probe")
	require.NoError(t, log.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*_test_run.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "card mounted", entries[0]["message"])
	assert.Equal(t, "scanner", entries[0]["component"])
	assert.Equal(t, "add", entries[0]["tool"])
	assert.Equal(t, "calc", entries[1]["server"])
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Info("ignored", "k", 1)
	assert.NoError(t, log.Close())
}
