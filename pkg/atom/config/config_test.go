package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/atom/pkg/atom/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":       "io",
		"keep_alive": "30s",
		"timeout":    2,
		"daemon":     true,
		"workers":    float64(4),
		"fraction":   1.5,
		"priority":   int64(-7),
	})

	assert.Equal(t, "io", cfg.String("name", "x"))
	assert.Equal(t, "x", cfg.String("workers", "x"))
	assert.Equal(t, 30*time.Second, cfg.Duration("keep_alive", 0))
	assert.Equal(t, 2*time.Second, cfg.Duration("timeout", 0))
	assert.Equal(t, time.Minute, cfg.Duration("missing", time.Minute))
	assert.True(t, cfg.Bool("daemon", false))
	assert.Equal(t, 4, cfg.Int("workers", 1))
	assert.Equal(t, 9, cfg.Int("fraction", 9))
	assert.Equal(t, 9, cfg.Int("missing", 9))
	assert.Equal(t, int64(-7), cfg.Int64("priority", 0))
}

func TestNilMap(t *testing.T) {
	cfg := config.New(nil)
	assert.NotNil(t, cfg.Raw())
	assert.False(t, cfg.Has("anything"))
}

func TestSections(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
executors:
  - name: io
    type: dynamic
  - not-a-map
  - name: cpu
    type: work_stealing
buses:
  orders:
    failure_policy: continue
`))
	require.NoError(t, err)

	execs := cfg.Sections("executors")
	require.Len(t, execs, 2)
	assert.Equal(t, "io", execs[0].String("name", ""))
	assert.Equal(t, "work_stealing", execs[1].String("type", ""))

	orders := cfg.Section("buses").Section("orders")
	assert.Equal(t, "continue", orders.String("failure_policy", ""))
	assert.False(t, cfg.Section("missing").Has("x"))
	assert.Nil(t, cfg.Sections("buses"))
}

func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"max_workers": 8}`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Int("max_workers", 0))

	_, err = config.FromJSON([]byte(`{`))
	assert.Error(t, err)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("ATOM_TEST_WORKERS", "6")
	yamlPath := filepath.Join(dir, "atom.YAML")
	require.NoError(t, os.WriteFile(yamlPath, []byte("max_workers: ${ATOM_TEST_WORKERS}\n"), 0o600))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Int("max_workers", 0))

	txtPath := filepath.Join(dir, "atom.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o600))
	_, err = config.FromFile(txtPath)
	assert.ErrorContains(t, err, "unsupported")

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
