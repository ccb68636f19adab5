package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "claude", cfg.Model.Provider)
	assert.Equal(t, 20, cfg.Task.MaxPhases)
	assert.Equal(t, 3, cfg.Task.MaxBatchSize)
	assert.Equal(t, 3, cfg.Task.HistoryWindow)
	assert.Equal(t, 5*time.Second, cfg.Task.LocatorTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Task.PollInterval)
	assert.Equal(t, 5000, cfg.Observation.MaxChars)
	assert.Equal(t, 150, cfg.Observation.MaxElements)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screenpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  provider: ollama
  name: qwen2.5vl
task:
  max_phases: 8
  locator_timeout: 2s
observation:
  max_chars: 3000
`), 0o600))
	t.Setenv("SCREENPILOT_TASK_ERROR_BUDGET", "2")
	t.Setenv("SCREENPILOT_BROWSER_HEADLESS", "false")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Model.Provider)
	assert.Equal(t, "qwen2.5vl", cfg.Model.Name)
	assert.Equal(t, 8, cfg.Task.MaxPhases)
	assert.Equal(t, 2*time.Second, cfg.Task.LocatorTimeout)
	assert.Equal(t, 3000, cfg.Observation.MaxChars)
	assert.Equal(t, 2, cfg.Task.ErrorBudget)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 150, cfg.Observation.MaxElements)
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Task.MaxPhases)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Model.Provider = "bard"
	cfg.Task.MaxPhases = 0
	cfg.Observation.MaxChars = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model.provider "bard"`)
	assert.Contains(t, err.Error(), "task.max_phases must be a positive integer")
	assert.Contains(t, err.Error(), "observation.max_chars")
}
