package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronpik/mono-deps-analyzer/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "monodeps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg, err := config.Default()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultOutputPath, cfg.Output.Path)
	assert.Equal(t, config.DefaultOutputFormat, cfg.Output.Format)
	assert.Equal(t, []string{"PYTHONPATH"}, cfg.Search.EnvVars)
	assert.Empty(t, cfg.Search.Paths)
	assert.Equal(t, config.DefaultAnalysisWorkers, cfg.Analysis.Workers)
	assert.True(t, cfg.Analysis.ScanParentPackages)
	assert.True(t, cfg.Python.UseVirtualenv)
	assert.True(t, cfg.Python.Detect)
	assert.Equal(t, "python3", cfg.Python.Interpreter)
	assert.Equal(t, config.DefaultRegistryCacheSize, cfg.Registry.CacheSize)
	assert.Equal(t, config.DefaultLoggingLevel, cfg.Logging.Level)

	size, err := cfg.MaxFileSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), size)
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultOutputPath, cfg.Output.Path)
	assert.Equal(t, config.DefaultRegistryConcurrency, cfg.Registry.Concurrency)
}

func TestLoadConfig_FromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
output:
  path: deps.txt
  format: json
search:
  paths: [libs, shared]
  env_vars: [PYTHONPATH, EXTRA_PY_PATH]
  ignore_paths: ["*_test.py", build]
analysis:
  workers: 4
  max_file_size: 512KB
  scan_parent_packages: false
python:
  site_packages: [/opt/venv/lib/python3.12/site-packages]
  use_virtualenv: false
logging:
  level: debug
  format: json
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "deps.txt", cfg.Output.Path)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, []string{"libs", "shared"}, cfg.Search.Paths)
	assert.Equal(t, []string{"PYTHONPATH", "EXTRA_PY_PATH"}, cfg.Search.EnvVars)
	assert.Equal(t, []string{"*_test.py", "build"}, cfg.Search.IgnorePaths)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.False(t, cfg.Analysis.ScanParentPackages)
	assert.False(t, cfg.Python.UseVirtualenv)
	assert.Equal(t, "debug", cfg.Logging.Level)

	size, err := cfg.MaxFileSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(512_000), size)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown format":    "output:\n  format: toml\n",
		"negative workers":  "analysis:\n  workers: -1\n",
		"bad env var":       "search:\n  env_vars: [\"NOT-VALID\"]\n",
		"bad log level":     "logging:\n  level: chatty\n",
		"zero cache":        "registry:\n  cache_size: 0\n",
		"empty interpreter": "python:\n  interpreter: \"\"\n",
	}

	for name, content := range tests {
		_, err := config.LoadConfig(writeConfig(t, content))
		require.ErrorIs(t, err, config.ErrSchema, name)
	}
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "analysis:\n  wrokers: 3\n"))
	require.Error(t, err)
}

func TestLoadConfig_InvalidMaxFileSize(t *testing.T) {
	t.Parallel()

	for _, size := range []string{"lots", "0B"} {
		_, err := config.LoadConfig(writeConfig(t, "analysis:\n  max_file_size: "+size+"\n"))
		require.ErrorIs(t, err, config.ErrInvalidMaxFileSize, size)
	}
}

//nolint:paralleltest // uses t.Setenv
func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MONODEPS_OUTPUT_PATH", "/tmp/env-reqs.txt")
	t.Setenv("MONODEPS_ANALYSIS_WORKERS", "3")
	t.Setenv("MONODEPS_SEARCH_ENV_VARS", "PYTHONPATH,MY_PATHS")

	cfg, err := config.LoadConfig(writeConfig(t, "output:\n  path: file.txt\n"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env-reqs.txt", cfg.Output.Path)
	assert.Equal(t, 3, cfg.Analysis.Workers)
	assert.Equal(t, []string{"PYTHONPATH", "MY_PATHS"}, cfg.Search.EnvVars)
}

func TestValidate_Direct(t *testing.T) {
	t.Parallel()

	cfg, err := config.Default()
	require.NoError(t, err)

	cfg.Output.Path = ""
	require.ErrorIs(t, config.Validate(cfg), config.ErrSchema)
}
