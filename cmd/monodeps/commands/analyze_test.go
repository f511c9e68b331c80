package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronpik/mono-deps-analyzer/internal/pyfixture"
	"github.com/ronpik/mono-deps-analyzer/pkg/observability"
	"github.com/ronpik/mono-deps-analyzer/pkg/pyenv"
	"github.com/ronpik/mono-deps-analyzer/pkg/registry"
	"github.com/ronpik/mono-deps-analyzer/pkg/requirements"
	"github.com/ronpik/mono-deps-analyzer/pkg/version"
)

func noInterpreter(context.Context, string) (pyenv.Environment, error) {
	return pyenv.Environment{}, pyenv.ErrNoInterpreter
}

func testDeps(lookup registry.Lookup) analyzeDeps {
	return analyzeDeps{
		lookup:            lookup,
		inspect:           noInterpreter,
		getenv:            func(string) string { return "" },
		initObservability: observability.Init,
	}
}

func execute(t *testing.T, deps analyzeDeps, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	root := newRootCommandWithDeps(deps)
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func TestAnalyze_WritesRequirements(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, map[string]string{
		"app.py":          "import os\nimport requests\nfrom lib import tools\n",
		"lib/__init__.py": "",
		"lib/tools.py":    "import numpy\n",
	})
	output := filepath.Join(root, "requirements.txt")

	_, _, err := execute(t, testDeps(registry.StaticLookup{"requests": "2.31.0"}),
		filepath.Join(root, "app.py"), "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "numpy\nrequests==2.31.0\n", string(data))
}

func TestAnalyze_SubcommandMatchesRoot(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, map[string]string{"app.py": "import yaml\n"})

	stdout, _, err := execute(t, testDeps(registry.StaticLookup{"yaml": "6.0"}),
		"analyze", filepath.Join(root, "app.py"), "--output", "-")
	require.NoError(t, err)
	assert.Equal(t, "yaml==6.0\n", stdout)
}

func TestAnalyze_MissingEntryPoint(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	output := filepath.Join(root, "requirements.txt")

	_, _, err := execute(t, testDeps(registry.StaticLookup{}),
		filepath.Join(root, "nonexistent.py"), "-o", output)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.NoFileExists(t, output)
}

func TestAnalyze_UsageErrors(t *testing.T) {
	t.Parallel()

	entry := filepath.Join(pyfixture.New(t, map[string]string{"app.py": ""}), "app.py")

	tests := []struct {
		name string
		args []string
	}{
		{name: "no entry points", args: nil},
		{name: "unknown flag", args: []string{entry, "--bogus"}},
		{name: "unknown format", args: []string{entry, "--format", "xml", "-o", "-"}},
		{name: "bad workers value", args: []string{entry, "--workers", "many"}},
		{name: "version takes no args", args: []string{"version", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := execute(t, testDeps(registry.StaticLookup{}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitUsage, ExitCode(err))
		})
	}
}

func TestAnalyze_Check(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, map[string]string{"app.py": "import requests\n"})
	entry := filepath.Join(root, "app.py")
	output := filepath.Join(root, "requirements.txt")
	deps := testDeps(registry.StaticLookup{"requests": "2.31.0"})

	require.NoError(t, os.WriteFile(output, []byte("requests==2.0.0\n"), 0o600))

	stdout, _, err := execute(t, deps, entry, "-o", output, "--check")
	require.ErrorIs(t, err, ErrDrift)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Contains(t, stdout, "-requests==2.0.0")
	assert.Contains(t, stdout, "+requests==2.31.0")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "requests==2.0.0\n", string(data), "check must not rewrite the file")

	require.NoError(t, os.WriteFile(output, []byte("requests==2.31.0\n"), 0o600))

	stdout, _, err = execute(t, deps, entry, "-o", output, "--check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "is up to date")
}

func TestAnalyze_CheckIgnoresCosmetics(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, map[string]string{"app.py": "import requests\nimport flask\n"})
	entry := filepath.Join(root, "app.py")
	output := filepath.Join(root, "requirements.txt")
	deps := testDeps(registry.StaticLookup{"requests": "2.31.0"})

	require.NoError(t, os.WriteFile(output, []byte("# service deps\nrequests == 2.31.0\n\nflask\n"), 0o600))

	stdout, _, err := execute(t, deps, entry, "-o", output, "--check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "is up to date")

	require.NoError(t, os.WriteFile(output, []byte("# service deps\nrequests==2.31.0\n"), 0o600))

	stdout, _, err = execute(t, deps, entry, "-o", output, "--check")
	require.ErrorIs(t, err, ErrDrift)
	assert.Contains(t, stdout, "+flask")
}

func TestAnalyze_JSONFormat(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, pyfixture.Monorepo)

	stdout, _, err := execute(t, testDeps(registry.StaticLookup{"pandas": "1.3.0"}),
		filepath.Join(root, "service", "main.py"), "-p", root, "--format", "json", "-o", "-")
	require.NoError(t, err)

	var report requirements.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))

	assert.Equal(t, map[string]string{
		"external_pkg": "",
		"pandas":       "1.3.0",
		"requests":     "",
		"sqlalchemy":   "",
	}, report.Manifest())
	assert.NotEmpty(t, report.LocalModules)
}

func TestAnalyze_EnvFileSearchPath(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, map[string]string{
		"app/main.py":       "import corelib\n",
		"libs/corelib.py":   "import attrs\n",
		"settings/test.env": "",
	})
	envFile := filepath.Join(root, "settings", "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("PYTHONPATH="+filepath.Join(root, "libs")+"\n"), 0o600))

	stdout, _, err := execute(t, testDeps(registry.StaticLookup{}),
		filepath.Join(root, "app", "main.py"), "--env-file", envFile, "-o", "-")
	require.NoError(t, err)
	assert.Equal(t, "attrs\n", stdout)
}

func TestAnalyze_EnvFileMissing(t *testing.T) {
	t.Parallel()

	entry := filepath.Join(pyfixture.New(t, map[string]string{"app.py": ""}), "app.py")

	_, _, err := execute(t, testDeps(registry.StaticLookup{}), entry, "--env-file", "/nonexistent/.env")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestAnalyze_VerboseSummary(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, map[string]string{"app.py": "import requests\nimport flask\n"})

	stdout, _, err := execute(t, testDeps(registry.StaticLookup{"requests": "2.31.0"}),
		filepath.Join(root, "app.py"), "-o", filepath.Join(root, "out.txt"), "-v", "--no-color")
	require.NoError(t, err)

	assert.Contains(t, stdout, "External dependencies")
	assert.Contains(t, stdout, "Processed files")
	assert.Contains(t, stdout, "2.31.0")
	assert.Contains(t, stdout, versionUnknown)
	assert.Contains(t, stdout, "2 dependencies from 1 files")
	assert.Contains(t, stdout, "no installed version found for: flask")
}

func TestAnalyze_VerboseSummaryWithStdoutOutput(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, map[string]string{"app.py": "import requests\n"})

	stdout, stderr, err := execute(t, testDeps(registry.StaticLookup{"requests": "2.31.0"}),
		filepath.Join(root, "app.py"), "-o", "-", "-v", "--no-color")
	require.NoError(t, err)

	assert.Equal(t, "requests==2.31.0\n", stdout, "stdout carries the manifest alone")
	assert.Contains(t, stderr, "External dependencies")
	assert.Contains(t, stderr, "1 dependencies from 1 files")
	assert.NotContains(t, stderr, `"level":"DEBUG"`)
	assert.NotContains(t, stderr, "level=DEBUG", "verbose does not change the log level")
}

func TestAnalyze_MetricsTextfile(t *testing.T) {
	t.Parallel()

	root := pyfixture.New(t, map[string]string{"app.py": "import requests\n"})
	metricsPath := filepath.Join(root, "monodeps.prom")

	_, _, err := execute(t, testDeps(registry.StaticLookup{}),
		filepath.Join(root, "app.py"), "-o", "-", "--metrics-textfile", metricsPath)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "monodeps_files_visited")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	stdout, _, err := execute(t, testDeps(nil), "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", stdout)
}
