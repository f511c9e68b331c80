package entrypoint_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronpik/mono-deps-analyzer/pkg/entrypoint"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	main := write(t, dir, "main.py", "import os\n")
	worker := write(t, dir, "worker.py", "import sys\n")

	got, err := entrypoint.Validate([]string{main, worker, main}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{main, worker}, got)
}

func TestValidate_Missing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	main := write(t, dir, "main.py", "import os\n")

	_, err := entrypoint.Validate([]string{main, filepath.Join(dir, "nonexistent.py")}, nil)
	require.ErrorIs(t, err, entrypoint.ErrNotFound)
	assert.Contains(t, err.Error(), "nonexistent.py")
}

func TestValidate_Directory(t *testing.T) {
	t.Parallel()

	_, err := entrypoint.Validate([]string{t.TempDir()}, nil)
	require.ErrorIs(t, err, entrypoint.ErrNotAFile)
}

func TestValidate_Empty(t *testing.T) {
	t.Parallel()

	_, err := entrypoint.Validate(nil, nil)
	require.ErrorIs(t, err, entrypoint.ErrNoEntries)
}

func TestValidate_WarnsOnNonPython(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := write(t, dir, "manage", "#!/usr/bin/env python3\nimport django\n")
	notes := write(t, dir, "notes.md", "# notes\n")

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	got, err := entrypoint.Validate([]string{script, notes}, logger)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assert.NotContains(t, buf.String(), "manage")
	assert.Contains(t, buf.String(), "notes.md")
}

func TestLanguage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	assert.Equal(t, "Python", entrypoint.Language(write(t, dir, "app.py", "")))
	assert.Equal(t, "Python", entrypoint.Language(write(t, dir, "run", "#!/usr/bin/env python\nprint(1)\n")))
	assert.NotEqual(t, "Python", entrypoint.Language(write(t, dir, "build.sh", "#!/bin/sh\necho hi\n")))
}
