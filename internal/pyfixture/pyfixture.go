// Package pyfixture builds small Python source trees for tests.
package pyfixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Monorepo is the layout exercised across the test suites: a service entry
// point importing a shared package tree.
var Monorepo = map[string]string{
	"service/main.py": `import os
import json
from shared.database import connect
from shared.utils.helpers import format_data
import requests
from external_pkg import something
`,
	"shared/database/__init__.py": `import sqlalchemy
import shared.utils.config as config
`,
	"shared/utils/__init__.py": "",
	"shared/utils/helpers.py": `from datetime import datetime
import pandas
`,
	"shared/utils/config.py": "CONFIG = {}\n",
}

// Write creates files under root; keys are slash-separated relative paths.
func Write(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))

		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

// New creates a fresh temp dir holding files and returns its path.
func New(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	Write(t, root, files)

	return root
}
