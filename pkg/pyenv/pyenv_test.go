package pyenv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronpik/mono-deps-analyzer/pkg/pyenv"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	env, err := pyenv.Decode([]byte(`{
		"version": "3.12",
		"stdlib": "/usr/lib/python3.12",
		"site_packages": ["/usr/local/lib/python3.12/dist-packages", "/usr/lib/python3/dist-packages"],
		"user_site": "/home/dev/.local/lib/python3.12/site-packages"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "3.12", env.Version)
	assert.Equal(t, "/usr/lib/python3.12", env.StdlibDir)
	assert.Equal(t, []string{
		"/usr/local/lib/python3.12/dist-packages",
		"/usr/lib/python3/dist-packages",
		"/home/dev/.local/lib/python3.12/site-packages",
	}, env.PackageDirs())
}

func TestDecode_Invalid(t *testing.T) {
	t.Parallel()

	_, err := pyenv.Decode([]byte("Traceback (most recent call last):"))
	require.Error(t, err)
}

func TestPackageDirs_NoUserSite(t *testing.T) {
	t.Parallel()

	env := pyenv.Environment{SitePackages: []string{"/venv/lib/python3.11/site-packages"}}

	dirs := env.PackageDirs()
	assert.Equal(t, []string{"/venv/lib/python3.11/site-packages"}, dirs)

	dirs[0] = "changed"
	assert.Equal(t, "/venv/lib/python3.11/site-packages", env.SitePackages[0])
}

func TestInspect_MissingInterpreter(t *testing.T) {
	t.Parallel()

	_, err := pyenv.Inspect(context.Background(), "monodeps-no-such-python")
	require.ErrorIs(t, err, pyenv.ErrNoInterpreter)
	assert.Contains(t, err.Error(), "monodeps-no-such-python")
}

func TestMemoize(t *testing.T) {
	t.Parallel()

	calls := map[string]int{}
	errBroken := errors.New("broken")

	inspect := pyenv.Memoize(func(_ context.Context, interpreter string) (pyenv.Environment, error) {
		calls[interpreter]++

		if interpreter == "python2" {
			return pyenv.Environment{}, errBroken
		}

		return pyenv.Environment{Version: "3.12"}, nil
	})

	for range 3 {
		env, err := inspect(context.Background(), "python3")
		require.NoError(t, err)
		assert.Equal(t, "3.12", env.Version)

		_, err = inspect(context.Background(), "python2")
		require.ErrorIs(t, err, errBroken)
	}

	assert.Equal(t, map[string]int{"python3": 1, "python2": 1}, calls)
}
