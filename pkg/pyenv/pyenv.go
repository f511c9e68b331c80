// Package pyenv asks a Python interpreter where its standard library and
// installed packages live.
package pyenv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"sync"
	"time"
)

// DefaultInterpreter is the command run when python.interpreter is unset.
const DefaultInterpreter = "python3"

// inspectTimeout bounds one interpreter start.
const inspectTimeout = 10 * time.Second

// ErrNoInterpreter is returned when the interpreter cannot be started.
var ErrNoInterpreter = errors.New("python interpreter not available")

// inspectScript prints the interpreter layout as one JSON object. Older
// virtualenvs ship a site module without getsitepackages.
const inspectScript = `import json, site, sys, sysconfig
getsite = getattr(site, "getsitepackages", lambda: [])
getuser = getattr(site, "getusersitepackages", lambda: "")
json.dump({
    "version": "%d.%d" % sys.version_info[:2],
    "stdlib": sysconfig.get_path("stdlib"),
    "site_packages": list(getsite()),
    "user_site": getuser() if site.ENABLE_USER_SITE else "",
}, sys.stdout)
`

// Environment is the layout reported by an interpreter.
type Environment struct {
	Version      string   `json:"version"`
	StdlibDir    string   `json:"stdlib"`
	SitePackages []string `json:"site_packages"`
	UserSite     string   `json:"user_site"`
}

// PackageDirs returns the global site-packages directories followed by the
// user site directory.
func (e Environment) PackageDirs() []string {
	dirs := slices.Clone(e.SitePackages)
	if e.UserSite != "" {
		dirs = append(dirs, e.UserSite)
	}

	return dirs
}

// InspectFunc queries an interpreter.
type InspectFunc func(ctx context.Context, interpreter string) (Environment, error)

// Inspect runs interpreter once and decodes its layout.
func Inspect(ctx context.Context, interpreter string) (Environment, error) {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}

	path, err := exec.LookPath(interpreter)
	if err != nil {
		return Environment{}, fmt.Errorf("%w: %s: %w", ErrNoInterpreter, interpreter, err)
	}

	ctx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, path, "-c", inspectScript)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Environment{}, fmt.Errorf("%w: %s: %w: %s", ErrNoInterpreter, path, err, bytes.TrimSpace(stderr.Bytes()))
	}

	return Decode(stdout.Bytes())
}

// Decode parses the script output.
func Decode(data []byte) (Environment, error) {
	var env Environment
	if err := json.Unmarshal(data, &env); err != nil {
		return Environment{}, fmt.Errorf("decode interpreter layout: %w", err)
	}

	return env, nil
}

// Memoize wraps inspect so each interpreter is queried once. Failures are
// cached too.
func Memoize(inspect InspectFunc) InspectFunc {
	type result struct {
		env Environment
		err error
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]result)
	)

	return func(ctx context.Context, interpreter string) (Environment, error) {
		mu.Lock()
		defer mu.Unlock()

		if r, ok := seen[interpreter]; ok {
			return r.env, r.err
		}

		env, err := inspect(ctx, interpreter)
		seen[interpreter] = result{env: env, err: err}

		return env, err
	}
}
