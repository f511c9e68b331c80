package commands

import (
	"errors"

	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ErrDrift is returned by --check when the generated manifest differs from
// the file on disk.
var ErrDrift = errors.New("requirements are out of date")

// UsageError marks a malformed invocation: unknown flags, bad flag values
// or a wrong number of arguments.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsage
	}

	return ExitFailure
}

// usageArgs wraps a positional-argument validator so its failures are
// reported as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &UsageError{Err: err}
		}

		return nil
	}
}

func flagError(_ *cobra.Command, err error) error {
	return &UsageError{Err: err}
}
