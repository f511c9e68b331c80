package requirements

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Drift is a line-level difference between an existing manifest and a
// freshly generated one.
type Drift struct {
	Added   []string
	Removed []string
}

// Empty reports whether the manifests match.
func (d Drift) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Unified renders the drift with "+" and "-" line prefixes.
func (d Drift) Unified() string {
	var sb strings.Builder

	for _, line := range d.Removed {
		sb.WriteString("-" + line + "\n")
	}

	for _, line := range d.Added {
		sb.WriteString("+" + line + "\n")
	}

	return sb.String()
}

// Diff compares two manifests line by line.
func Diff(existing, generated string) Drift {
	dmp := diffmatchpatch.New()
	src, dst, lines := dmp.DiffLinesToRunes(terminate(existing), terminate(generated))
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(src, dst, false), lines)

	var drift Drift

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			drift.Added = append(drift.Added, splitLines(d.Text)...)
		case diffmatchpatch.DiffDelete:
			drift.Removed = append(drift.Removed, splitLines(d.Text)...)
		case diffmatchpatch.DiffEqual:
		}
	}

	return drift
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}

	return strings.Split(text, "\n")
}

func terminate(text string) string {
	if text == "" || strings.HasSuffix(text, "\n") {
		return text
	}

	return text + "\n"
}
