// Package importmodel defines the data model for source file import analysis.
package importmodel

import "strings"

// Statement is a single import extracted from a source file.
//
// Both "import a.b" and "from a.b import c" collapse to Path "a.b"; for the
// latter form Names holds the imported identifiers. Level counts the leading
// dots of a relative import and is zero for absolute imports.
type Statement struct {
	Path  string
	Names []string
	Level int
}

// IsRelative reports whether the statement is a relative import.
func (s Statement) IsRelative() bool {
	return s.Level > 0
}

// String renders the statement the way it would appear after "from".
func (s Statement) String() string {
	return strings.Repeat(".", s.Level) + s.Path
}

// File represents a source file with its detected imports, language, and any parse error.
type File struct {
	Path    string
	Imports []Statement
	Lang    string
	Error   error
}
