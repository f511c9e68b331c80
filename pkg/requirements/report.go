package requirements

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"
)

// Format names an output rendering.
type Format string

// Supported output formats.
const (
	FormatRequirements Format = "requirements"
	FormatJSON         Format = "json"
	FormatYAML         Format = "yaml"
	FormatPlot         Format = "plot"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatRequirements, FormatJSON, FormatYAML, FormatPlot}
}

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	f := Format(name)
	if !slices.Contains(Formats(), f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}

	return f, nil
}

// Requirement is one external dependency in a report.
type Requirement struct {
	Name       string   `json:"name"                  yaml:"name"`
	Version    string   `json:"version,omitempty"     yaml:"version,omitempty"`
	ImportedBy []string `json:"imported_by,omitempty" yaml:"imported_by,omitempty"`
}

// LocalModule is a resolved in-project module.
type LocalModule struct {
	Module    string `json:"module"  yaml:"module"`
	File      string `json:"file"    yaml:"file"`
	IsPackage bool   `json:"package" yaml:"package"`
}

// Failure is a file that could not be read or parsed.
type Failure struct {
	File  string `json:"file"  yaml:"file"`
	Error string `json:"error" yaml:"error"`
}

// ImportStats counts classified import statements.
type ImportStats struct {
	Stdlib     int `json:"stdlib"     yaml:"stdlib"`
	Local      int `json:"local"      yaml:"local"`
	External   int `json:"external"   yaml:"external"`
	Unresolved int `json:"unresolved" yaml:"unresolved"`
}

// Report is the full result of one analysis run.
type Report struct {
	Entries      []string      `json:"entries"                    yaml:"entries"`
	SearchPaths  []string      `json:"search_paths"               yaml:"search_paths"`
	Requirements []Requirement `json:"requirements"               yaml:"requirements"`
	LocalModules []LocalModule `json:"local_modules"              yaml:"local_modules"`
	Visited      []string      `json:"visited"                    yaml:"visited"`
	Ignored      []string      `json:"ignored,omitempty"          yaml:"ignored,omitempty"`
	Failures     []Failure     `json:"failures,omitempty"         yaml:"failures,omitempty"`
	Misses       []string      `json:"unknown_versions,omitempty" yaml:"unknown_versions,omitempty"`
	Stats        ImportStats   `json:"imports"                    yaml:"imports"`
}

// Manifest returns the name to version mapping of the report.
func (r *Report) Manifest() map[string]string {
	reqs := make(map[string]string, len(r.Requirements))
	for _, req := range r.Requirements {
		reqs[req.Name] = req.Version
	}

	return reqs
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}

	return nil
}

// WriteYAML writes the report as YAML.
func WriteYAML(w io.Writer, report *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode yaml report: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("close yaml encoder: %w", err)
	}

	return nil
}

// Renderer returns a function writing report in format.
func Renderer(format Format, report *Report) (func(io.Writer) error, error) {
	switch format {
	case FormatRequirements:
		return func(w io.Writer) error { return Write(w, report.Manifest()) }, nil
	case FormatJSON:
		return func(w io.Writer) error { return WriteJSON(w, report) }, nil
	case FormatYAML:
		return func(w io.Writer) error { return WriteYAML(w, report) }, nil
	case FormatPlot:
		return func(w io.Writer) error { return WritePlot(w, report) }, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
