package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ronpik/mono-deps-analyzer/pkg/analysis"
	"github.com/ronpik/mono-deps-analyzer/pkg/requirements"
)

// ToolNameAnalyze is the dependency analysis tool.
const ToolNameAnalyze = "monodeps_analyze"

// MaxEntries bounds the entry points accepted by one tool call.
const MaxEntries = 256

// Input validation errors.
var (
	ErrNoEntries          = errors.New("entries parameter is required and must not be empty")
	ErrTooManyEntries     = errors.New("too many entries")
	ErrEntryNotAbsolute   = errors.New("entry paths must be absolute")
	ErrSearchPathRelative = errors.New("search paths must be absolute")
	errToolResult         = errors.New("tool returned an error result")
)

// AnalyzeInput is the input schema for the monodeps_analyze tool.
type AnalyzeInput struct {
	Entries     []string `json:"entries"                jsonschema:"absolute paths of the Python entry-point files"`
	Paths       []string `json:"paths,omitempty"        jsonschema:"additional absolute search paths for local modules"`
	IgnorePaths []string `json:"ignore_paths,omitempty" jsonschema:"paths or glob patterns excluded from traversal"`
}

// AnalyzeOutput is the structured result of the monodeps_analyze tool.
type AnalyzeOutput struct {
	Requirements string               `json:"requirements" jsonschema:"requirements.txt content"`
	Report       *requirements.Report `json:"report"       jsonschema:"full analysis report"`
}

func (s *Server) handleAnalyze(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input AnalyzeInput,
) (*mcpsdk.CallToolResult, AnalyzeOutput, error) {
	if err := validateAnalyzeInput(input); err != nil {
		return errorResult[AnalyzeOutput](err)
	}

	cfg := *s.deps.Config
	cfg.Search.Paths = slices.Concat(cfg.Search.Paths, input.Paths)
	cfg.Search.IgnorePaths = slices.Concat(cfg.Search.IgnorePaths, input.IgnorePaths)

	analyzer := analysis.New(&cfg, analysis.Deps{
		Lookup:  s.deps.Lookup,
		Inspect: s.deps.Inspect,
		Logger:  s.deps.Logger,
		Tracer:  s.deps.Tracer,
		Metrics: s.deps.Analysis,
	})

	report, err := analyzer.Run(ctx, input.Entries)
	if err != nil {
		return errorResult[AnalyzeOutput](err)
	}

	manifest, err := requirements.Render(report.Manifest())
	if err != nil {
		return errorResult[AnalyzeOutput](fmt.Errorf("render requirements: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: manifest}},
	}, AnalyzeOutput{Requirements: manifest, Report: report}, nil
}

func validateAnalyzeInput(input AnalyzeInput) error {
	if len(input.Entries) == 0 {
		return ErrNoEntries
	}

	if len(input.Entries) > MaxEntries {
		return fmt.Errorf("%w: %d (max %d)", ErrTooManyEntries, len(input.Entries), MaxEntries)
	}

	for _, entry := range input.Entries {
		if !filepath.IsAbs(entry) {
			return fmt.Errorf("%w: %s", ErrEntryNotAbsolute, entry)
		}
	}

	for _, path := range input.Paths {
		if !filepath.IsAbs(path) {
			return fmt.Errorf("%w: %s", ErrSearchPathRelative, path)
		}
	}

	return nil
}

// errorResult builds a CallToolResult with IsError set.
func errorResult[Out any](err error) (*mcpsdk.CallToolResult, Out, error) {
	var zero Out

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
		IsError: true,
	}, zero, nil
}
