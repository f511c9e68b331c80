// Package commands implements the monodeps CLI commands.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ronpik/mono-deps-analyzer/pkg/version"
)

// NewRootCommand creates the monodeps command tree. Invoked without a
// subcommand, monodeps behaves like "monodeps analyze".
func NewRootCommand() *cobra.Command {
	return newRootCommandWithDeps(defaultAnalyzeDeps())
}

func newRootCommandWithDeps(deps analyzeDeps) *cobra.Command {
	root := &cobra.Command{
		Use:   "monodeps ENTRY...",
		Short: "Generate requirements.txt for a Python monorepo",
		Long: `monodeps follows the imports of one or more Python entry points through
the local source tree, classifies every import as standard library, local or
external, and writes the external distributions pinned to their installed
versions.

Commands:
  analyze   Analyze entry points (default)
  mcp       Serve the analysis as an MCP tool over stdio
  version   Show build information`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindAnalyze(root, deps)

	root.SetFlagErrorFunc(flagError)
	root.SetVersionTemplate(fmt.Sprintln(version.String()))

	root.AddCommand(newAnalyzeCommandWithDeps(deps))
	root.AddCommand(NewMCPCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
