package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ronpik/mono-deps-analyzer/pkg/requirements"
)

const versionUnknown = "(unknown)"

// writeSummary prints the verbose report: the dependency table, the
// processed-file table and status lines for unknown versions and failures.
func writeSummary(w io.Writer, report *requirements.Report, colored bool) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed)

	if !colored {
		ok.DisableColor()
		warn.DisableColor()
		bad.DisableColor()
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, dependencyTable(report))
	fmt.Fprintln(w)
	fmt.Fprintln(w, fileTable(report))
	fmt.Fprintln(w)

	ok.Fprintf(w, "%d dependencies from %d files\n", len(report.Requirements), len(report.Visited))

	if len(report.Misses) > 0 {
		warn.Fprintf(w, "no installed version found for: %s\n", strings.Join(report.Misses, ", "))
	}

	for _, failure := range report.Failures {
		bad.Fprintf(w, "failed to analyze %s: %s\n", failure.File, failure.Error)
	}
}

func dependencyTable(report *requirements.Report) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("External dependencies")
	tw.AppendHeader(table.Row{"Package", "Version", "Imported by"})

	for _, req := range report.Requirements {
		version := req.Version
		if version == "" {
			version = versionUnknown
		}

		tw.AppendRow(table.Row{req.Name, version, len(req.ImportedBy)})
	}

	tw.AppendFooter(table.Row{"Total", len(report.Requirements), ""})

	return tw.Render()
}

func fileTable(report *requirements.Report) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Processed files")
	tw.AppendHeader(table.Row{"File", "Size"})

	var total uint64

	for _, path := range report.Visited {
		size := "-"

		if info, err := os.Stat(path); err == nil {
			total += uint64(info.Size())
			size = humanize.IBytes(uint64(info.Size()))
		}

		tw.AppendRow(table.Row{path, size})
	}

	tw.AppendFooter(table.Row{fmt.Sprintf("%d files", len(report.Visited)), humanize.IBytes(total)})

	return tw.Render()
}
