package requirements

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	plotTopLimit    = 30
	plotXAxisRotate = 45
	pieRadius       = "60%"
)

// WritePlot renders the report as an HTML page with a bar chart of
// dependencies ranked by importing files and a pie chart of import kinds.
func WritePlot(w io.Writer, report *Report) error {
	page := components.NewPage()
	page.SetPageTitle("Python dependency analysis")
	page.AddCharts(dependencyBar(report), importKindPie(report.Stats))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	return nil
}

func dependencyBar(report *Report) *charts.Bar {
	reqs := slices.Clone(report.Requirements)
	slices.SortStableFunc(reqs, func(a, b Requirement) int {
		if c := cmp.Compare(len(b.ImportedBy), len(a.ImportedBy)); c != 0 {
			return c
		}

		return cmp.Compare(a.Name, b.Name)
	})

	if len(reqs) > plotTopLimit {
		reqs = reqs[:plotTopLimit]
	}

	labels := make([]string, len(reqs))
	data := make([]opts.BarData, len(reqs))

	for i, req := range reqs {
		labels[i] = Line(req.Name, req.Version)
		data[i] = opts.BarData{Value: len(req.ImportedBy)}
	}

	subtitle := fmt.Sprintf("%d external dependencies", len(report.Requirements))
	if len(reqs) == 0 {
		subtitle = "No data"
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Dependencies by importing files", Subtitle: subtitle, Left: "center"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "500px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: plotXAxisRotate}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Files"}),
	)
	bar.SetXAxis(labels).AddSeries("Importing files", data)

	return bar
}

func importKindPie(stats ImportStats) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Import statements by kind", Left: "center"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "600px", Height: "400px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)

	data := []opts.PieData{
		{Name: "Standard library", Value: stats.Stdlib},
		{Name: "Local", Value: stats.Local},
		{Name: "External", Value: stats.External},
		{Name: "Unresolved", Value: stats.Unresolved},
	}

	pie.AddSeries("Imports", data).
		SetSeriesOptions(
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c} ({d}%)"}),
			charts.WithPieChartOpts(opts.PieChart{Radius: pieRadius}),
		)

	return pie
}
