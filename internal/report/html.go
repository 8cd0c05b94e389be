package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/localiser/internal/localiser"
)

// EchartsAssetsHost serves the echarts scripts referenced by rendered pages.
const EchartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// TrajectoryChart plots ground truth and estimate in the map frame with the
// beacon map.
func TrajectoryChart(entries []Entry, beacons []localiser.Beacon, subtitle string) *charts.Scatter {
	truth := make([]opts.ScatterData, 0, len(entries))
	visible := make([]opts.ScatterData, 0, len(entries))
	blind := make([]opts.ScatterData, 0, len(entries))
	for _, e := range entries {
		truth = append(truth, opts.ScatterData{Value: []interface{}{e.Truth.X, e.Truth.Y}})
		pt := opts.ScatterData{Value: []interface{}{e.Estimate.X, e.Estimate.Y, e.Step}}
		if e.Visible() {
			visible = append(visible, pt)
		} else {
			blind = append(blind, pt)
		}
	}
	marks := make([]opts.ScatterData, 0, len(beacons))
	for _, b := range beacons {
		marks = append(marks, opts.ScatterData{
			Value:      []interface{}{b.Pose.X, b.Pose.Y},
			Name:       "beacon " + strconv.Itoa(b.ID),
			Symbol:     "triangle",
			SymbolSize: 12,
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "700px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("ground truth", truth, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3})).
		AddSeries("estimate (beacon visible)", visible, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4})).
		AddSeries("estimate (no beacon)", blind, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4})).
		AddSeries("beacons", marks, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	return scatter
}

// ErrorChart plots position and heading error against time.
func ErrorChart(entries []Entry) *charts.Line {
	errs := StepErrors(entries)
	x := make([]string, len(errs))
	pos := make([]opts.LineData, len(errs))
	head := make([]opts.LineData, len(errs))
	for i, e := range errs {
		x[i] = strconv.FormatFloat(e.Time, 'f', 2, 64)
		pos[i] = opts.LineData{Value: e.Position}
		head[i] = opts.LineData{Value: e.Heading}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Estimate error"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(x).
		AddSeries("position (m)", pos).
		AddSeries("heading (rad)", head).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

// ParticleChart plots the particle count and effective sample size, marking
// steps that resampled or recovered.
func ParticleChart(entries []Entry) *charts.Line {
	x := make([]string, len(entries))
	count := make([]opts.LineData, len(entries))
	ess := make([]opts.LineData, len(entries))
	for i, e := range entries {
		x[i] = strconv.Itoa(e.Step)
		count[i] = opts.LineData{Value: e.Particles}
		ess[i] = opts.LineData{Value: e.ESS}
		if e.Recovered {
			count[i].Symbol = "pin"
			count[i].SymbolSize = 14
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Particles", Subtitle: "pins mark LOST recoveries"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(x).
		AddSeries("particles", count).
		AddSeries("effective sample size", ess)
	return line
}

// WriteHTML renders the trajectory, error and particle charts as one page.
func WriteHTML(w io.Writer, title string, entries []Entry, beacons []localiser.Beacon, stats ErrorStats) error {
	traj := TrajectoryChart(entries, beacons, fmt.Sprintf(
		"steps %d, RMSE %.3f m, mean |heading| %.3f rad, final %.3f m, lost steps %d",
		stats.Steps, stats.PositionRMSE, stats.MeanAbsHeading, stats.FinalPosition, stats.LostSteps))

	page := components.NewPage()
	page.PageTitle = title
	page.SetAssetsHost(EchartsAssetsHost)
	page.AddCharts(traj, ErrorChart(entries), ParticleChart(entries))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
