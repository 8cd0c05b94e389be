package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/localiser/internal/localiser"
)

var (
	truthColor    = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	odomColor     = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	visibleColor  = color.RGBA{R: 30, G: 160, B: 70, A: 255}
	blindColor    = color.RGBA{R: 210, G: 60, B: 50, A: 255}
	beaconColor   = color.RGBA{R: 40, G: 90, B: 200, A: 255}
	particleColor = color.RGBA{R: 230, G: 150, B: 20, A: 90}
)

// beaconArrow is the length in metres of the heading tick drawn on beacons.
const beaconArrow = 0.4

// PathPlot draws ground truth, odometry and estimate paths over the beacon
// map. Estimate segments are green while a beacon is visible and red
// otherwise.
func PathPlot(entries []Entry, beacons []localiser.Beacon, particles localiser.ParticleSet) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Localisation path"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	if particles.Len() > 0 {
		pts := make(plotter.XYs, particles.Len())
		for i, q := range particles.Poses {
			pts[i] = plotter.XY{X: q.X, Y: q.Y}
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("particles: %w", err)
		}
		s.GlyphStyle.Color = particleColor
		s.GlyphStyle.Radius = vg.Points(1)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add("particles", s)
	}

	if len(entries) > 0 {
		truth := make(plotter.XYs, len(entries))
		odom := make(plotter.XYs, len(entries))
		for i, e := range entries {
			truth[i] = plotter.XY{X: e.Truth.X, Y: e.Truth.Y}
			odom[i] = plotter.XY{X: e.Odometry.X, Y: e.Odometry.Y}
		}
		truthLine, err := plotter.NewLine(truth)
		if err != nil {
			return nil, fmt.Errorf("ground truth: %w", err)
		}
		truthLine.Color = truthColor
		truthLine.Width = vg.Points(1.5)
		p.Add(truthLine)
		p.Legend.Add("ground truth", truthLine)

		odomLine, err := plotter.NewLine(odom)
		if err != nil {
			return nil, fmt.Errorf("odometry: %w", err)
		}
		odomLine.Color = odomColor
		odomLine.Width = vg.Points(1)
		odomLine.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		p.Add(odomLine)
		p.Legend.Add("odometry", odomLine)

		var shownVisible, shownBlind bool
		for _, seg := range visibilitySegments(entries) {
			line, err := plotter.NewLine(seg.points)
			if err != nil {
				return nil, fmt.Errorf("estimate: %w", err)
			}
			line.Width = vg.Points(1.5)
			if seg.visible {
				line.Color = visibleColor
				if !shownVisible {
					p.Legend.Add("estimate (beacon visible)", line)
					shownVisible = true
				}
			} else {
				line.Color = blindColor
				if !shownBlind {
					p.Legend.Add("estimate (no beacon)", line)
					shownBlind = true
				}
			}
			p.Add(line)
		}
	}

	if len(beacons) > 0 {
		pts := make(plotter.XYs, len(beacons))
		for i, b := range beacons {
			pts[i] = plotter.XY{X: b.Pose.X, Y: b.Pose.Y}
			sin, cos := math.Sincos(b.Pose.Theta)
			tick, err := plotter.NewLine(plotter.XYs{
				{X: b.Pose.X, Y: b.Pose.Y},
				{X: b.Pose.X + beaconArrow*cos, Y: b.Pose.Y + beaconArrow*sin},
			})
			if err != nil {
				return nil, fmt.Errorf("beacon %d: %w", b.ID, err)
			}
			tick.Color = beaconColor
			tick.Width = vg.Points(1)
			p.Add(tick)
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("beacons: %w", err)
		}
		s.GlyphStyle.Color = beaconColor
		s.GlyphStyle.Radius = vg.Points(4)
		s.GlyphStyle.Shape = draw.TriangleGlyph{}
		p.Add(s)
		p.Legend.Add("beacons", s)

		labels, err := plotter.NewLabels(beaconLabels(beacons))
		if err != nil {
			return nil, fmt.Errorf("beacon labels: %w", err)
		}
		p.Add(labels)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// ErrorPlot draws position and heading error over time.
func ErrorPlot(entries []Entry) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Estimate error"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Error (m, rad)"
	p.Add(plotter.NewGrid())

	errs := StepErrors(entries)
	if len(errs) == 0 {
		return p, nil
	}
	pos := make(plotter.XYs, len(errs))
	head := make(plotter.XYs, len(errs))
	for i, e := range errs {
		pos[i] = plotter.XY{X: e.Time, Y: e.Position}
		head[i] = plotter.XY{X: e.Time, Y: e.Heading}
	}

	posLine, err := plotter.NewLine(pos)
	if err != nil {
		return nil, err
	}
	posLine.Color = blindColor
	posLine.Width = vg.Points(1)
	p.Add(posLine)
	p.Legend.Add("position (m)", posLine)

	headLine, err := plotter.NewLine(head)
	if err != nil {
		return nil, err
	}
	headLine.Color = beaconColor
	headLine.Width = vg.Points(1)
	p.Add(headLine)
	p.Legend.Add("heading (rad)", headLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders p as a PNG to w.
func WritePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

type segment struct {
	visible bool
	points  plotter.XYs
}

// visibilitySegments splits the estimate path into runs of equal beacon
// visibility. Adjacent segments share an end point so the path is unbroken.
func visibilitySegments(entries []Entry) []segment {
	var segs []segment
	for i, e := range entries {
		pt := plotter.XY{X: e.Estimate.X, Y: e.Estimate.Y}
		if i == 0 || segs[len(segs)-1].visible != e.Visible() {
			s := segment{visible: e.Visible()}
			if i > 0 {
				prev := entries[i-1].Estimate
				s.points = append(s.points, plotter.XY{X: prev.X, Y: prev.Y})
			}
			segs = append(segs, s)
		}
		last := &segs[len(segs)-1]
		last.points = append(last.points, pt)
	}
	// A one-point segment cannot be drawn as a line.
	out := segs[:0]
	for _, s := range segs {
		if len(s.points) > 1 {
			out = append(out, s)
		}
	}
	return out
}

func beaconLabels(beacons []localiser.Beacon) plotter.XYLabels {
	labels := plotter.XYLabels{
		XYs:    make(plotter.XYs, len(beacons)),
		Labels: make([]string, len(beacons)),
	}
	for i, b := range beacons {
		labels.XYs[i] = plotter.XY{X: b.Pose.X + 0.15, Y: b.Pose.Y + 0.15}
		labels.Labels[i] = fmt.Sprintf("%d", b.ID)
	}
	return labels
}
