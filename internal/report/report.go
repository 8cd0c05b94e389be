package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/localiser/internal/localiser"
	"github.com/banshee-data/localiser/internal/monitoring"
)

// Output file names written by Write.
const (
	PathPNGFile   = "path.png"
	ErrorPNGFile  = "error.png"
	HTMLFile      = "report.html"
	EstimatesFile = "estimates.csv"
	StatsFile     = "stats.json"
)

// Input is everything needed to render a run.
type Input struct {
	Title     string
	Entries   []Entry
	Beacons   []localiser.Beacon
	Particles localiser.ParticleSet // cloud drawn on the path plot
}

// Write renders every report artefact into dir, creating it if needed, and
// returns the error statistics.
func Write(dir string, in Input) (ErrorStats, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ErrorStats{}, fmt.Errorf("failed to create output dir: %w", err)
	}
	stats := ComputeErrorStats(in.Entries)
	title := in.Title
	if title == "" {
		title = "Localisation report"
	}

	path, err := PathPlot(in.Entries, in.Beacons, in.Particles)
	if err != nil {
		return stats, fmt.Errorf("path plot: %w", err)
	}
	path.Title.Text = title
	if err := path.Save(10*vg.Inch, 8*vg.Inch, filepath.Join(dir, PathPNGFile)); err != nil {
		return stats, fmt.Errorf("save path plot: %w", err)
	}

	errPlot, err := ErrorPlot(in.Entries)
	if err != nil {
		return stats, fmt.Errorf("error plot: %w", err)
	}
	if err := errPlot.Save(14*vg.Inch, 5*vg.Inch, filepath.Join(dir, ErrorPNGFile)); err != nil {
		return stats, fmt.Errorf("save error plot: %w", err)
	}

	if err := writeFile(filepath.Join(dir, HTMLFile), func(f *os.File) error {
		return WriteHTML(f, title, in.Entries, in.Beacons, stats)
	}); err != nil {
		return stats, err
	}
	if err := writeFile(filepath.Join(dir, EstimatesFile), func(f *os.File) error {
		return WriteEstimatesCSV(f, in.Entries)
	}); err != nil {
		return stats, err
	}
	if err := writeFile(filepath.Join(dir, StatsFile), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}); err != nil {
		return stats, err
	}

	monitoring.Logf("[Report] wrote %s (RMSE %.3f m over %d steps)", dir, stats.PositionRMSE, stats.Steps)
	return stats, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakeOutputDir returns baseDir/<data file basename>/<timestamp>.
func MakeOutputDir(baseDir, dataFile string, now time.Time) string {
	name := "run"
	if dataFile != "" {
		base := filepath.Base(dataFile)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return filepath.Join(baseDir, name, FormatTimestamp(now))
}
