package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/localiser/internal/localiser"
)

// LogColumns is the header of a run log.
var LogColumns = []string{
	"time_ns", "velocity_command", "rotation_command",
	"map_x", "map_y", "map_theta",
	"odom_x", "odom_y", "odom_theta",
	"beacon_id", "beacon_x", "beacon_y", "beacon_theta",
}

// BeaconMapColumns is the minimum header of a beacon map. Extra trailing
// columns (covariance) are ignored.
var BeaconMapColumns = []string{"id", "x", "y", "theta"}

// LoadLog reads a run log CSV file.
func LoadLog(path string) ([]Record, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()
	records, err := ReadLog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ReadLog parses a run log. Rows are validated: odometry and ground truth
// must be finite, a visible beacon must have a finite pose, and time must
// strictly increase. An empty or NaN beacon id means no beacon.
func ReadLog(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("insufficient data in log file")
	}
	if len(rows[0]) < len(LogColumns) {
		return nil, fmt.Errorf("invalid header in log file, expected: %s", strings.Join(LogColumns, ","))
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		rec, err := parseLogRow(row)
		if err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", line, err)
		}
		if n := len(records); n > 0 && rec.TimeNs <= records[n-1].TimeNs {
			return nil, fmt.Errorf("invalid record at line %d: time %d does not increase (previous %d)", line, rec.TimeNs, records[n-1].TimeNs)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseLogRow(row []string) (Record, error) {
	if len(row) < len(LogColumns) {
		return Record{}, fmt.Errorf("expected %d fields, got %d", len(LogColumns), len(row))
	}
	vals := make([]float64, len(LogColumns))
	for j := range LogColumns {
		v, err := parseField(row[j])
		if err != nil {
			return Record{}, fmt.Errorf("invalid %s: %w", LogColumns[j], err)
		}
		vals[j] = v
	}

	// Everything except the beacon columns must be finite.
	for j := 0; j < 9; j++ {
		if math.IsNaN(vals[j]) || math.IsInf(vals[j], 0) {
			return Record{}, fmt.Errorf("%s is not finite", LogColumns[j])
		}
	}

	timeNs, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		// Exported logs sometimes carry the timestamp in float notation.
		timeNs = int64(vals[0])
	}

	rec := Record{
		TimeNs:   timeNs,
		Command:  localiser.Command{Speed: vals[1], Rotation: vals[2]},
		MapPose:  localiser.Pose{X: vals[3], Y: vals[4], Theta: localiser.WrapToPi(vals[5])},
		OdomPose: localiser.Pose{X: vals[6], Y: vals[7], Theta: localiser.WrapToPi(vals[8])},
		BeaconID: localiser.NoBeacon,
	}

	if id := vals[9]; !math.IsNaN(id) && id >= 0 {
		if id != math.Trunc(id) || math.IsInf(id, 0) {
			return Record{}, fmt.Errorf("beacon_id %v is not an integer", id)
		}
		pose := localiser.Pose{X: vals[10], Y: vals[11], Theta: vals[12]}
		if !pose.IsFinite() {
			return Record{}, fmt.Errorf("beacon %d visible with non-finite pose %+v", int(id), pose)
		}
		pose.Theta = localiser.WrapToPi(pose.Theta)
		rec.BeaconID = int(id)
		rec.BeaconPose = pose
	}
	return rec, nil
}

// parseField parses a float, treating an empty field as NaN.
func parseField(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// WriteLog writes records in the run log format.
func WriteLog(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LogColumns); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.TimeNs, 10), f(r.Command.Speed), f(r.Command.Rotation),
			f(r.MapPose.X), f(r.MapPose.Y), f(r.MapPose.Theta),
			f(r.OdomPose.X), f(r.OdomPose.Y), f(r.OdomPose.Theta),
			"", "", "", "",
		}
		if r.Visible() {
			row[9] = strconv.Itoa(r.BeaconID)
			row[10], row[11], row[12] = f(r.BeaconPose.X), f(r.BeaconPose.Y), f(r.BeaconPose.Theta)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadBeaconMap reads a beacon map CSV file.
func LoadBeaconMap(path string) ([]localiser.Beacon, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open beacon map: %w", err)
	}
	defer f.Close()
	beacons, err := ReadBeaconMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return beacons, nil
}

// ReadBeaconMap parses a beacon map: a header row, then id, x, y, theta and
// any number of ignored columns.
func ReadBeaconMap(r io.Reader) ([]localiser.Beacon, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("insufficient data in beacon map")
	}
	if len(rows[0]) < len(BeaconMapColumns) {
		return nil, fmt.Errorf("invalid header in beacon map, expected: %s,...", strings.Join(BeaconMapColumns, ","))
	}

	beacons := make([]localiser.Beacon, 0, len(rows)-1)
	seen := make(map[int]bool, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) < len(BeaconMapColumns) {
			return nil, fmt.Errorf("invalid record at line %d: expected at least %d fields", line, len(BeaconMapColumns))
		}
		idf, err := parseField(row[0])
		if err != nil || math.IsNaN(idf) || idf != math.Trunc(idf) || idf < 0 {
			return nil, fmt.Errorf("invalid beacon id at line %d: %q", line, row[0])
		}
		id := int(idf)
		var vals [3]float64
		for j := range vals {
			v, err := parseField(row[j+1])
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("invalid %s at line %d: %q", BeaconMapColumns[j+1], line, row[j+1])
			}
			vals[j] = v
		}
		if seen[id] {
			return nil, fmt.Errorf("line %d: %w: %d", line, localiser.ErrDuplicateBeacon, id)
		}
		seen[id] = true
		beacons = append(beacons, localiser.Beacon{
			ID:   id,
			Pose: localiser.Pose{X: vals[0], Y: vals[1], Theta: localiser.WrapToPi(vals[2])},
		})
	}
	return beacons, nil
}

// WriteBeaconMap writes beacons in the beacon map format.
func WriteBeaconMap(w io.Writer, beacons []localiser.Beacon) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(BeaconMapColumns); err != nil {
		return err
	}
	for _, b := range beacons {
		row := []string{
			strconv.Itoa(b.ID),
			strconv.FormatFloat(b.Pose.X, 'g', -1, 64),
			strconv.FormatFloat(b.Pose.Y, 'g', -1, 64),
			strconv.FormatFloat(b.Pose.Theta, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
