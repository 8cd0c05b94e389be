// Command gen-scenario writes a synthetic run log and beacon map for
// exercising the localiser without recorded data.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/localiser/internal/replay"
)

func main() {
	outDir := flag.String("o", ".", "output directory")
	kind := flag.String("kind", replay.ScenarioLine, "scenario shape: line or circle")
	steps := flag.Int("n", 200, "number of steps after the start record")
	dt := flag.Float64("dt", 0.1, "seconds between records")
	speed := flag.Float64("speed", 1.0, "forward speed (m/s)")
	radius := flag.Float64("radius", 5.0, "circle radius (m)")
	sensorRange := flag.Float64("range", 6.0, "beacon detection range (m)")
	fov := flag.Float64("fov", 180, "camera field of view (degrees)")
	rangeStd := flag.Float64("range-std", 0, "observation range noise (m)")
	bearingStd := flag.Float64("bearing-std", 0, "observation bearing noise (rad)")
	orientStd := flag.Float64("orientation-std", 0, "observation orientation noise (rad)")
	seed := flag.Uint64("seed", 7, "noise seed")
	flag.Parse()

	cfg := replay.DefaultScenarioConfig()
	cfg.Kind = *kind
	cfg.Steps = *steps
	cfg.DT = *dt
	cfg.Speed = *speed
	cfg.Radius = *radius
	cfg.SensorRange = *sensorRange
	cfg.FieldOfView = *fov * math.Pi / 180
	cfg.RangeStd = *rangeStd
	cfg.BearingStd = *bearingStd
	cfg.OrientationStd = *orientStd
	cfg.Seed = *seed

	dataPath, mapPath, err := generate(*outDir, cfg)
	if err != nil {
		log.Fatalf("gen-scenario: %v", err)
	}
	log.Printf("✓ Created: %s", dataPath)
	log.Printf("✓ Created: %s", mapPath)
}

// generate writes data.csv and beacon_map.csv into dir.
func generate(dir string, cfg replay.ScenarioConfig) (string, string, error) {
	records, beacons, err := replay.GenerateScenario(cfg)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create output dir: %w", err)
	}

	dataPath := filepath.Join(dir, "data.csv")
	mapPath := filepath.Join(dir, "beacon_map.csv")

	data, err := os.Create(dataPath)
	if err != nil {
		return "", "", err
	}
	if err := replay.WriteLog(data, records); err != nil {
		data.Close()
		return "", "", fmt.Errorf("write %s: %w", dataPath, err)
	}
	if err := data.Close(); err != nil {
		return "", "", err
	}

	m, err := os.Create(mapPath)
	if err != nil {
		return "", "", err
	}
	if err := replay.WriteBeaconMap(m, beacons); err != nil {
		m.Close()
		return "", "", fmt.Errorf("write %s: %w", mapPath, err)
	}
	return dataPath, mapPath, m.Close()
}
