// Command localise replays a recorded run through the beacon particle filter
// and writes plots, an HTML report and per-step estimates.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/localiser/internal/config"
	"github.com/banshee-data/localiser/internal/localiser"
	"github.com/banshee-data/localiser/internal/monitor"
	"github.com/banshee-data/localiser/internal/monitoring"
	"github.com/banshee-data/localiser/internal/replay"
	"github.com/banshee-data/localiser/internal/report"
	"github.com/banshee-data/localiser/internal/storage/sqlite"
	"github.com/banshee-data/localiser/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to tuning JSON (default: built-in defaults)")
	dataPath    = flag.String("data", "data.csv", "Path to the run log CSV")
	mapPath     = flag.String("map", "beacon_map.csv", "Path to the beacon map CSV")
	outDir      = flag.String("out", "plots", "Base directory for report output")
	dbPath      = flag.String("db", "", "Record the run to this SQLite database (optional)")
	monitorAddr = flag.String("monitor", "", "Serve the debug monitor on this address, e.g. :8090 (optional)")
	hold        = flag.Bool("hold", false, "With -monitor, keep serving after the run until interrupted")
	skipRange   = flag.String("skip", "", "Drop records START:END to simulate a kidnapped robot")
	cadence     = flag.Duration("cadence", -1, "Pace steps at this interval (default: config step_cadence)")
	maxJump     = flag.Float64("max-jump", 1.0, "Hold ground truth through single-sample jumps larger than this (m); 0 disables")
	margin      = flag.Float64("margin", 1.0, "Margin around ground truth when deriving the operating area (m)")
	verbose     = flag.Bool("verbose", false, "Log per-step filter diagnostics")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("localise: %v", err)
	}
}

func run(ctx context.Context) error {
	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}
	skip, err := parseRange(*skipRange)
	if err != nil {
		return err
	}

	records, err := replay.LoadLog(*dataPath)
	if err != nil {
		return err
	}
	beacons, err := replay.LoadBeaconMap(*mapPath)
	if err != nil {
		return err
	}
	beaconMap, err := localiser.NewBeaconMap(beacons)
	if err != nil {
		return fmt.Errorf("%s: %w", *mapPath, err)
	}
	log.Printf("Loaded %d records and %d beacons", len(records), beaconMap.Len())

	records = replay.AlignOdometry(records)
	if *maxJump > 0 {
		var replaced int
		records, replaced = replay.CleanGroundTruth(records, *maxJump)
		if replaced > 0 {
			log.Printf("Held ground truth through %d pose jumps", replaced)
		}
	}

	cfg := localiser.ConfigFromTuning(tuning)
	if _, ok := tuning.GetOperatingAreaBounds(); !ok {
		cfg.Bounds = replay.GroundTruthBounds(records, *margin)
		log.Printf("Operating area derived from ground truth: %+v", cfg.Bounds)
	}
	filter, err := localiser.New(cfg, beaconMap)
	if err != nil {
		return err
	}

	collector := report.NewCollector()
	opts := replay.Options{
		Cadence:   tuning.GetStepCadence(),
		SkipRange: skip,
		Sinks:     []replay.Sink{collector},
	}
	if *cadence >= 0 {
		opts.Cadence = *cadence
	}

	var recorder *sqlite.Recorder
	if *dbPath != "" {
		db, err := sqlite.Open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		cfgJSON, err := json.Marshal(tuning)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		recorder, err = sqlite.NewRecorder(db, &sqlite.Run{
			DataPath:   *dataPath,
			MapPath:    *mapPath,
			ConfigJSON: string(cfgJSON),
		}, 0)
		if err != nil {
			return err
		}
		opts.Sinks = append(opts.Sinks, recorder)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()
	if *monitorAddr != "" {
		srv := monitor.NewServer(monitor.Config{Address: *monitorAddr, Source: filter, Beacons: beacons})
		g.Go(func() error { return srv.Start(serveCtx) })
	}

	g.Go(func() error {
		summary, runErr := replay.NewRunner(filter, opts).Run(gctx, records)
		if recorder != nil {
			// The run context may already be cancelled.
			if err := recorder.Finish(context.Background(), summary, runErr); err != nil {
				log.Printf("failed to record run outcome: %v", err)
			} else {
				log.Printf("Recorded run %s to %s", recorder.RunID(), *dbPath)
			}
		}
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}

		dir := report.MakeOutputDir(*outDir, *dataPath, time.Now())
		stats, err := report.Write(dir, report.Input{
			Title:     fmt.Sprintf("%s (%d particles, seed %d)", *dataPath, cfg.NumParticlesMax, cfg.Seed),
			Entries:   collector.Entries(),
			Beacons:   beacons,
			Particles: collector.FinalParticles(),
		})
		if err != nil {
			return err
		}
		log.Printf("Steps %d, resamples %d, recoveries %d, position RMSE %.3f m, mean |heading| %.3f rad",
			summary.Steps, summary.Resamples, summary.Recoveries, stats.PositionRMSE, stats.MeanAbsHeading)
		log.Printf("✓ Report written to %s", dir)

		if *monitorAddr != "" && *hold && runErr == nil {
			log.Printf("Monitor still serving on %s; interrupt to exit", *monitorAddr)
			<-gctx.Done()
		}
		stopServe()
		return runErr
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Printf("Interrupted")
		return nil
	}
	return err
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded tuning config from %s", path)
	return cfg, nil
}

// parseRange parses "START:END" into a half-open record range.
func parseRange(s string) (*replay.Range, error) {
	if s == "" {
		return nil, nil
	}
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid skip range %q, want START:END", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return nil, fmt.Errorf("invalid skip start %q: %w", lo, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return nil, fmt.Errorf("invalid skip end %q: %w", hi, err)
	}
	if start < 1 || end <= start {
		return nil, fmt.Errorf("invalid skip range %d:%d, want 1 <= START < END", start, end)
	}
	return &replay.Range{Start: start, End: end}, nil
}
