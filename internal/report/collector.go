// Package report renders replay results: error statistics against ground
// truth, a PNG path plot, an HTML report and a per-step CSV.
package report

import (
	"context"
	"sync"

	"github.com/banshee-data/localiser/internal/localiser"
	"github.com/banshee-data/localiser/internal/replay"
)

// Entry is the per-step trace kept for reporting. Particle clouds are not
// retained except for the last step.
type Entry struct {
	Index     int                   `json:"index"`
	Step      int                   `json:"step"`
	Time      float64               `json:"time"`
	Truth     localiser.Pose        `json:"truth"`
	Odometry  localiser.Pose        `json:"odometry"`
	Estimate  localiser.Pose        `json:"estimate"`
	State     localiser.FilterState `json:"state"`
	BeaconID  int                   `json:"beacon_id"`
	Particles int                   `json:"particles"`
	ESS       float64               `json:"ess"`
	Resampled bool                  `json:"resampled"`
	Recovered bool                  `json:"recovered"`
}

// Visible reports whether a beacon was fused at this step.
func (e Entry) Visible() bool {
	return e.BeaconID != localiser.NoBeacon
}

// Collector is a replay sink that accumulates entries for reporting.
type Collector struct {
	mu        sync.Mutex
	entries   []Entry
	particles localiser.ParticleSet
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// HandleStep implements replay.Sink.
func (c *Collector) HandleStep(_ context.Context, step replay.Step) error {
	res := step.Result
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{
		Index:     step.Index,
		Step:      res.Step,
		Time:      res.Time,
		Truth:     step.Record.MapPose,
		Odometry:  step.Record.OdomPose,
		Estimate:  res.Estimate,
		State:     res.State,
		BeaconID:  res.BeaconID,
		Particles: res.Particles.Len(),
		ESS:       res.ESS,
		Resampled: res.Resampled,
		Recovered: res.Recovered,
	})
	// Results from the filter are already private copies.
	c.particles = res.Particles
	return nil
}

// Entries returns a copy of the collected entries.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// FinalParticles returns the particle cloud of the last step.
func (c *Collector) FinalParticles() localiser.ParticleSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.particles.Clone()
}
