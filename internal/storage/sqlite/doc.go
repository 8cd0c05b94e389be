// Package sqlite persists localisation runs and their per-step pose
// estimates in a SQLite database.
//
// The schema is embedded and applied with golang-migrate on Open, so a fresh
// file is usable immediately and older files are brought up to date.
//
// Store types:
//   - RunStore: one row per replay with its configuration and outcome.
//   - EstimateStore: one row per filter step, keyed by run and step index.
//
// Recorder adapts both stores to a replay sink so a run can be recorded while
// it is being replayed.
package sqlite
