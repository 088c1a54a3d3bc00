// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package tasks contains the background jobs of the janitor process.
package tasks

import (
	"math/rand"
	"time"

	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/storage"
	"github.com/sapcc/packgate/internal/syncer"
)

// Janitor contains the toolbox of the janitor process.
type Janitor struct {
	cfg    packgate.Configuration
	sd     storage.Driver
	db     *packgate.DB
	syncer *syncer.Syncer

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow   func() time.Time
	addJitter func(time.Duration) time.Duration
}

// NewJanitor creates a new Janitor.
func NewJanitor(cfg packgate.Configuration, sd storage.Driver, db *packgate.DB, s *syncer.Syncer) *Janitor {
	return &Janitor{cfg, sd, db, s, time.Now, addJitter}
}

// OverrideTimeNow replaces time.Now with a test double.
func (j *Janitor) OverrideTimeNow(timeNow func() time.Time) *Janitor {
	j.timeNow = timeNow
	return j
}

// DisableJitter replaces addJitter with a no-op for this Janitor.
func (j *Janitor) DisableJitter() {
	j.addJitter = func(d time.Duration) time.Duration { return d }
}

// addJitter returns a random duration within +/- 10% of the requested value.
// This spreads scheduled jobs out over time instead of running them in
// lockstep, without corrupting the individual schedules too much.
func addJitter(duration time.Duration) time.Duration {
	//nolint:gosec // This is not crypto-relevant, so math/rand is okay.
	r := rand.Float64() //NOTE: 0 <= r < 1
	return time.Duration(float64(duration) * (0.9 + 0.2*r))
}
