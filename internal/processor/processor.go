// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package processor contains the business logic that is shared between the
// API handlers and the janitor tasks.
package processor

import (
	"time"

	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/storage"
)

// Processor implements the blob and manifest write paths of the registry.
type Processor struct {
	db *packgate.DB
	sd storage.Driver

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow           func() time.Time
	generateStorageID func() string
}

// New initializes a Processor.
func New(db *packgate.DB, sd storage.Driver) *Processor {
	return &Processor{db, sd, time.Now, packgate.GenerateStorageID}
}

// OverrideTimeNow replaces time.Now with a test double.
func (p *Processor) OverrideTimeNow(timeNow func() time.Time) *Processor {
	p.timeNow = timeNow
	return p
}

// OverrideGenerateStorageID replaces packgate.GenerateStorageID with a test double.
func (p *Processor) OverrideGenerateStorageID(generateStorageID func() string) *Processor {
	p.generateStorageID = generateStorageID
	return p
}
