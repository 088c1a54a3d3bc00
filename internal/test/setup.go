// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package test contains the shared setup code for unit tests.
package test

import (
	"net/url"
	"testing"
	"time"

	"github.com/sapcc/go-bits/audittools"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"

	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/storage"
)

// Setup contains the basic pieces that are needed for most tests. Handlers
// and background jobs are composed on top of this by the respective test
// packages.
type Setup struct {
	Cfg      packgate.Configuration
	DB       *packgate.DB
	SD       *storage.InMemoryDriver
	Auditor  *audittools.MockAuditor
	Clock    *Clock
	SIDGen   *StorageIDGenerator
	Upstream *UpstreamDouble
}

// NewSetup prepares a configuration, database connection and deterministic
// doubles for a test. Each test runs in its own database, so tests can be
// marked as t.Parallel().
func NewSetup(t *testing.T) Setup {
	t.Helper()
	logg.ShowDebug = osext.GetenvBool("PACKGATE_DEBUG")

	dbConn := easypg.ConnectForTest(t, packgate.DBConfiguration())

	return Setup{
		Cfg: packgate.Configuration{
			APIPublicURL:    mustParseURL(t, "https://packgate.example.org"),
			UpstreamAPIURL:  mustParseURL(t, "https://git.example.org"),
			UpstreamTimeout: 30 * time.Second,
			UploadExpiry:    24 * time.Hour,
			SyncInterval:    1 * time.Hour,
			BlobSweepDelay:  4 * time.Hour,
		},
		DB:       packgate.InitORM(dbConn),
		SD:       storage.NewInMemoryDriver(),
		Auditor:  audittools.NewMockAuditor(),
		Clock:    &Clock{},
		SIDGen:   &StorageIDGenerator{},
		Upstream: NewUpstreamDouble(),
	}
}

func mustParseURL(t *testing.T, in string) url.URL {
	t.Helper()
	u, err := url.Parse(in)
	if err != nil {
		t.Fatal(err.Error())
	}
	return *u
}

// MustInsert inserts the given row into the database, filling in its
// auto-generated ID if there is one.
func (s Setup) MustInsert(t *testing.T, row any) {
	t.Helper()
	err := s.DB.Insert(row)
	if err != nil {
		t.Fatalf("could not insert %T: %s", row, err.Error())
	}
}

// MustUpdate updates the given row in the database.
func (s Setup) MustUpdate(t *testing.T, row any) {
	t.Helper()
	_, err := s.DB.Update(row)
	if err != nil {
		t.Fatalf("could not update %T: %s", row, err.Error())
	}
}

// MustExec executes the given SQL statement against the database.
func (s Setup) MustExec(t *testing.T, query string, args ...any) {
	t.Helper()
	_, err := s.DB.Exec(query, args...)
	if err != nil {
		t.Fatalf("could not execute %q: %s", query, err.Error())
	}
}
