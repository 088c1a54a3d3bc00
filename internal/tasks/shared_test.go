// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/sapcc/go-bits/easypg"

	"github.com/sapcc/packgate/internal/syncer"
	"github.com/sapcc/packgate/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

func setup(t *testing.T) (test.Setup, *Janitor) {
	t.Helper()
	s := test.NewSetup(t)
	sync := syncer.New(s.DB, s.Upstream, s.Cfg).OverrideTimeNow(s.Clock.Now)
	j := NewJanitor(s.Cfg, s.SD, s.DB, sync).OverrideTimeNow(s.Clock.Now)
	j.DisableJitter()
	return s, j
}

// expectNoRows checks that a job run did not find anything to do.
func expectNoRows(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, but got: %v", err)
	}
}

func expectSuccess(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected success, but got: %s", err.Error())
	}
}
