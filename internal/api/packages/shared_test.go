// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packages

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"

	"github.com/sapcc/packgate/internal/auth"
	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/syncer"
	"github.com/sapcc/packgate/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

type testSetup struct {
	test.Setup
	Handler http.Handler
	Syncer  *syncer.Syncer
}

func setup(t *testing.T) testSetup {
	t.Helper()
	s := test.NewSetup(t)

	authorizer := auth.NewAuthorizer(s.DB).OverrideTimeNow(s.Clock.Now)
	sync := syncer.New(s.DB, s.Upstream, s.Cfg).OverrideTimeNow(s.Clock.Now)
	handler := httpapi.Compose(
		NewAPI(s.Cfg, s.DB, authorizer, sync, s.Upstream).OverrideTimeNow(s.Clock.Now),
		httpapi.WithoutLogging(),
	)

	return testSetup{Setup: s, Handler: handler, Syncer: sync}
}

// mustSync inserts the given repository and runs a full sync on it.
func (s testSetup) mustSync(t *testing.T, repo *models.Repository) {
	t.Helper()
	if repo.ID == 0 {
		s.MustInsert(t, repo)
	}
	err := s.Syncer.SyncRepository(context.Background(), *repo)
	if err != nil {
		t.Fatalf("cannot sync %s: %s", repo.FullName, err.Error())
	}
}

func basicAuth(userName, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(userName + ":" + password))
}

// addToken inserts a token that has access to the given repositories (or to
// everything, if no repositories are given).
func (s testSetup) addToken(t *testing.T, tokenStr string, repoIDs ...int64) {
	t.Helper()
	token := models.Token{Token: tokenStr, Name: "unittest", Enabled: true}
	s.MustInsert(t, &token)
	for _, repoID := range repoIDs {
		s.MustExec(t, "INSERT INTO token_repos (token_id, repo_id) VALUES ($1, $2)", token.ID, repoID)
	}
}
