// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/easypg"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/test"
	"github.com/sapcc/packgate/internal/upstream"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

func setup(t *testing.T) (test.Setup, *Syncer) {
	t.Helper()
	s := test.NewSetup(t)
	return s, New(s.DB, s.Upstream, s.Cfg).OverrideTimeNow(s.Clock.Now)
}

func insertComposerRepo(t *testing.T, s test.Setup, refFilter string) models.Repository {
	t.Helper()
	repo := models.Repository{
		FullName:   "acme/widgets",
		URL:        "https://git.example.org/acme/widgets.git",
		Format:     models.FormatComposer,
		Visibility: models.RepositoryPublic,
		RefFilter:  refFilter,
		Enabled:    true,
	}
	s.MustInsert(t, &repo)
	return repo
}

// documentVersions returns the sorted version strings in the stored document
// for the given package.
func documentVersions(t *testing.T, s test.Setup, packageName string) []string {
	t.Helper()
	docStr, err := s.DB.SelectStr(
		"SELECT document FROM package_documents WHERE format = 'composer' AND name = $1",
		packageName)
	if err != nil {
		t.Fatal(err.Error())
	}
	if docStr == "" {
		return nil
	}
	var doc struct {
		Packages map[string]map[string]json.RawMessage `json:"packages"`
	}
	err = json.Unmarshal([]byte(docStr), &doc)
	if err != nil {
		t.Fatal(err.Error())
	}
	var versions []string
	for version := range doc.Packages[packageName] {
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return versions
}

func TestSyncRepository(t *testing.T) {
	s, sync := setup(t)
	repo := insertComposerRepo(t, s, "")

	s.Upstream.AddRepo("acme/widgets",
		upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"},
		upstream.Ref{Name: "main", IsTag: false, CommitSHA: "bbbb"},
		upstream.Ref{Name: "gh-pages", IsTag: false, CommitSHA: "cccc"},
	)
	s.Upstream.SetFile("acme/widgets", "v1.0.0", "composer.json", []byte(`{"name": "acme/widgets"}`))
	s.Upstream.SetFile("acme/widgets", "main", "composer.json", []byte(`{"name": "acme/widgets"}`))
	// the gh-pages branch has no composer.json and is skipped

	err := sync.SyncRepository(context.Background(), repo)
	if err != nil {
		t.Fatal(err.Error())
	}

	versions := documentVersions(t, s, "acme/widgets")
	assert.DeepEqual(t, "versions", versions, []string{"dev-main", "v1.0.0"})

	// the sync result is recorded on the repository
	lastSyncAt, err := s.DB.SelectInt("SELECT EXTRACT(EPOCH FROM last_sync_at)::bigint FROM repos WHERE id = $1", repo.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "last_sync_at", lastSyncAt, int64(0))
	nextSyncAt, err := s.DB.SelectInt("SELECT EXTRACT(EPOCH FROM next_sync_at)::bigint FROM repos WHERE id = $1", repo.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "next_sync_at", nextSyncAt, int64(3600))
	lastError, err := s.DB.SelectStr("SELECT last_error FROM repos WHERE id = $1", repo.ID)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "last_error", lastError, "")
}

func TestSyncRepositoryRefFilter(t *testing.T) {
	s, sync := setup(t)
	repo := insertComposerRepo(t, s, `^v[0-9]`)

	s.Upstream.AddRepo("acme/widgets",
		upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"},
		upstream.Ref{Name: "main", IsTag: false, CommitSHA: "bbbb"},
	)
	s.Upstream.SetFile("acme/widgets", "v1.0.0", "composer.json", []byte(`{"name": "acme/widgets"}`))
	s.Upstream.SetFile("acme/widgets", "main", "composer.json", []byte(`{"name": "acme/widgets"}`))

	err := sync.SyncRepository(context.Background(), repo)
	if err != nil {
		t.Fatal(err.Error())
	}

	versions := documentVersions(t, s, "acme/widgets")
	assert.DeepEqual(t, "versions", versions, []string{"v1.0.0"})
}

func TestSyncRepositoryRecordsFailure(t *testing.T) {
	s, sync := setup(t)
	// the repository does not exist upstream yet
	repo := insertComposerRepo(t, s, "")

	err := sync.SyncRepository(context.Background(), repo)
	if err == nil {
		t.Fatal("expected sync of missing upstream repository to fail")
	}

	lastError, dbErr := s.DB.SelectStr("SELECT last_error FROM repos WHERE id = $1", repo.ID)
	if dbErr != nil {
		t.Fatal(dbErr.Error())
	}
	if lastError == "" {
		t.Error("expected last_error to be recorded")
	}

	// a later successful sync clears the error
	s.Clock.StepBy(time.Hour)
	s.Upstream.AddRepo("acme/widgets",
		upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"})
	s.Upstream.SetFile("acme/widgets", "v1.0.0", "composer.json", []byte(`{"name": "acme/widgets"}`))

	err = sync.SyncRepository(context.Background(), repo)
	if err != nil {
		t.Fatal(err.Error())
	}
	lastError, dbErr = s.DB.SelectStr("SELECT last_error FROM repos WHERE id = $1", repo.ID)
	if dbErr != nil {
		t.Fatal(dbErr.Error())
	}
	assert.DeepEqual(t, "last_error", lastError, "")
}

func TestSyncRepositoryBrokenManifest(t *testing.T) {
	s, sync := setup(t)
	repo := insertComposerRepo(t, s, "")

	s.Upstream.AddRepo("acme/widgets",
		upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"})
	s.Upstream.SetFile("acme/widgets", "v1.0.0", "composer.json", []byte(`{{{`))

	err := sync.SyncRepository(context.Background(), repo)
	if err == nil {
		t.Fatal("expected sync with broken manifest to fail")
	}

	count, dbErr := s.DB.SelectInt("SELECT COUNT(*) FROM package_documents")
	if dbErr != nil {
		t.Fatal(dbErr.Error())
	}
	assert.DeepEqual(t, "document count", count, int64(0))
}

func TestSyncRepositoryReplacesStaleDocuments(t *testing.T) {
	s, sync := setup(t)
	repo := insertComposerRepo(t, s, "")

	s.Upstream.AddRepo("acme/widgets",
		upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"})
	s.Upstream.SetFile("acme/widgets", "v1.0.0", "composer.json", []byte(`{"name": "acme/widgets"}`))

	err := sync.SyncRepository(context.Background(), repo)
	if err != nil {
		t.Fatal(err.Error())
	}

	// the package was renamed upstream, so the old document must disappear on
	// the next sync
	s.Upstream.SetFile("acme/widgets", "v1.0.0", "composer.json", []byte(`{"name": "acme/renamed"}`))
	err = sync.SyncRepository(context.Background(), repo)
	if err != nil {
		t.Fatal(err.Error())
	}

	count, dbErr := s.DB.SelectInt("SELECT COUNT(*) FROM package_documents")
	if dbErr != nil {
		t.Fatal(dbErr.Error())
	}
	assert.DeepEqual(t, "document count", count, int64(1))
	name, dbErr := s.DB.SelectStr("SELECT name FROM package_documents")
	if dbErr != nil {
		t.Fatal(dbErr.Error())
	}
	assert.DeepEqual(t, "document name", name, "acme/renamed")
}

func TestBuildDocumentsPreview(t *testing.T) {
	s, sync := setup(t)
	// the repository does not need to be in the database for a preview
	repo := models.Repository{
		FullName:   "acme/widgets",
		URL:        "https://git.example.org/acme/widgets.git",
		Format:     models.FormatComposer,
		Visibility: models.RepositoryPublic,
		Enabled:    true,
	}

	s.Upstream.AddRepo("acme/widgets",
		upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"})
	s.Upstream.SetFile("acme/widgets", "v1.0.0", "composer.json", []byte(`{"name": "acme/widgets"}`))

	documents, err := sync.BuildDocumentsPreview(context.Background(), repo)
	if err != nil {
		t.Fatal(err.Error())
	}
	if _, exists := documents["acme/widgets"]; !exists {
		t.Error("expected a preview document for acme/widgets")
	}

	// a preview does not write anything
	count, dbErr := s.DB.SelectInt("SELECT COUNT(*) FROM package_documents")
	if dbErr != nil {
		t.Fatal(dbErr.Error())
	}
	assert.DeepEqual(t, "document count", count, int64(0))
}
