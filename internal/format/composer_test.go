// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/upstream"
)

func TestComposerVersionForRef(t *testing.T) {
	testCases := []struct {
		refName  string
		isTag    bool
		expected string
	}{
		// tag names are used verbatim, including any "v" prefix
		{"v1.2.3", true, "v1.2.3"},
		{"1.2.3", true, "1.2.3"},
		{"v2.0.0-beta.1", true, "v2.0.0-beta.1"},
		// branches become dev versions
		{"main", false, "dev-main"},
		{"feature/foo", false, "dev-feature/foo"},
	}
	for _, tc := range testCases {
		actual := ComposerVersionForRef(tc.refName, tc.isTag)
		if actual != tc.expected {
			t.Errorf("ComposerVersionForRef(%q, %v) = %q, expected %q",
				tc.refName, tc.isTag, actual, tc.expected)
		}
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

func mustUnmarshalDocument(t *testing.T, documents map[string]string, packageName string) map[string]any {
	t.Helper()
	docStr, exists := documents[packageName]
	if !exists {
		t.Fatalf("no document for package %q (have: %v)", packageName, documents)
	}
	var doc map[string]any
	err := json.Unmarshal([]byte(docStr), &doc)
	if err != nil {
		t.Fatal(err.Error())
	}
	return doc
}

func TestComposerBuildDocuments(t *testing.T) {
	repo := models.Repository{
		ID:       1,
		FullName: "acme/widgets",
		URL:      "https://git.example.org/acme/widgets.git",
		Format:   models.FormatComposer,
	}
	publicURL := mustParseURL(t, "https://packgate.example.org")
	now := time.Unix(86400, 0).UTC()

	sources := []VersionSource{
		{
			Ref:          upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"},
			ManifestJSON: []byte(`{"name": "Acme/Widgets", "require": {"php": ">=8.1"}}`),
		},
		{
			Ref:          upstream.Ref{Name: "main", IsTag: false, CommitSHA: "bbbb"},
			ManifestJSON: []byte(`{"name": "acme/widgets"}`),
		},
		{
			// a composer.json without a name falls back to the repo's package name
			Ref:          upstream.Ref{Name: "v2.0.0", IsTag: true, CommitSHA: "cccc"},
			ManifestJSON: []byte(`{}`),
		},
	}

	documents, err := ComposerAdapter{}.BuildDocuments(repo, sources, publicURL, now)
	if err != nil {
		t.Fatal(err.Error())
	}
	if len(documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(documents))
	}

	doc := mustUnmarshalDocument(t, documents, "acme/widgets")
	versions := doc["packages"].(map[string]any)["acme/widgets"].(map[string]any)
	if len(versions) != 3 {
		t.Errorf("expected 3 versions, got %d: %v", len(versions), versions)
	}

	v1 := versions["v1.0.0"].(map[string]any)
	assert.DeepEqual(t, "dist", v1["dist"], any(map[string]any{
		"type":      "zip",
		"url":       "https://packgate.example.org/dist/acme/widgets/v1.0.0.zip",
		"reference": "aaaa",
	}))
	assert.DeepEqual(t, "source", v1["source"], any(map[string]any{
		"type":      "git",
		"url":       "https://git.example.org/acme/widgets.git",
		"reference": "aaaa",
	}))
	// the manifest's name is lowercased, other fields pass through
	assert.DeepEqual(t, "name", v1["name"], any("acme/widgets"))
	assert.DeepEqual(t, "require", v1["require"], any(map[string]any{"php": ">=8.1"}))
	assert.DeepEqual(t, "time", v1["time"], any("1970-01-02T00:00:00Z"))

	if _, exists := versions["dev-main"]; !exists {
		t.Error("expected a dev-main version for the main branch")
	}
	if _, exists := versions["v2.0.0"]; !exists {
		t.Error("expected a v2.0.0 version despite its empty composer.json")
	}
}

func TestComposerBuildDocumentsLastRefWins(t *testing.T) {
	repo := models.Repository{
		ID:       1,
		FullName: "acme/widgets",
		URL:      "https://git.example.org/acme/widgets.git",
		Format:   models.FormatComposer,
	}
	publicURL := mustParseURL(t, "https://packgate.example.org")
	now := time.Unix(0, 0).UTC()

	// both refs map to the same version string
	sources := []VersionSource{
		{
			Ref:          upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "older"},
			ManifestJSON: []byte(`{"name": "acme/widgets"}`),
		},
		{
			Ref:          upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "newer"},
			ManifestJSON: []byte(`{"name": "acme/widgets"}`),
		},
	}

	documents, err := ComposerAdapter{}.BuildDocuments(repo, sources, publicURL, now)
	if err != nil {
		t.Fatal(err.Error())
	}
	doc := mustUnmarshalDocument(t, documents, "acme/widgets")
	versions := doc["packages"].(map[string]any)["acme/widgets"].(map[string]any)
	dist := versions["v1.0.0"].(map[string]any)["dist"].(map[string]any)
	assert.DeepEqual(t, "dist.reference", dist["reference"], any("newer"))
}

func TestComposerBuildDocumentsRejectsBrokenManifest(t *testing.T) {
	repo := models.Repository{
		ID:       1,
		FullName: "acme/widgets",
		Format:   models.FormatComposer,
	}
	sources := []VersionSource{{
		Ref:          upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"},
		ManifestJSON: []byte(`{not json`),
	}}
	_, err := ComposerAdapter{}.BuildDocuments(repo, sources, mustParseURL(t, "https://packgate.example.org"), time.Unix(0, 0).UTC())
	if err == nil {
		t.Error("expected an error for a broken composer.json")
	}
}
