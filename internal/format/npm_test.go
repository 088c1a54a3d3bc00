// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/upstream"
)

func TestNpmVersionForRef(t *testing.T) {
	testCases := []struct {
		refName  string
		isTag    bool
		expected string
	}{
		// tags lose their "v" prefix
		{"v1.2.3", true, "1.2.3"},
		{"1.2.3", true, "1.2.3"},
		{"v2.0.0-beta.1", true, "2.0.0-beta.1"},
		// branches become prerelease versions of 0.0.0
		{"main", false, "0.0.0-main"},
		{"feature/foo", false, "0.0.0-feature-foo"},
		{"weird_branch!", false, "0.0.0-weird-branch-"},
	}
	for _, tc := range testCases {
		actual := NpmVersionForRef(tc.refName, tc.isTag)
		if actual != tc.expected {
			t.Errorf("NpmVersionForRef(%q, %v) = %q, expected %q",
				tc.refName, tc.isTag, actual, tc.expected)
		}
	}
}

func TestNpmBuildDocuments(t *testing.T) {
	repo := models.Repository{
		ID:       1,
		FullName: "Acme/Widgets",
		URL:      "https://git.example.org/Acme/Widgets.git",
		Format:   models.FormatNpm,
	}
	publicURL := mustParseURL(t, "https://packgate.example.org")
	now := time.Unix(86400, 0).UTC()

	sources := []VersionSource{
		{
			Ref:          upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"},
			ManifestJSON: []byte(`{"name": "@acme/widgets", "description": "older"}`),
		},
		{
			Ref:          upstream.Ref{Name: "v2.0.0", IsTag: true, CommitSHA: "bbbb"},
			ManifestJSON: []byte(`{"name": "@acme/widgets", "description": "newer"}`),
		},
		{
			Ref:          upstream.Ref{Name: "main", IsTag: false, CommitSHA: "cccc"},
			ManifestJSON: []byte(`{"name": "@acme/widgets"}`),
		},
		{
			// non-default branches do not get a dist-tag
			Ref:          upstream.Ref{Name: "feature/foo", IsTag: false, CommitSHA: "dddd"},
			ManifestJSON: []byte(`{"name": "@acme/widgets"}`),
		},
	}

	documents, err := NpmAdapter{}.BuildDocuments(repo, sources, publicURL, now)
	if err != nil {
		t.Fatal(err.Error())
	}
	if len(documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(documents))
	}

	doc := mustUnmarshalDocument(t, documents, "@acme/widgets")

	// "latest" points to the highest released version, branch versions sort below it
	assert.DeepEqual(t, "dist-tags", doc["dist-tags"], any(map[string]any{
		"latest": "2.0.0",
		"main":   "0.0.0-main",
	}))

	versions := doc["versions"].(map[string]any)
	if len(versions) != 4 {
		t.Errorf("expected 4 versions, got %d: %v", len(versions), versions)
	}

	v2 := versions["2.0.0"].(map[string]any)
	assert.DeepEqual(t, "gitHead", v2["gitHead"], any("bbbb"))
	assert.DeepEqual(t, "dist", v2["dist"], any(map[string]any{
		"shasum":  "",
		"tarball": "https://packgate.example.org/-/Acme/Widgets/v2.0.0.tgz",
	}))
	// a repository field is synthesized if the package.json has none
	assert.DeepEqual(t, "repository", v2["repository"], any(map[string]any{
		"type": "git",
		"url":  "https://git.example.org/Acme/Widgets.git",
	}))

	times := doc["time"].(map[string]any)
	assert.DeepEqual(t, "time[2.0.0]", times["2.0.0"], any("1970-01-02T00:00:00Z"))
	assert.DeepEqual(t, "time[modified]", times["modified"], any("1970-01-02T00:00:00Z"))
}

func TestNpmBuildDocumentsFallbackName(t *testing.T) {
	repo := models.Repository{
		ID:       1,
		FullName: "Acme/Widgets",
		URL:      "https://git.example.org/Acme/Widgets.git",
		Format:   models.FormatNpm,
	}
	sources := []VersionSource{{
		Ref:          upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "aaaa"},
		ManifestJSON: []byte(`{}`),
	}}

	documents, err := NpmAdapter{}.BuildDocuments(repo, sources, mustParseURL(t, "https://packgate.example.org"), time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatal(err.Error())
	}

	// a package.json without a name falls back to the scoped repo name, lowercased
	doc := mustUnmarshalDocument(t, documents, "@acme/widgets")
	assert.DeepEqual(t, "name", doc["name"], any("@acme/widgets"))
}

func TestNpmBuildDocumentsBranchOnly(t *testing.T) {
	repo := models.Repository{
		ID:       1,
		FullName: "acme/widgets",
		URL:      "https://git.example.org/acme/widgets.git",
		Format:   models.FormatNpm,
	}
	sources := []VersionSource{{
		Ref:          upstream.Ref{Name: "main", IsTag: false, CommitSHA: "aaaa"},
		ManifestJSON: []byte(`{}`),
	}}

	documents, err := NpmAdapter{}.BuildDocuments(repo, sources, mustParseURL(t, "https://packgate.example.org"), time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatal(err.Error())
	}

	// with no released versions, the branch version is the best "latest" there is
	doc := mustUnmarshalDocument(t, documents, "@acme/widgets")
	assert.DeepEqual(t, "dist-tags", doc["dist-tags"], any(map[string]any{
		"latest": "0.0.0-main",
		"main":   "0.0.0-main",
	}))
}
