// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packages

import (
	"crypto/sha1" //nolint:gosec // npm's dist.shasum field is defined as SHA-1
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/upstream"
)

func (s testSetup) npmFixture(t *testing.T) *models.Repository {
	t.Helper()
	repo := &models.Repository{
		FullName:   "Acme/Widgets",
		URL:        "https://git.example.org/Acme/Widgets.git",
		Format:     models.FormatNpm,
		Visibility: models.RepositoryPublic,
		Enabled:    true,
	}
	s.Upstream.AddRepo("Acme/Widgets",
		upstream.Ref{Name: "v1.0.0", IsTag: true, CommitSHA: "1111"},
		upstream.Ref{Name: "v2.0.0", IsTag: true, CommitSHA: "2222"},
		upstream.Ref{Name: "main", IsTag: false, CommitSHA: "3333"},
	)
	s.Upstream.SetFile("Acme/Widgets", "v1.0.0", "package.json",
		[]byte(`{"name": "@acme/widgets", "description": "makes widgets"}`))
	s.Upstream.SetFile("Acme/Widgets", "v2.0.0", "package.json",
		[]byte(`{"name": "@acme/widgets"}`))
	s.Upstream.SetFile("Acme/Widgets", "main", "package.json",
		[]byte(`{"name": "@acme/widgets"}`))
	s.mustSync(t, repo)
	return repo
}

// npmVersion builds the expected packument entry for one synced version.
func npmVersion(version, refName, gitHead string, extra assert.JSONObject) assert.JSONObject {
	result := assert.JSONObject{
		"name":    "@acme/widgets",
		"version": version,
		"gitHead": gitHead,
		"dist": assert.JSONObject{
			"shasum":  "",
			"tarball": "https://packgate.example.org/-/Acme/Widgets/" + refName + ".tgz",
		},
		"repository": assert.JSONObject{
			"type": "git",
			"url":  "https://git.example.org/Acme/Widgets.git",
		},
	}
	for key, value := range extra {
		result[key] = value
	}
	return result
}

func widgetsPackument() assert.JSONObject {
	timeStr := "1970-01-01T00:00:00Z"
	return assert.JSONObject{
		"name": "@acme/widgets",
		"dist-tags": assert.JSONObject{
			"latest": "2.0.0",
			"main":   "0.0.0-main",
		},
		"versions": assert.JSONObject{
			"1.0.0":      npmVersion("1.0.0", "v1.0.0", "1111", assert.JSONObject{"description": "makes widgets"}),
			"2.0.0":      npmVersion("2.0.0", "v2.0.0", "2222", nil),
			"0.0.0-main": npmVersion("0.0.0-main", "main", "3333", nil),
		},
		"time": assert.JSONObject{
			"1.0.0":      timeStr,
			"2.0.0":      timeStr,
			"0.0.0-main": timeStr,
			"modified":   timeStr,
		},
	}
}

func TestNpmPackument(t *testing.T) {
	s := setup(t)
	s.npmFixture(t)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/@acme/widgets",
		ExpectStatus: http.StatusOK,
		ExpectHeader: map[string]string{"Content-Type": "application/json"},
		ExpectBody:   widgetsPackument(),
	}.Check(t, s.Handler)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/@acme/nothere",
		ExpectStatus: http.StatusNotFound,
		ExpectBody:   assert.JSONObject{"error": "not found"},
	}.Check(t, s.Handler)
}

func TestNpmUnscopedPackument(t *testing.T) {
	s := setup(t)

	// the fallback package name derived from the repository is always scoped,
	// but a package.json can declare an unscoped name
	repo := &models.Repository{
		FullName:   "solo/tool",
		URL:        "https://git.example.org/solo/tool.git",
		Format:     models.FormatNpm,
		Visibility: models.RepositoryPublic,
		Enabled:    true,
	}
	s.Upstream.AddRepo("solo/tool",
		upstream.Ref{Name: "v1.2.3", IsTag: true, CommitSHA: "abcd"})
	s.Upstream.SetFile("solo/tool", "v1.2.3", "package.json",
		[]byte(`{"name": "supertool"}`))
	s.mustSync(t, repo)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/supertool",
		ExpectStatus: http.StatusOK,
		ExpectBody: assert.JSONObject{
			"name":      "supertool",
			"dist-tags": assert.JSONObject{"latest": "1.2.3"},
			"versions": assert.JSONObject{
				"1.2.3": assert.JSONObject{
					"name":    "supertool",
					"version": "1.2.3",
					"gitHead": "abcd",
					"dist": assert.JSONObject{
						"shasum":  "",
						"tarball": "https://packgate.example.org/-/solo/tool/v1.2.3.tgz",
					},
					"repository": assert.JSONObject{
						"type": "git",
						"url":  "https://git.example.org/solo/tool.git",
					},
				},
			},
			"time": assert.JSONObject{
				"1.2.3":    "1970-01-01T00:00:00Z",
				"modified": "1970-01-01T00:00:00Z",
			},
		},
	}.Check(t, s.Handler)
}

func TestNpmTarballDownload(t *testing.T) {
	s := setup(t)
	s.npmFixture(t)
	tarBytes := []byte("\x1f\x8b pretend that this is a tarball")
	s.Upstream.SetArchive("Acme/Widgets", "v1.0.0", "tar.gz", tarBytes)

	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/-/Acme/Widgets/v1.0.0.tgz",
		ExpectStatus: http.StatusOK,
		ExpectHeader: map[string]string{"Content-Type": "application/gzip"},
		ExpectBody:   assert.ByteData(tarBytes),
	}.Check(t, s.Handler)

	// the download fills in the shasum for exactly this version
	hash := sha1.Sum(tarBytes) //nolint:gosec
	expectShasum := func(version, expected string) {
		t.Helper()
		docStr, err := s.DB.SelectStr(
			"SELECT document FROM package_documents WHERE format = 'npm' AND name = $1",
			"@acme/widgets")
		if err != nil {
			t.Fatal(err.Error())
		}
		var packument struct {
			Versions map[string]struct {
				Dist struct {
					Shasum string `json:"shasum"`
				} `json:"dist"`
			} `json:"versions"`
		}
		err = json.Unmarshal([]byte(docStr), &packument)
		if err != nil {
			t.Fatal(err.Error())
		}
		actual := packument.Versions[version].Dist.Shasum
		if actual != expected {
			t.Errorf("expected shasum %q for version %s, but got %q", expected, version, actual)
		}
	}
	expectShasum("1.0.0", hex.EncodeToString(hash[:]))
	expectShasum("2.0.0", "")

	// a second download does not overwrite the recorded shasum
	s.Upstream.SetArchive("Acme/Widgets", "v1.0.0", "tar.gz", []byte("different bytes"))
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/-/Acme/Widgets/v1.0.0.tgz",
		ExpectStatus: http.StatusOK,
		ExpectBody:   assert.ByteData([]byte("different bytes")),
	}.Check(t, s.Handler)
	expectShasum("1.0.0", hex.EncodeToString(hash[:]))

	// refs that upstream does not know yield 404
	assert.HTTPRequest{
		Method:       "GET",
		Path:         "/-/Acme/Widgets/v9.9.9.tgz",
		ExpectStatus: http.StatusNotFound,
		ExpectBody:   assert.JSONObject{"error": "not found"},
	}.Check(t, s.Handler)
}
