// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/sapcc/packgate/internal/models"
)

// NpmAdapter renders npm packuments, i.e. the documents that the npm CLI
// fetches from `GET /:package`.
type NpmAdapter struct{}

// Format implements the Adapter interface.
func (NpmAdapter) Format() models.PackageFormat {
	return models.FormatNpm
}

// ManifestFileName implements the Adapter interface.
func (NpmAdapter) ManifestFileName() string {
	return "package.json"
}

// NpmVersionForRef returns the npm version string for an upstream ref. Tags
// parse into plain versions (with a leading "v" stripped). Branches become
// prerelease versions of 0.0.0, which sorts them below every released
// version in semver ordering.
func NpmVersionForRef(refName string, isTag bool) string {
	if !isTag {
		return "0.0.0-" + sanitizePrerelease(refName)
	}
	return strings.TrimPrefix(refName, "v")
}

// sanitizePrerelease maps a branch name onto the alphabet that is allowed in
// a semver prerelease identifier.
func sanitizePrerelease(refName string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, refName)
}

// defaultBranchNames are the branch names that get a dist-tag of their own.
var defaultBranchNames = []string{"main", "master", "develop"}

// BuildDocuments implements the Adapter interface.
func (a NpmAdapter) BuildDocuments(repo models.Repository, sources []VersionSource, publicURL url.URL, now time.Time) (map[string]string, error) {
	type packumentData struct {
		versions map[string]map[string]any
		distTags map[string]string
		times    map[string]string
		latest   *semver.Version
	}
	byPackage := make(map[string]*packumentData)

	for _, source := range sources {
		var packageJSON map[string]any
		err := json.Unmarshal(source.ManifestJSON, &packageJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid package.json at ref %q: %w", source.Ref.Name, err)
		}

		packageName := repo.PackageName()
		if name, ok := packageJSON["name"].(string); ok && name != "" {
			packageName = name
		}

		version := NpmVersionForRef(source.Ref.Name, source.Ref.IsTag)
		packageJSON["name"] = packageName
		packageJSON["version"] = version
		packageJSON["gitHead"] = source.Ref.CommitSHA
		packageJSON["dist"] = map[string]any{
			// the shasum is computed lazily when the tarball is first downloaded
			"shasum": "",
			"tarball": publicURLWithPath(publicURL,
				"-", repo.Owner(), repo.Name(), url.PathEscape(source.Ref.Name)+".tgz"),
		}
		if _, exists := packageJSON["repository"]; !exists {
			packageJSON["repository"] = map[string]any{"type": "git", "url": repo.URL}
		}

		data := byPackage[packageName]
		if data == nil {
			data = &packumentData{
				versions: make(map[string]map[string]any),
				distTags: make(map[string]string),
				times:    make(map[string]string),
			}
			byPackage[packageName] = data
		}
		data.versions[version] = packageJSON
		data.times[version] = now.Format(time.RFC3339)

		// "latest" is the highest version overall, but branch versions always
		// sort below released versions because of their 0.0.0 prefix
		parsed, err := semver.NewVersion(version)
		if err == nil && (data.latest == nil || parsed.GreaterThan(data.latest)) {
			data.latest = parsed
			data.distTags["latest"] = version
		}

		if !source.Ref.IsTag && slices.Contains(defaultBranchNames, source.Ref.Name) {
			data.distTags[source.Ref.Name] = version
		}
	}

	result := make(map[string]string, len(byPackage))
	for packageName, data := range byPackage {
		data.times["modified"] = now.Format(time.RFC3339)
		buf, err := json.Marshal(map[string]any{
			"name":      packageName,
			"dist-tags": data.distTags,
			"versions":  data.versions,
			"time":      data.times,
		})
		if err != nil {
			return nil, err
		}
		result[packageName] = string(buf)
	}
	return result, nil
}
