// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sapcc/packgate/internal/models"
)

// ComposerAdapter renders Composer repository metadata. The document for one
// package has the shape that Composer expects from a provider URL:
//
//	{"packages": {"vendor/name": {"1.2.3": {...}, "dev-main": {...}}}}
//
// Documents for different packages can therefore be merged into a single
// packages.json by merging their "packages" objects.
type ComposerAdapter struct{}

// Format implements the Adapter interface.
func (ComposerAdapter) Format() models.PackageFormat {
	return models.FormatComposer
}

// ManifestFileName implements the Adapter interface.
func (ComposerAdapter) ManifestFileName() string {
	return "composer.json"
}

// ComposerVersionForRef returns the Composer version string for an upstream
// ref. Tag names are used verbatim (Composer normalizes "v" prefixes itself),
// branches become "dev-" versions as defined by Composer.
func ComposerVersionForRef(refName string, isTag bool) string {
	if !isTag {
		return "dev-" + refName
	}
	return refName
}

// BuildDocuments implements the Adapter interface.
func (a ComposerAdapter) BuildDocuments(repo models.Repository, sources []VersionSource, publicURL url.URL, now time.Time) (map[string]string, error) {
	versionsByPackage := make(map[string]map[string]map[string]any)

	for _, source := range sources {
		var composerJSON map[string]any
		err := json.Unmarshal(source.ManifestJSON, &composerJSON)
		if err != nil {
			return nil, fmt.Errorf("invalid composer.json at ref %q: %w", source.Ref.Name, err)
		}

		packageName := repo.PackageName()
		if name, ok := composerJSON["name"].(string); ok && name != "" {
			packageName = strings.ToLower(name)
		}

		version := ComposerVersionForRef(source.Ref.Name, source.Ref.IsTag)
		composerJSON["name"] = packageName
		composerJSON["version"] = version
		composerJSON["dist"] = map[string]any{
			"type": "zip",
			"url": publicURLWithPath(publicURL,
				"dist", repo.Owner(), repo.Name(), url.PathEscape(source.Ref.Name)+".zip"),
			"reference": source.Ref.CommitSHA,
		}
		composerJSON["source"] = map[string]any{
			"type":      "git",
			"url":       repo.URL,
			"reference": source.Ref.CommitSHA,
		}
		composerJSON["time"] = now.Format(time.RFC3339)

		if versionsByPackage[packageName] == nil {
			versionsByPackage[packageName] = make(map[string]map[string]any)
		}
		versionsByPackage[packageName][version] = composerJSON
	}

	result := make(map[string]string, len(versionsByPackage))
	for packageName, versions := range versionsByPackage {
		buf, err := json.Marshal(map[string]any{
			"packages": map[string]any{packageName: versions},
		})
		if err != nil {
			return nil, err
		}
		result[packageName] = string(buf)
	}
	return result, nil
}
