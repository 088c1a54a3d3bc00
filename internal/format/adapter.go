// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package format renders package metadata documents for the supported
// package ecosystems. Each Adapter turns the refs of one upstream Git
// repository into the documents that package clients consume.
package format

import (
	"fmt"
	"net/url"
	"time"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/upstream"
)

// VersionSource is one upstream ref together with the contents of the
// format's manifest file at that ref.
type VersionSource struct {
	Ref          upstream.Ref
	ManifestJSON []byte
}

// Adapter renders package metadata documents for one package format.
type Adapter interface {
	// Format returns the package format that this adapter handles.
	Format() models.PackageFormat
	// ManifestFileName returns the name of the manifest file that must exist
	// at a ref for that ref to become a package version, e.g. "package.json".
	ManifestFileName() string
	// BuildDocuments renders the metadata documents for the given repository,
	// keyed on package name. Refs whose manifest declares no usable name fall
	// back to the repository's canonical package name. When multiple refs
	// declare the same version, the last ref in `sources` wins. The `now`
	// timestamp appears in documents that carry per-version timestamps.
	BuildDocuments(repo models.Repository, sources []VersionSource, publicURL url.URL, now time.Time) (map[string]string, error)
}

// AdapterFor returns the Adapter for the given package format.
func AdapterFor(format models.PackageFormat) (Adapter, error) {
	switch format {
	case models.FormatComposer:
		return ComposerAdapter{}, nil
	case models.FormatNpm:
		return NpmAdapter{}, nil
	default:
		return nil, fmt.Errorf("no adapter for package format %q", format)
	}
}

func publicURLWithPath(publicURL url.URL, pathElements ...string) string {
	u := publicURL
	for _, element := range pathElements {
		u.Path = u.Path + "/" + element
	}
	return u.String()
}
