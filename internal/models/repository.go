// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"strings"
	"time"
)

// PackageFormat identifies the package ecosystem that a mirrored repository
// is published into.
type PackageFormat string

const (
	// FormatComposer publishes the repository as a Composer package.
	FormatComposer PackageFormat = "composer"
	// FormatNpm publishes the repository as an npm package.
	FormatNpm PackageFormat = "npm"
)

// IsValid returns whether this value is one of the known package formats.
func (f PackageFormat) IsValid() bool {
	return f == FormatComposer || f == FormatNpm
}

// RepositoryVisibility appears in type Repository.
type RepositoryVisibility string

const (
	// RepositoryPublic marks a repository whose packages can be fetched
	// without a token.
	RepositoryPublic RepositoryVisibility = "public"
	// RepositoryPrivate marks a repository whose packages require a token
	// with access to it.
	RepositoryPrivate RepositoryVisibility = "private"
)

// Repository contains a record from the `repos` table. Each record describes
// one upstream Git repository that is mirrored as a package.
type Repository struct {
	ID         int64                `db:"id"`
	FullName   string               `db:"full_name"` // "owner/repo" as known to the upstream Git host
	URL        string               `db:"url"`
	Format     PackageFormat        `db:"format"`
	Visibility RepositoryVisibility `db:"visibility"`
	// Credential is the upstream access credential for private upstream
	// repositories, or empty for anonymous access.
	Credential string `db:"credential"`
	// RefFilter optionally restricts which upstream refs become package
	// versions (a regex; empty means all refs).
	RefFilter  string     `db:"ref_filter"`
	Enabled    bool       `db:"enabled"`
	LastSyncAt *time.Time `db:"last_sync_at"`
	NextSyncAt *time.Time `db:"next_sync_at"` // see tasks.RepositorySyncJob
	// LastError carries the message of the most recent failed sync, or empty
	// after a successful sync.
	LastError string `db:"last_error"`
}

// Owner returns the owner part of the FullName.
func (r Repository) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}

// Name returns the repo part of the FullName.
func (r Repository) Name() string {
	_, name, _ := strings.Cut(r.FullName, "/")
	return name
}

// PackageName returns the name under which this repository's packages appear
// in the given format's namespace.
func (r Repository) PackageName() string {
	switch r.Format {
	case FormatNpm:
		return "@" + strings.ToLower(r.Owner()) + "/" + strings.ToLower(r.Name())
	default:
		return strings.ToLower(r.FullName)
	}
}

// Validate returns an error if this record is not acceptable for insertion.
func (r Repository) Validate() error {
	if !UpstreamRepoRx.MatchString(r.FullName) {
		return fmt.Errorf("not an acceptable repository name: %q", r.FullName)
	}
	if !r.Format.IsValid() {
		return fmt.Errorf("not an acceptable package format: %q", r.Format)
	}
	switch r.Visibility {
	case RepositoryPublic, RepositoryPrivate:
		return nil
	default:
		return fmt.Errorf("not an acceptable visibility: %q", r.Visibility)
	}
}
