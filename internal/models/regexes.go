// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"regexp"
)

var (
	// RepoNameRx matches one path component of a repository name.
	RepoNameRx = `[a-z0-9]+(?:[._-][a-z0-9]+)*`
	// RepoPathRx matches a full repository name like "library/alpine".
	RepoPathRx = regexp.MustCompile(`^` + RepoNameRx + `(?:/` + RepoNameRx + `)*$`)
	// RepoPathComponentRx matches a single repository path component.
	RepoPathComponentRx = regexp.MustCompile(`^` + RepoNameRx + `$`)
)

// TagNameRx matches a valid tag name on the Registry v2 API.
var TagNameRx = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)

// UpstreamRepoRx matches an "owner/repo" pair as used by the upstream Git
// host. Owner and repo names are more permissive than registry repo names
// since Git hosts allow mixed case.
var UpstreamRepoRx = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)

// IsRepoPath returns whether the given string is a well-formed repository
// path. This does not check whether the repository actually exists in the DB.
func IsRepoPath(input string) bool {
	if len(input) > 256 {
		return false
	}
	return RepoPathRx.MatchString(input)
}
