// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Manifest contains a record from the `manifests` table. The manifest
// contents themselves are stored by the storage driver, keyed on repository
// name and digest.
type Manifest struct {
	RepositoryID int64         `db:"repo_id"`
	Digest       digest.Digest `db:"digest"`
	MediaType    string        `db:"media_type"`
	SizeBytes    uint64        `db:"size_bytes"`
	PushedAt     time.Time     `db:"pushed_at"`
	LastPulledAt *time.Time    `db:"last_pulled_at"`
}

// Tag contains a record from the `tags` table. A tag is a named pointer to a
// manifest within one repository. Pushing a tag that already exists moves
// the pointer.
type Tag struct {
	RepositoryID int64         `db:"repo_id"`
	Name         string        `db:"name"`
	Digest       digest.Digest `db:"digest"`
	PushedAt     time.Time     `db:"pushed_at"`
	LastPulledAt *time.Time    `db:"last_pulled_at"`
}
