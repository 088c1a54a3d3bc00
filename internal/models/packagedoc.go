// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// PackageDocument contains a record from the `package_documents` table.
//
// Document holds the rendered package metadata document for one package in
// one format's namespace, as served verbatim to package clients. It is
// regenerated as a whole on each sync, so readers never observe a partially
// updated document.
type PackageDocument struct {
	Format       PackageFormat `db:"format"`
	Name         string        `db:"name"`
	RepositoryID int64         `db:"repo_id"`
	Document     string        `db:"document"`
	UpdatedAt    time.Time     `db:"updated_at"`
}
