// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

// DockerRepository contains a record from the `docker_repos` table. Unlike
// mirrored package repositories, Docker repositories are created implicitly
// by the first push into them.
type DockerRepository struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}
