// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packgate

import (
	"database/sql"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/easypg"

	"github.com/sapcc/packgate/internal/models"
)

var sqlMigrations = map[string]string{
	"001_initial.up.sql": `
		CREATE TABLE repos (
			id           BIGSERIAL   NOT NULL PRIMARY KEY,
			full_name    TEXT        NOT NULL UNIQUE,
			url          TEXT        NOT NULL,
			format       TEXT        NOT NULL,
			visibility   TEXT        NOT NULL DEFAULT 'public',
			credential   TEXT        NOT NULL DEFAULT '',
			ref_filter   TEXT        NOT NULL DEFAULT '',
			enabled      BOOLEAN     NOT NULL DEFAULT TRUE,
			last_sync_at TIMESTAMPTZ DEFAULT NULL,
			next_sync_at TIMESTAMPTZ DEFAULT NULL,
			last_error   TEXT        NOT NULL DEFAULT ''
		);

		CREATE TABLE package_documents (
			format     TEXT        NOT NULL,
			name       TEXT        NOT NULL,
			repo_id    BIGINT      NOT NULL REFERENCES repos ON DELETE CASCADE,
			document   TEXT        NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (format, name)
		);

		CREATE TABLE tokens (
			id              BIGSERIAL   NOT NULL PRIMARY KEY,
			token           TEXT        NOT NULL UNIQUE,
			name            TEXT        NOT NULL,
			enabled         BOOLEAN     NOT NULL DEFAULT TRUE,
			expires_at      TIMESTAMPTZ DEFAULT NULL,
			allowed_ips     TEXT        NOT NULL DEFAULT '',
			allowed_domains TEXT        NOT NULL DEFAULT '',
			last_used_at    TIMESTAMPTZ DEFAULT NULL
		);

		CREATE TABLE token_repos (
			token_id BIGINT NOT NULL REFERENCES tokens ON DELETE CASCADE,
			repo_id  BIGINT NOT NULL REFERENCES repos ON DELETE CASCADE,
			UNIQUE (token_id, repo_id)
		);

		CREATE TABLE docker_repos (
			id   BIGSERIAL NOT NULL PRIMARY KEY,
			name TEXT      NOT NULL UNIQUE
		);

		CREATE TABLE blobs (
			id                BIGSERIAL   NOT NULL PRIMARY KEY,
			digest            TEXT        NOT NULL UNIQUE,
			size_bytes        BIGINT      NOT NULL,
			storage_id        TEXT        NOT NULL,
			pushed_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			can_be_deleted_at TIMESTAMPTZ DEFAULT NULL
		);

		CREATE TABLE uploads (
			uuid         TEXT        NOT NULL PRIMARY KEY,
			repo_id      BIGINT      NOT NULL REFERENCES docker_repos ON DELETE CASCADE,
			status       TEXT        NOT NULL,
			storage_id   TEXT        NOT NULL,
			size_bytes   BIGINT      NOT NULL,
			digest_state TEXT        NOT NULL DEFAULT '',
			num_chunks   INT         NOT NULL,
			started_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE manifests (
			repo_id        BIGINT      NOT NULL REFERENCES docker_repos ON DELETE CASCADE,
			digest         TEXT        NOT NULL,
			media_type     TEXT        NOT NULL,
			size_bytes     BIGINT      NOT NULL,
			pushed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_pulled_at TIMESTAMPTZ DEFAULT NULL,
			PRIMARY KEY (repo_id, digest)
		);

		CREATE TABLE tags (
			repo_id        BIGINT      NOT NULL REFERENCES docker_repos ON DELETE CASCADE,
			name           TEXT        NOT NULL,
			digest         TEXT        NOT NULL,
			pushed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_pulled_at TIMESTAMPTZ DEFAULT NULL,
			PRIMARY KEY (repo_id, name),
			FOREIGN KEY (repo_id, digest) REFERENCES manifests ON DELETE CASCADE
		);

		CREATE TABLE manifest_blob_refs (
			repo_id BIGINT NOT NULL,
			digest  TEXT   NOT NULL,
			blob_id BIGINT NOT NULL       REFERENCES blobs ON DELETE RESTRICT,
			FOREIGN KEY (repo_id, digest) REFERENCES manifests ON DELETE CASCADE,
			UNIQUE (repo_id, digest, blob_id)
		);

		CREATE TABLE manifest_manifest_refs (
			repo_id       BIGINT NOT NULL,
			parent_digest TEXT   NOT NULL,
			child_digest  TEXT   NOT NULL,
			FOREIGN KEY (repo_id, parent_digest) REFERENCES manifests (repo_id, digest) ON DELETE CASCADE,
			FOREIGN KEY (repo_id, child_digest)  REFERENCES manifests (repo_id, digest) ON DELETE RESTRICT,
			UNIQUE (repo_id, parent_digest, child_digest)
		);
	`,
	"001_initial.down.sql": `
		DROP TABLE manifest_manifest_refs;
		DROP TABLE manifest_blob_refs;
		DROP TABLE tags;
		DROP TABLE manifests;
		DROP TABLE uploads;
		DROP TABLE blobs;
		DROP TABLE docker_repos;
		DROP TABLE token_repos;
		DROP TABLE tokens;
		DROP TABLE package_documents;
		DROP TABLE repos;
	`,
}

// DB adds convenience functions on top of gorp.DbMap.
type DB struct {
	gorp.DbMap
}

// SelectBool is analogous to db.SelectInt() etc.
func (db *DB) SelectBool(query string, args ...any) (bool, error) {
	var result bool
	err := db.QueryRow(query, args...).Scan(&result)
	return result, err
}

// DBConfiguration returns the easypg.Configuration object that is needed to
// initialize the database connection for this service.
func DBConfiguration() easypg.Configuration {
	return easypg.Configuration{
		Migrations: sqlMigrations,
	}
}

// InitORM wraps a database connection into a DB instance.
func InitORM(dbConn *sql.DB) *DB {
	result := &DB{DbMap: gorp.DbMap{Db: dbConn, Dialect: gorp.PostgresDialect{}}}
	initModels(&result.DbMap)
	return result
}

func initModels(db *gorp.DbMap) {
	db.AddTableWithName(models.Repository{}, "repos").SetKeys(true, "id")
	db.AddTableWithName(models.PackageDocument{}, "package_documents").SetKeys(false, "format", "name")
	db.AddTableWithName(models.Token{}, "tokens").SetKeys(true, "id")
	db.AddTableWithName(models.DockerRepository{}, "docker_repos").SetKeys(true, "id")
	db.AddTableWithName(models.Blob{}, "blobs").SetKeys(true, "id")
	db.AddTableWithName(models.Upload{}, "uploads").SetKeys(false, "uuid")
	db.AddTableWithName(models.Manifest{}, "manifests").SetKeys(false, "repo_id", "digest")
	db.AddTableWithName(models.Tag{}, "tags").SetKeys(false, "repo_id", "name")
}
