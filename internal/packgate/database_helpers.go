// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packgate

import (
	"database/sql"
	"errors"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/opencontainers/go-digest"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/packgate/internal/models"
)

// FindRepository works similar to db.SelectOne(), but returns nil instead of
// sql.ErrNoRows if no repository exists with this full name.
func FindRepository(db gorp.SqlExecutor, fullName string) (*models.Repository, error) {
	var repo models.Repository
	err := db.SelectOne(&repo, "SELECT * FROM repos WHERE full_name = $1", fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &repo, err
}

// FindRepositoryByID works like FindRepository, but looks up by primary key.
func FindRepositoryByID(db gorp.SqlExecutor, id int64) (*models.Repository, error) {
	var repo models.Repository
	err := db.SelectOne(&repo, "SELECT * FROM repos WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &repo, err
}

var packageDocumentGetQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM package_documents WHERE format = $1 AND name = $2
`)

// FindPackageDocument is a convenience wrapper around db.SelectOne(). If the
// document in question does not exist, sql.ErrNoRows is returned.
func FindPackageDocument(db gorp.SqlExecutor, format models.PackageFormat, name string) (*models.PackageDocument, error) {
	var doc models.PackageDocument
	err := db.SelectOne(&doc, packageDocumentGetQuery, format, name)
	return &doc, err
}

// FindToken works similar to db.SelectOne(), but returns nil instead of
// sql.ErrNoRows if no token exists with this value.
func FindToken(db gorp.SqlExecutor, tokenStr string) (*models.Token, error) {
	var token models.Token
	err := db.SelectOne(&token, "SELECT * FROM tokens WHERE token = $1", tokenStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &token, err
}

var tokenHasRepoAccessQuery = sqlext.SimplifyWhitespace(`
	SELECT NOT EXISTS (SELECT 1 FROM token_repos WHERE token_id = $1)
	    OR EXISTS (SELECT 1 FROM token_repos WHERE token_id = $1 AND repo_id = $2)
`)

// TokenHasRepoAccess returns whether the given token grants access to the
// given repository. A token with no attached repositories is unrestricted; a
// token with at least one attached repository may only act on those.
func TokenHasRepoAccess(db *DB, token models.Token, repoID int64) (bool, error) {
	return db.SelectBool(tokenHasRepoAccessQuery, token.ID, repoID)
}

// FindDockerRepository works similar to db.SelectOne(), but returns
// sql.ErrNoRows if no Docker repository exists with this name.
func FindDockerRepository(db gorp.SqlExecutor, name string) (*models.DockerRepository, error) {
	var repo models.DockerRepository
	err := db.SelectOne(&repo, "SELECT * FROM docker_repos WHERE name = $1", name)
	return &repo, err
}

// FindOrCreateDockerRepository works similar to db.SelectOne(), but
// autovivifies a DockerRepository record when none exists yet.
func FindOrCreateDockerRepository(db gorp.SqlExecutor, name string) (*models.DockerRepository, error) {
	repo, err := FindDockerRepository(db, name)
	if errors.Is(err, sql.ErrNoRows) {
		repo = &models.DockerRepository{Name: name}
		err = db.Insert(repo)
	}
	return repo, err
}

// FindBlobByDigest is a convenience wrapper around db.SelectOne(). If the
// blob in question does not exist, sql.ErrNoRows is returned.
func FindBlobByDigest(db gorp.SqlExecutor, blobDigest digest.Digest) (*models.Blob, error) {
	var blob models.Blob
	err := db.SelectOne(&blob, "SELECT * FROM blobs WHERE digest = $1", blobDigest.String())
	return &blob, err
}

// FindUpload is a convenience wrapper around db.SelectOne(). If the upload
// in question does not exist, sql.ErrNoRows is returned.
func FindUpload(db gorp.SqlExecutor, uuid string, repoID int64) (*models.Upload, error) {
	var upload models.Upload
	err := db.SelectOne(&upload, "SELECT * FROM uploads WHERE uuid = $1 AND repo_id = $2", uuid, repoID)
	return &upload, err
}

// FindManifest is a convenience wrapper around db.SelectOne(). If the
// manifest in question does not exist, sql.ErrNoRows is returned.
func FindManifest(db gorp.SqlExecutor, repo models.DockerRepository, manifestDigest digest.Digest) (*models.Manifest, error) {
	var m models.Manifest
	err := db.SelectOne(&m,
		"SELECT * FROM manifests WHERE repo_id = $1 AND digest = $2", repo.ID, manifestDigest)
	return &m, err
}

// FindTag is a convenience wrapper around db.SelectOne(). If the tag in
// question does not exist, sql.ErrNoRows is returned.
func FindTag(db gorp.SqlExecutor, repo models.DockerRepository, tagName string) (*models.Tag, error) {
	var tag models.Tag
	err := db.SelectOne(&tag,
		"SELECT * FROM tags WHERE repo_id = $1 AND name = $2", repo.ID, tagName)
	return &tag, err
}

var blobIsReferencedQuery = sqlext.SimplifyWhitespace(`
	SELECT EXISTS (SELECT 1 FROM manifest_blob_refs WHERE blob_id = $1)
`)

// IsBlobReferenced returns whether any manifest references the given blob.
func IsBlobReferenced(db *DB, blob models.Blob) (bool, error) {
	return db.SelectBool(blobIsReferencedQuery, blob.ID)
}

var manifestIsReferencedQuery = sqlext.SimplifyWhitespace(`
	SELECT EXISTS (
		SELECT 1 FROM manifest_manifest_refs
		 WHERE repo_id = $1 AND child_digest = $2
	)
`)

// IsManifestReferenced returns whether any manifest list references the
// given manifest as a child.
func IsManifestReferenced(db *DB, repo models.DockerRepository, manifestDigest digest.Digest) (bool, error) {
	return db.SelectBool(manifestIsReferencedQuery, repo.ID, manifestDigest.String())
}
