// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/opencontainers/go-digest"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
)

// IncomingManifest contains the manifest push that we received from a client.
type IncomingManifest struct {
	Reference models.ManifestReference
	MediaType string
	Contents  []byte
}

// ValidateAndStoreManifest validates the given manifest and stores it under
// the given reference.
//
// Validation covers the document structure, the existence of all referenced
// blobs, and (for manifest lists) the existence of all referenced child
// manifests in the same repository. Children must be pushed before their
// parents.
func (p *Processor) ValidateAndStoreManifest(ctx context.Context, repo models.DockerRepository, m IncomingManifest) (*models.Manifest, error) {
	manifestDigest := digest.Canonical.FromBytes(m.Contents)
	if m.Reference.IsDigest() && m.Reference.Digest != manifestDigest {
		return nil, packgate.ErrDigestInvalid.With("actual manifest digest is " + manifestDigest.String())
	}
	if m.Reference.IsTag() && !models.TagNameRx.MatchString(m.Reference.Tag) {
		return nil, packgate.ErrTagInvalid.With("invalid tag name: %q", m.Reference.Tag)
	}

	parsed, err := packgate.ParseManifest(m.MediaType, m.Contents)
	if err != nil {
		if !packgate.IsManifestMediaType(m.MediaType) {
			return nil, packgate.ErrUnsupported.With(err.Error()).WithStatus(http.StatusUnsupportedMediaType)
		}
		return nil, packgate.ErrManifestInvalid.With(err.Error())
	}

	tx, err := p.db.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	blobIDs, err := p.findReferencedBlobs(tx, parsed)
	if err != nil {
		return nil, err
	}
	childDigests, err := p.findReferencedManifests(tx, repo, parsed)
	if err != nil {
		return nil, err
	}

	manifest := &models.Manifest{
		RepositoryID: repo.ID,
		Digest:       manifestDigest,
		MediaType:    m.MediaType,
		SizeBytes:    packgate.AtLeastZero(len(m.Contents)),
		PushedAt:     p.timeNow(),
	}
	err = upsertManifest(tx, manifest)
	if err != nil {
		return nil, err
	}

	for _, blobID := range blobIDs {
		_, err = tx.Exec(
			`INSERT INTO manifest_blob_refs (repo_id, digest, blob_id) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			repo.ID, manifestDigest.String(), blobID)
		if err != nil {
			return nil, err
		}
	}
	for _, childDigest := range childDigests {
		_, err = tx.Exec(
			`INSERT INTO manifest_manifest_refs (repo_id, parent_digest, child_digest) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			repo.ID, manifestDigest.String(), childDigest.String())
		if err != nil {
			return nil, err
		}
	}

	if m.Reference.IsTag() {
		err = upsertTag(tx, models.Tag{
			RepositoryID: repo.ID,
			Name:         m.Reference.Tag,
			Digest:       manifestDigest,
			PushedAt:     p.timeNow(),
		})
		if err != nil {
			return nil, err
		}
	}

	err = p.sd.WriteManifest(ctx, repo.Name, manifestDigest, m.Contents)
	if err != nil {
		return nil, err
	}
	return manifest, tx.Commit()
}

func (p *Processor) findReferencedBlobs(tx *gorp.Transaction, parsed packgate.ParsedManifest) ([]int64, error) {
	var blobIDs []int64
	for _, layerInfo := range parsed.BlobReferences() {
		blob, err := packgate.FindBlobByDigest(tx, layerInfo.Digest)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, packgate.ErrManifestBlobUnknown.With("").WithDetail(layerInfo.Digest.String())
		}
		if err != nil {
			return nil, err
		}
		blobIDs = append(blobIDs, blob.ID)
	}
	return blobIDs, nil
}

func (p *Processor) findReferencedManifests(tx *gorp.Transaction, repo models.DockerRepository, parsed packgate.ParsedManifest) ([]digest.Digest, error) {
	var childDigests []digest.Digest
	for _, desc := range parsed.ManifestReferences() {
		_, err := packgate.FindManifest(tx, repo, desc.Digest)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, packgate.ErrManifestUnknown.With("").
				WithDetail(fmt.Sprintf("manifest %s referenced by this list was not pushed to this repository", desc.Digest))
		}
		if err != nil {
			return nil, err
		}
		childDigests = append(childDigests, desc.Digest)
	}
	return childDigests, nil
}

var manifestUpsertQuery = sqlext.SimplifyWhitespace(`
	INSERT INTO manifests (repo_id, digest, media_type, size_bytes, pushed_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (repo_id, digest)
	DO UPDATE SET media_type = EXCLUDED.media_type, size_bytes = EXCLUDED.size_bytes, pushed_at = EXCLUDED.pushed_at
`)

func upsertManifest(tx *gorp.Transaction, m *models.Manifest) error {
	_, err := tx.Exec(manifestUpsertQuery,
		m.RepositoryID, m.Digest.String(), m.MediaType, m.SizeBytes, m.PushedAt)
	return err
}

var tagUpsertQuery = sqlext.SimplifyWhitespace(`
	INSERT INTO tags (repo_id, name, digest, pushed_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (repo_id, name)
	DO UPDATE SET digest = EXCLUDED.digest, pushed_at = EXCLUDED.pushed_at
`)

func upsertTag(tx *gorp.Transaction, tag models.Tag) error {
	_, err := tx.Exec(tagUpsertQuery,
		tag.RepositoryID, tag.Name, tag.Digest.String(), tag.PushedAt)
	return err
}

// DeleteManifest deletes a manifest from the database and from storage. Tags
// pointing to the manifest are deleted along with it. A manifest that is
// still referenced by a manifest list cannot be deleted.
func (p *Processor) DeleteManifest(ctx context.Context, repo models.DockerRepository, manifestDigest digest.Digest) error {
	isReferenced, err := packgate.IsManifestReferenced(p.db, repo, manifestDigest)
	if err != nil {
		return err
	}
	if isReferenced {
		return packgate.ErrDenied.With("manifest is still referenced by a manifest list").
			WithStatus(http.StatusConflict)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	// deleting the manifest row cascades into tags and into the ref tables
	result, err := tx.Exec(
		`DELETE FROM manifests WHERE repo_id = $1 AND digest = $2`,
		repo.ID, manifestDigest.String())
	if err != nil {
		return err
	}
	rowsDeleted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsDeleted == 0 {
		return packgate.ErrManifestUnknown.With(manifestDigest.String())
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	err = p.sd.DeleteManifest(ctx, repo.Name, manifestDigest)
	if err != nil {
		logg.Error("cannot delete manifest %s@%s from storage: %s", repo.Name, manifestDigest, err.Error())
	}
	return nil
}
