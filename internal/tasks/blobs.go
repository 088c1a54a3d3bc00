// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/storage"
)

var blobMarkQuery = sqlext.SimplifyWhitespace(`
	UPDATE blobs SET can_be_deleted_at = $1
	WHERE can_be_deleted_at IS NULL AND id NOT IN (
		SELECT blob_id FROM manifest_blob_refs
	)
`)

var blobUnmarkQuery = sqlext.SimplifyWhitespace(`
	UPDATE blobs SET can_be_deleted_at = NULL
	WHERE id IN (SELECT blob_id FROM manifest_blob_refs)
`)

var blobSelectMarkedQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM blobs WHERE can_be_deleted_at < $1
`)

// BlobSweepJob garbage-collects blobs that are not referenced by any
// manifest. Each run marks all currently unreferenced blobs, and sweeps
// those blobs that were already marked in a previous run and are still
// unreferenced. The two-phase mark ensures that freshly pushed blobs are
// never collected before the manifest referencing them has arrived.
func (j *Janitor) BlobSweepJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "blob sweep",
			CounterOpts: prometheus.CounterOpts{
				Name: "packgate_blob_sweeps",
				Help: "Counter for garbage collection runs over the blobs table.",
			},
		},
		Interval: j.addJitter(j.cfg.BlobSweepDelay / 4),
		Task:     j.sweepBlobs,
	}).Setup(registerer)
}

func (j *Janitor) sweepBlobs(ctx context.Context, _ prometheus.Labels) error {
	// NOTE: These steps intentionally run outside a shared transaction. Mark
	// and unmark only touch metadata, and the sweep only touches blobs that
	// were marked in a *previous* run. The only ordering requirement is that
	// unmark runs before the sweep.
	_, err := j.db.Exec(blobMarkQuery, j.timeNow().Add(j.cfg.BlobSweepDelay))
	if err != nil {
		return err
	}
	_, err = j.db.Exec(blobUnmarkQuery)
	if err != nil {
		return err
	}

	var blobs []models.Blob
	_, err = j.db.Select(&blobs, blobSelectMarkedQuery, j.timeNow())
	if err != nil {
		return err
	}

	for _, blob := range blobs {
		// delete from the DB first: if a concurrent manifest push re-references
		// the blob, the DELETE fails on the foreign key constraint and we keep
		// the storage contents; the reverse order could lose referenced data
		err := j.sweepBlob(ctx, blob)
		if err != nil {
			// a single broken blob shall not put a stop to the entire sweep
			logg.Error("cannot sweep blob %s: %s", blob.Digest, err.Error())
		}
	}
	return nil
}

func (j *Janitor) sweepBlob(ctx context.Context, blob models.Blob) error {
	_, err := j.db.Delete(&blob)
	if err != nil {
		return err
	}
	err = j.sd.DeleteBlob(ctx, blob.StorageID)
	if err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		return err
	}
	return nil
}
