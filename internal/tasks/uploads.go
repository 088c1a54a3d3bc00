// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"fmt"

	"github.com/go-gorp/gorp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/packgate/internal/models"
)

// query that finds the next upload to be cleaned up
var abandonedUploadSearchQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM uploads WHERE updated_at < $1
	ORDER BY updated_at ASC -- oldest uploads first
	FOR UPDATE SKIP LOCKED  -- block concurrent continuation of upload
	LIMIT 1                 -- one at a time
`)

// AbandonedUploadCleanupJob cleans up upload sessions that have not seen any
// activity for longer than the configured upload expiry. At most one upload
// is cleaned up per task run.
func (j *Janitor) AbandonedUploadCleanupJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.TxGuardedJob[*gorp.Transaction, models.Upload]{
		Metadata: jobloop.JobMetadata{
			ReadableName: "delete abandoned upload",
			CounterOpts: prometheus.CounterOpts{
				Name: "packgate_abandoned_upload_cleanups",
				Help: "Counter for cleanups of abandoned upload sessions.",
			},
		},
		BeginTx: j.db.Begin,
		DiscoverRow: func(_ context.Context, tx *gorp.Transaction, _ prometheus.Labels) (upload models.Upload, err error) {
			maxUpdatedAt := j.timeNow().Add(-j.cfg.UploadExpiry)
			err = tx.SelectOne(&upload, abandonedUploadSearchQuery, maxUpdatedAt)
			return upload, err
		},
		ProcessRow: j.processAbandonedUpload,
	}).Setup(registerer)
}

func (j *Janitor) processAbandonedUpload(ctx context.Context, tx *gorp.Transaction, upload models.Upload, _ prometheus.Labels) error {
	_, err := tx.Delete(&upload)
	if err != nil {
		return err
	}

	// remove partial data from backing storage if necessary; uploads in a
	// terminal status have either promoted their data into a blob or thrown
	// it away already
	if upload.NumChunks > 0 && !upload.Status.IsTerminal() {
		err := j.sd.AbortBlobUpload(ctx, upload.StorageID, upload.NumChunks)
		if err != nil {
			return fmt.Errorf("cannot abort storage for abandoned upload %s: %w", upload.UUID, err)
		}
	}

	return tx.Commit()
}
