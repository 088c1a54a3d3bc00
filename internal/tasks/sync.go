// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/packgate/internal/models"
)

var repoSyncSearchQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM repos
		WHERE enabled AND (next_sync_at IS NULL OR next_sync_at < $1)
	-- repos without any syncs first, then sorted by last sync
	ORDER BY next_sync_at IS NULL DESC, next_sync_at ASC
	-- only one repo at a time
	LIMIT 1
`)

// RepositorySyncJob finds the next repository that is due for a metadata sync
// and syncs it. Sync failures are recorded on the repository itself and do
// not fail the job, so one chronically broken repository cannot starve the
// others.
func (j *Janitor) RepositorySyncJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.ProducerConsumerJob[models.Repository]{
		Metadata: jobloop.JobMetadata{
			ReadableName: "sync repository metadata",
			CounterOpts: prometheus.CounterOpts{
				Name: "packgate_repository_syncs",
				Help: "Counter for metadata sync runs per mirrored repository.",
			},
		},
		DiscoverTask: func(_ context.Context, _ prometheus.Labels) (repo models.Repository, err error) {
			err = j.db.SelectOne(&repo, repoSyncSearchQuery, j.timeNow())
			return repo, err
		},
		ProcessTask: j.processRepositorySync,
	}).Setup(registerer)
}

func (j *Janitor) processRepositorySync(ctx context.Context, repo models.Repository, _ prometheus.Labels) error {
	// the syncer reschedules the repository and stores the error message in
	// repos.last_error, so the returned error is only relevant for metrics
	return j.syncer.SyncRepository(ctx, repo)
}
