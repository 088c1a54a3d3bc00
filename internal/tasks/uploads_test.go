// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/storage"
)

func TestAbandonedUploadCleanup(t *testing.T) {
	s, j := setup(t)
	job := j.AbandonedUploadCleanupJob(prometheus.NewPedanticRegistry())
	ctx := t.Context()

	// without any uploads, there is nothing to clean up
	expectNoRows(t, job.ProcessOne(ctx))

	repo := models.DockerRepository{Name: "test1/foo"}
	s.MustInsert(t, &repo)

	storageID := s.SIDGen.Next()
	err := s.SD.AppendToBlob(ctx, storageID, 1, nil, bytes.NewReader([]byte("partial data")))
	if err != nil {
		t.Fatal(err.Error())
	}
	s.MustInsert(t, &models.Upload{
		UUID:         "20e2c47f-6bb6-43b9-9835-0875f93d0d6f",
		RepositoryID: repo.ID,
		Status:       models.UploadActive,
		StorageID:    storageID,
		SizeBytes:    12,
		DigestState:  "unused by this test",
		NumChunks:    1,
		StartedAt:    s.Clock.Now(),
		UpdatedAt:    s.Clock.Now(),
	})

	// the upload is not old enough to be cleaned up yet
	s.Clock.StepBy(s.Cfg.UploadExpiry - time.Hour)
	expectNoRows(t, job.ProcessOne(ctx))

	s.Clock.StepBy(2 * time.Hour)
	expectSuccess(t, job.ProcessOne(ctx))

	count, err := s.DB.SelectInt("SELECT COUNT(*) FROM uploads")
	if err != nil {
		t.Fatal(err.Error())
	}
	if count != 0 {
		t.Errorf("expected upload to be deleted, but %d uploads remain", count)
	}
	// the partial data was removed from storage as well
	err = s.SD.AbortBlobUpload(ctx, storageID, 1)
	if !errors.Is(err, storage.ErrBlobNotFound) {
		t.Errorf("expected partial upload data to be gone, but got: %v", err)
	}

	expectNoRows(t, job.ProcessOne(ctx))
}

func TestAbandonedUploadCleanupSkipsStorageForTerminalStatus(t *testing.T) {
	s, j := setup(t)
	job := j.AbandonedUploadCleanupJob(prometheus.NewPedanticRegistry())
	ctx := t.Context()

	repo := models.DockerRepository{Name: "test1/foo"}
	s.MustInsert(t, &repo)

	// a completed upload has promoted its data into a blob already, so there
	// is no partial data in storage that could be aborted
	s.MustInsert(t, &models.Upload{
		UUID:         "16f03e45-5d45-4972-bed7-3bba6e4e288c",
		RepositoryID: repo.ID,
		Status:       models.UploadComplete,
		StorageID:    s.SIDGen.Next(),
		SizeBytes:    12,
		NumChunks:    2,
		StartedAt:    s.Clock.Now(),
		UpdatedAt:    s.Clock.Now(),
	})

	s.Clock.StepBy(s.Cfg.UploadExpiry + time.Hour)
	expectSuccess(t, job.ProcessOne(ctx))

	count, err := s.DB.SelectInt("SELECT COUNT(*) FROM uploads")
	if err != nil {
		t.Fatal(err.Error())
	}
	if count != 0 {
		t.Errorf("expected upload to be deleted, but %d uploads remain", count)
	}
}
