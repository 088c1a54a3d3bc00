// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/opencontainers/go-digest"
)

// Blob contains a record from the `blobs` table.
//
// Blobs are deduplicated across all Docker repositories by digest. The
// connection to the manifests that reference them is in the
// `manifest_blob_refs` table.
//
// StorageID is used to construct the filename (or equivalent) for this blob
// in the storage driver. We cannot use the digest for this since the
// StorageID needs to be chosen at the start of the blob upload, when the
// digest is not known yet.
type Blob struct {
	ID        int64         `db:"id"`
	Digest    digest.Digest `db:"digest"`
	SizeBytes uint64        `db:"size_bytes"`
	StorageID string        `db:"storage_id"`
	PushedAt  time.Time     `db:"pushed_at"`
	// CanBeDeletedAt is set when a sweep finds this blob unreferenced. The
	// blob is deleted when a second sweep after this timestamp still finds it
	// unreferenced. See tasks.BlobSweepJob.
	CanBeDeletedAt *time.Time `db:"can_be_deleted_at"`
}

// UploadStatus appears in type Upload.
type UploadStatus string

const (
	// UploadPending is the status of an upload session that has not received
	// any data yet.
	UploadPending UploadStatus = "pending"
	// UploadActive is the status of an upload session that has received at
	// least one chunk.
	UploadActive UploadStatus = "uploading"
	// UploadComplete is the status of an upload session whose content has
	// been verified and promoted into a blob.
	UploadComplete UploadStatus = "complete"
	// UploadFailed is the status of an upload session whose final digest
	// verification failed.
	UploadFailed UploadStatus = "failed"
)

// IsTerminal returns whether an upload in this status cannot receive any
// more data.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadComplete || s == UploadFailed
}

// Upload contains a record from the `uploads` table.
//
// DigestState contains the serialized state of the SHA-256 hash over
// everything that has been uploaded so far. It is restored on each PATCH so
// that the digest of the full content can be computed without re-reading
// chunks from storage.
type Upload struct {
	UUID         string       `db:"uuid"`
	RepositoryID int64        `db:"repo_id"`
	Status       UploadStatus `db:"status"`
	StorageID    string       `db:"storage_id"`
	SizeBytes    uint64       `db:"size_bytes"`
	DigestState  string       `db:"digest_state"`
	NumChunks    uint32       `db:"num_chunks"`
	StartedAt    time.Time    `db:"started_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}
