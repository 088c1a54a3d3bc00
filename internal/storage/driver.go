// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"io"

	"github.com/opencontainers/go-digest"
)

// Driver is the abstract interface for a storage backend where blob and
// manifest contents are stored.
//
// Blobs are keyed on a storage ID that is chosen at the start of the upload,
// before the blob's digest is known. Manifests are small and always written
// in one piece, so they are keyed on repository name and digest directly.
type Driver interface {
	// AppendToBlob appends a chunk to a blob that is currently being uploaded.
	// Chunks are numbered from 1. `chunkLength` is nil if the length of the
	// chunk is not known in advance.
	AppendToBlob(ctx context.Context, storageID string, chunkNumber uint32, chunkLength *uint64, chunk io.Reader) error
	// FinalizeBlob promotes an uploaded blob into a finished state. No further
	// AppendToBlob() calls are allowed after this.
	FinalizeBlob(ctx context.Context, storageID string, chunkCount uint32) error
	// AbortBlobUpload removes the data of an unfinished blob upload. This is
	// the counterpart of FinalizeBlob() for failed uploads.
	AbortBlobUpload(ctx context.Context, storageID string, chunkCount uint32) error

	// ReadBlob returns a reader for the contents of a finalized blob, plus
	// the blob's size in bytes.
	ReadBlob(ctx context.Context, storageID string) (io.ReadCloser, uint64, error)
	// DeleteBlob removes a finalized blob from storage.
	DeleteBlob(ctx context.Context, storageID string) error

	ReadManifest(ctx context.Context, repoName string, manifestDigest digest.Digest) ([]byte, error)
	WriteManifest(ctx context.Context, repoName string, manifestDigest digest.Digest, contents []byte) error
	DeleteManifest(ctx context.Context, repoName string, manifestDigest digest.Digest) error
}

// ErrBlobNotFound is returned by Driver.ReadBlob() and Driver.DeleteBlob()
// when the given storage ID does not refer to a finalized blob.
var ErrBlobNotFound = errors.New("no such blob in storage")

// ErrManifestNotFound is the analog of ErrBlobNotFound for manifests.
var ErrManifestNotFound = errors.New("no such manifest in storage")
