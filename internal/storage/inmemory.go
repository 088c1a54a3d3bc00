// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/opencontainers/go-digest"
)

// InMemoryDriver is a Driver that stores its contents in RAM only, without
// any persistence. It is used in test suites, and it checks chunk ordering
// more strictly than a production driver would.
type InMemoryDriver struct {
	mutex          sync.Mutex
	pendingBlobs   map[string][]byte
	finalizedBlobs map[string][]byte
	manifests      map[string][]byte
	ForbidNewBlobs bool // can be set by tests to simulate storage errors
}

// NewInMemoryDriver initializes an InMemoryDriver.
func NewInMemoryDriver() *InMemoryDriver {
	return &InMemoryDriver{
		pendingBlobs:   make(map[string][]byte),
		finalizedBlobs: make(map[string][]byte),
		manifests:      make(map[string][]byte),
	}
}

func manifestKey(repoName string, manifestDigest digest.Digest) string {
	return fmt.Sprintf("%s/%s", repoName, manifestDigest)
}

// AppendToBlob implements the Driver interface.
func (d *InMemoryDriver) AppendToBlob(ctx context.Context, storageID string, chunkNumber uint32, chunkLength *uint64, chunk io.Reader) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.ForbidNewBlobs {
		return fmt.Errorf("cannot write blob %s: storage is full", storageID)
	}
	contents, exists := d.pendingBlobs[storageID]
	if exists != (chunkNumber > 1) {
		return fmt.Errorf("chunk #%d while upload %s is not in that state", chunkNumber, storageID)
	}
	chunkBytes, err := io.ReadAll(chunk)
	if err != nil {
		return err
	}
	if chunkLength != nil && uint64(len(chunkBytes)) != *chunkLength {
		return fmt.Errorf("expected chunk of %d bytes, but got %d bytes", *chunkLength, len(chunkBytes))
	}
	d.pendingBlobs[storageID] = append(contents, chunkBytes...)
	return nil
}

// FinalizeBlob implements the Driver interface.
func (d *InMemoryDriver) FinalizeBlob(ctx context.Context, storageID string, chunkCount uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	contents, exists := d.pendingBlobs[storageID]
	if !exists {
		return ErrBlobNotFound
	}
	delete(d.pendingBlobs, storageID)
	d.finalizedBlobs[storageID] = contents
	return nil
}

// AbortBlobUpload implements the Driver interface.
func (d *InMemoryDriver) AbortBlobUpload(ctx context.Context, storageID string, chunkCount uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, exists := d.pendingBlobs[storageID]
	if !exists {
		return ErrBlobNotFound
	}
	delete(d.pendingBlobs, storageID)
	return nil
}

// ReadBlob implements the Driver interface.
func (d *InMemoryDriver) ReadBlob(ctx context.Context, storageID string) (io.ReadCloser, uint64, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	contents, exists := d.finalizedBlobs[storageID]
	if !exists {
		return nil, 0, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(contents)), uint64(len(contents)), nil
}

// DeleteBlob implements the Driver interface.
func (d *InMemoryDriver) DeleteBlob(ctx context.Context, storageID string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, exists := d.finalizedBlobs[storageID]
	if !exists {
		return ErrBlobNotFound
	}
	delete(d.finalizedBlobs, storageID)
	return nil
}

// ReadManifest implements the Driver interface.
func (d *InMemoryDriver) ReadManifest(ctx context.Context, repoName string, manifestDigest digest.Digest) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	contents, exists := d.manifests[manifestKey(repoName, manifestDigest)]
	if !exists {
		return nil, ErrManifestNotFound
	}
	return contents, nil
}

// WriteManifest implements the Driver interface.
func (d *InMemoryDriver) WriteManifest(ctx context.Context, repoName string, manifestDigest digest.Digest, contents []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.manifests[manifestKey(repoName, manifestDigest)] = contents
	return nil
}

// DeleteManifest implements the Driver interface.
func (d *InMemoryDriver) DeleteManifest(ctx context.Context, repoName string, manifestDigest digest.Digest) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	k := manifestKey(repoName, manifestDigest)
	_, exists := d.manifests[k]
	if !exists {
		return ErrManifestNotFound
	}
	delete(d.manifests, k)
	return nil
}

// BlobCount returns how many finalized blobs exist in this storage driver.
// This is mostly used to validate that failure cases do not commit data to
// the storage.
func (d *InMemoryDriver) BlobCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.finalizedBlobs)
}

// ManifestCount returns how many manifests exist in this storage driver.
func (d *InMemoryDriver) ManifestCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.manifests)
}
