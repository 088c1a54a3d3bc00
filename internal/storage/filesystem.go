// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// FilesystemDriver is a Driver that stores its contents in the local
// filesystem below a common root path.
type FilesystemDriver struct {
	rootPath string
}

// NewFilesystemDriver initializes a FilesystemDriver at the given root path.
func NewFilesystemDriver(rootPath string) (*FilesystemDriver, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, err
	}
	return &FilesystemDriver{rootPath: absPath}, nil
}

func (d *FilesystemDriver) getBlobPath(storageID string) string {
	return fmt.Sprintf("%s/blobs/%s", d.rootPath, storageID)
}

func (d *FilesystemDriver) getManifestPath(repoName string, manifestDigest digest.Digest) string {
	return fmt.Sprintf("%s/manifests/%s/%s", d.rootPath, repoName, manifestDigest)
}

// AppendToBlob implements the Driver interface.
func (d *FilesystemDriver) AppendToBlob(ctx context.Context, storageID string, chunkNumber uint32, chunkLength *uint64, chunk io.Reader) error {
	tmpPath := d.getBlobPath(storageID) + ".tmp"
	flags := os.O_APPEND | os.O_WRONLY
	if chunkNumber == 1 {
		err := os.MkdirAll(filepath.Dir(tmpPath), 0777) // subject to umask
		if err != nil {
			return err
		}
		flags = flags | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(tmpPath, flags, 0666) // subject to umask
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, chunk)
	return err
}

// FinalizeBlob implements the Driver interface.
func (d *FilesystemDriver) FinalizeBlob(ctx context.Context, storageID string, chunkCount uint32) error {
	path := d.getBlobPath(storageID)
	return os.Rename(path+".tmp", path)
}

// AbortBlobUpload implements the Driver interface.
func (d *FilesystemDriver) AbortBlobUpload(ctx context.Context, storageID string, chunkCount uint32) error {
	return os.Remove(d.getBlobPath(storageID) + ".tmp")
}

// ReadBlob implements the Driver interface.
func (d *FilesystemDriver) ReadBlob(ctx context.Context, storageID string) (io.ReadCloser, uint64, error) {
	f, err := os.Open(d.getBlobPath(storageID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, ErrBlobNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	size := stat.Size()
	if size < 0 {
		size = 0
	}
	return f, uint64(size), nil
}

// DeleteBlob implements the Driver interface.
func (d *FilesystemDriver) DeleteBlob(ctx context.Context, storageID string) error {
	err := os.Remove(d.getBlobPath(storageID))
	if errors.Is(err, os.ErrNotExist) {
		return ErrBlobNotFound
	}
	return err
}

// ReadManifest implements the Driver interface.
func (d *FilesystemDriver) ReadManifest(ctx context.Context, repoName string, manifestDigest digest.Digest) ([]byte, error) {
	contents, err := os.ReadFile(d.getManifestPath(repoName, manifestDigest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrManifestNotFound
	}
	return contents, err
}

// WriteManifest implements the Driver interface.
func (d *FilesystemDriver) WriteManifest(ctx context.Context, repoName string, manifestDigest digest.Digest, contents []byte) error {
	path := d.getManifestPath(repoName, manifestDigest)
	tmpPath := path + ".tmp"
	err := os.MkdirAll(filepath.Dir(tmpPath), 0777) // subject to umask
	if err != nil {
		return err
	}
	err = os.WriteFile(tmpPath, contents, 0666) // subject to umask
	if err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// DeleteManifest implements the Driver interface.
func (d *FilesystemDriver) DeleteManifest(ctx context.Context, repoName string, manifestDigest digest.Digest) error {
	err := os.Remove(d.getManifestPath(repoName, manifestDigest))
	if errors.Is(err, os.ErrNotExist) {
		return ErrManifestNotFound
	}
	return err
}
