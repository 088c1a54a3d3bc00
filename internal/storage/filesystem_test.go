// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
)

func mustSucceed(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err.Error())
	}
}

func TestFilesystemBlobRoundtrip(t *testing.T) {
	sd, err := NewFilesystemDriver(t.TempDir())
	mustSucceed(t, err)
	ctx := t.Context()

	// upload a blob in two chunks
	chunk1 := "just some"
	chunk2 := " example data"
	length1 := uint64(len(chunk1))
	mustSucceed(t, sd.AppendToBlob(ctx, "blob1", 1, &length1, strings.NewReader(chunk1)))
	mustSucceed(t, sd.AppendToBlob(ctx, "blob1", 2, nil, strings.NewReader(chunk2)))

	// the blob is not readable before FinalizeBlob
	_, _, err = sd.ReadBlob(ctx, "blob1")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound before finalize, got %v", err)
	}

	mustSucceed(t, sd.FinalizeBlob(ctx, "blob1", 2))
	reader, sizeBytes, err := sd.ReadBlob(ctx, "blob1")
	mustSucceed(t, err)
	contents, err := io.ReadAll(reader)
	mustSucceed(t, err)
	mustSucceed(t, reader.Close())
	if string(contents) != chunk1+chunk2 {
		t.Errorf("wrong blob contents: %q", string(contents))
	}
	if sizeBytes != uint64(len(chunk1)+len(chunk2)) {
		t.Errorf("wrong blob size: %d", sizeBytes)
	}

	mustSucceed(t, sd.DeleteBlob(ctx, "blob1"))
	err = sd.DeleteBlob(ctx, "blob1")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestFilesystemAbortBlobUpload(t *testing.T) {
	sd, err := NewFilesystemDriver(t.TempDir())
	mustSucceed(t, err)
	ctx := t.Context()

	mustSucceed(t, sd.AppendToBlob(ctx, "blob1", 1, nil, strings.NewReader("discarded")))
	mustSucceed(t, sd.AbortBlobUpload(ctx, "blob1", 1))

	// the aborted upload cannot be finalized anymore
	err = sd.FinalizeBlob(ctx, "blob1", 1)
	if err == nil {
		t.Error("expected FinalizeBlob to fail after abort")
	}
}

func TestFilesystemManifestRoundtrip(t *testing.T) {
	sd, err := NewFilesystemDriver(t.TempDir())
	mustSucceed(t, err)
	ctx := t.Context()

	contents := []byte(`{"mediaType":"application/vnd.oci.image.manifest.v1+json"}`)
	manifestDigest := digest.Canonical.FromBytes(contents)
	mustSucceed(t, sd.WriteManifest(ctx, "test1/foo", manifestDigest, contents))

	stored, err := sd.ReadManifest(ctx, "test1/foo", manifestDigest)
	mustSucceed(t, err)
	if !bytes.Equal(stored, contents) {
		t.Errorf("wrong manifest contents: %q", string(stored))
	}

	mustSucceed(t, sd.DeleteManifest(ctx, "test1/foo", manifestDigest))
	_, err = sd.ReadManifest(ctx, "test1/foo", manifestDigest)
	if !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound after delete, got %v", err)
	}
}
