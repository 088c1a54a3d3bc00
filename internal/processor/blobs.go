// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding"
	"encoding/base64"
	"errors"
	"hash"
	"io"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/opencontainers/go-digest"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"
	uuid "github.com/satori/go.uuid"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
)

// digestWriter is an io.Writer that writes into the given Hash and also
// tracks the number of bytes written.
type digestWriter struct {
	hash.Hash
	bytesWritten uint64
}

func (w *digestWriter) Write(buf []byte) (n int, err error) {
	n, err = w.Hash.Write(buf)
	if n > 0 {
		w.bytesWritten += uint64(n)
	}
	return n, err
}

// StartUpload creates a new upload session for the given repository.
func (p *Processor) StartUpload(repo models.DockerRepository) (*models.Upload, error) {
	upload := &models.Upload{
		UUID:         uuid.NewV4().String(),
		RepositoryID: repo.ID,
		Status:       models.UploadPending,
		StorageID:    p.generateStorageID(),
		SizeBytes:    0,
		DigestState:  "",
		NumChunks:    0,
		StartedAt:    p.timeNow(),
		UpdatedAt:    p.timeNow(),
	}
	err := p.db.Insert(upload)
	if err != nil {
		return nil, err
	}
	return upload, nil
}

// restoreDigestState rebuilds the SHA-256 hash over all previously uploaded
// content from the state that was persisted at the end of the last chunk.
func restoreDigestState(upload models.Upload) (*digestWriter, error) {
	if upload.NumChunks == 0 {
		return &digestWriter{sha256.New(), 0}, nil
	}
	stateBytes, err := base64.StdEncoding.DecodeString(upload.DigestState)
	if err != nil {
		return nil, errors.New("broken digest state on upload " + upload.UUID)
	}
	h := sha256.New()
	err = h.(encoding.BinaryUnmarshaler).UnmarshalBinary(stateBytes)
	if err != nil {
		return nil, errors.New("broken digest state on upload " + upload.UUID)
	}
	return &digestWriter{h, upload.SizeBytes}, nil
}

// AppendToUpload appends a chunk to an upload session. `chunkSizeBytes` is
// nil when the chunk length is not declared in advance.
//
// On success, the updated Upload record is written to the DB. On failure,
// the session and its storage are abandoned: a partially applied chunk would
// leave the persisted digest state out of sync with the storage contents.
func (p *Processor) AppendToUpload(ctx context.Context, upload *models.Upload, chunk io.Reader, chunkSizeBytes *uint64) (returnErr error) {
	defer func() {
		if returnErr != nil {
			p.abandonUpload(ctx, upload)
		}
	}()

	dw, err := restoreDigestState(*upload)
	if err != nil {
		return packgate.ErrBlobUploadInvalid.With(err.Error())
	}

	upload.NumChunks++
	err = p.sd.AppendToBlob(ctx, upload.StorageID, upload.NumChunks, chunkSizeBytes, io.TeeReader(chunk, dw))
	if err != nil {
		return err
	}

	actualChunkSizeBytes := dw.bytesWritten - upload.SizeBytes
	if chunkSizeBytes != nil && *chunkSizeBytes != actualChunkSizeBytes {
		return packgate.ErrSizeInvalid.With("expected chunk of %d bytes, but request contained %d bytes",
			*chunkSizeBytes, actualChunkSizeBytes)
	}

	// serialize the hash state BEFORE digest.NewDigest() below can alter it
	digestStateBytes, err := dw.Hash.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return err
	}

	upload.Status = models.UploadActive
	upload.SizeBytes = dw.bytesWritten
	upload.DigestState = base64.StdEncoding.EncodeToString(digestStateBytes)
	upload.UpdatedAt = p.timeNow()
	_, err = p.db.Update(upload)
	return err
}

// FinishUpload verifies the uploaded content against the digest that the
// client declared, and promotes the upload into a blob.
//
// On digest mismatch, the upload moves into status "failed" and its storage
// is discarded; the session record is kept so that the failure is observable
// until the sweep collects it.
func (p *Processor) FinishUpload(ctx context.Context, repo models.DockerRepository, upload *models.Upload, blobDigestStr string) (*models.Blob, error) {
	if blobDigestStr == "" {
		return nil, packgate.ErrDigestInvalid.With("missing digest")
	}
	blobDigest, err := digest.Parse(blobDigestStr)
	if err != nil {
		return nil, packgate.ErrDigestInvalid.With(err.Error())
	}

	dw, err := restoreDigestState(*upload)
	if err != nil {
		p.abandonUpload(ctx, upload)
		return nil, packgate.ErrBlobUploadInvalid.With(err.Error())
	}
	actualDigest := digest.NewDigest(digest.SHA256, dw.Hash)
	if actualDigest != blobDigest {
		p.markUploadFailed(ctx, upload)
		return nil, packgate.ErrDigestInvalid.With("expected %s, but actual digest was %s", blobDigest, actualDigest)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	upload.Status = models.UploadComplete
	upload.DigestState = ""
	upload.UpdatedAt = p.timeNow()
	_, err = tx.Update(upload)
	if err != nil {
		return nil, err
	}

	blob := &models.Blob{
		Digest:    blobDigest,
		SizeBytes: upload.SizeBytes,
		StorageID: upload.StorageID,
		PushedAt:  p.timeNow(),
	}
	onCommit, err := p.createOrUpdateBlobObject(tx, blob)
	if err != nil {
		return nil, err
	}

	err = p.sd.FinalizeBlob(ctx, upload.StorageID, upload.NumChunks)
	if err != nil {
		return nil, err
	}
	err = tx.Commit()
	if err != nil {
		return nil, err
	}
	if onCommit != nil {
		onCommit()
	}
	return blob, nil
}

// CreateBlobFromContent verifies and stores a blob that was uploaded in a
// single request (the "monolithic upload" flow).
func (p *Processor) CreateBlobFromContent(ctx context.Context, blobDigest digest.Digest, sizeBytes uint64, content io.Reader) (blob *models.Blob, returnErr error) {
	storageID := p.generateStorageID()
	dw := digestWriter{sha256.New(), 0}
	err := p.sd.AppendToBlob(ctx, storageID, 1, &sizeBytes, io.TeeReader(content, &dw))
	if err != nil {
		abortErr := p.sd.AbortBlobUpload(ctx, storageID, 1)
		if abortErr != nil {
			logg.Error("additional error while aborting blob upload %s: %s", storageID, abortErr.Error())
		}
		return nil, err
	}
	err = p.sd.FinalizeBlob(ctx, storageID, 1)
	if err != nil {
		return nil, err
	}

	// if any of the remaining steps fail, cleanup the storage backend
	defer func() {
		if returnErr != nil {
			err := p.sd.DeleteBlob(ctx, storageID)
			if err != nil {
				logg.Error("additional error while deleting broken blob %s: %s", storageID, err.Error())
			}
		}
	}()

	if dw.bytesWritten != sizeBytes {
		return nil, packgate.ErrSizeInvalid.With("Content-Length was %d, but %d bytes were sent", sizeBytes, dw.bytesWritten)
	}
	actualDigest := digest.NewDigest(digest.SHA256, dw.Hash)
	if actualDigest != blobDigest {
		return nil, packgate.ErrDigestInvalid.With("expected %s, but actual digest was %s", blobDigest, actualDigest)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return nil, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	blob = &models.Blob{
		Digest:    blobDigest,
		SizeBytes: sizeBytes,
		StorageID: storageID,
		PushedAt:  p.timeNow(),
	}
	onCommit, err := p.createOrUpdateBlobObject(tx, blob)
	if err != nil {
		return nil, err
	}
	err = tx.Commit()
	if err != nil {
		return nil, err
	}
	if onCommit != nil {
		onCommit()
	}
	return blob, nil
}

// createOrUpdateBlobObject inserts a Blob object in the database. This is
// similar to tx.Insert(blob), but handles a collision where another blob
// with the same digest already exists.
func (p *Processor) createOrUpdateBlobObject(tx *gorp.Transaction, blob *models.Blob) (onCommit func(), returnErr error) {
	var otherBlob models.Blob
	err := tx.SelectOne(&otherBlob,
		`SELECT * FROM blobs WHERE digest = $1`, blob.Digest.String())

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no collision, just insert the new blob
		return nil, tx.Insert(blob)
	case err == nil:
		// collision: replace the old blob with the new blob (we trust the new
		// blob more because we just verified its digest), and also clear a
		// pending deletion mark since the blob was evidently pushed again
		blob.ID = otherBlob.ID
		blob.CanBeDeletedAt = nil
		_, err := tx.Update(blob)
		onCommit := func() {
			// once the UPDATE is committed, the old blob's contents are orphaned
			err := p.sd.DeleteBlob(context.Background(), otherBlob.StorageID)
			if err != nil {
				logg.Error("additional error while deleting duplicate blob %s: %s", otherBlob.StorageID, err.Error())
			}
		}
		return onCommit, err
	default:
		return nil, err
	}
}

// CancelUpload deletes an upload session and its storage contents. It is
// idempotent with respect to already aborted storage.
func (p *Processor) CancelUpload(ctx context.Context, upload *models.Upload) error {
	_, err := p.db.Delete(upload)
	if err != nil {
		return err
	}
	if upload.NumChunks > 0 && !upload.Status.IsTerminal() {
		err = p.sd.AbortBlobUpload(ctx, upload.StorageID, upload.NumChunks)
		if err != nil {
			logg.Error("cannot abort storage for upload %s: %s", upload.UUID, err.Error())
		}
	}
	return nil
}

// abandonUpload is the cleanup path for errors in the middle of a chunk: the
// session is deleted outright since its digest state cannot be trusted
// anymore.
func (p *Processor) abandonUpload(ctx context.Context, upload *models.Upload) {
	logg.Info("abandoning upload %s because of an error in mid-chunk", upload.UUID)
	err := p.sd.AbortBlobUpload(ctx, upload.StorageID, upload.NumChunks)
	if err != nil {
		logg.Error("additional error during AbortBlobUpload: %s", err.Error())
	}
	_, err = p.db.Delete(upload)
	if err != nil {
		logg.Error("additional error while deleting upload from DB: %s", err.Error())
	}
}

// markUploadFailed is the cleanup path for a digest mismatch on PUT: the
// storage contents are discarded, but the session record remains visible in
// status "failed".
func (p *Processor) markUploadFailed(ctx context.Context, upload *models.Upload) {
	if upload.NumChunks > 0 {
		err := p.sd.AbortBlobUpload(ctx, upload.StorageID, upload.NumChunks)
		if err != nil {
			logg.Error("additional error during AbortBlobUpload: %s", err.Error())
		}
	}
	upload.Status = models.UploadFailed
	upload.DigestState = ""
	upload.UpdatedAt = p.timeNow()
	_, err := p.db.Update(upload)
	if err != nil {
		logg.Error("cannot mark upload %s as failed: %s", upload.UUID, err.Error())
	}
}
