// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
	"github.com/sapcc/go-bits/httpapi"

	"github.com/sapcc/packgate/internal/api"
	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
)

// This implements the POST /v2/<repository>/blobs/uploads/ endpoint.
func (a *API) handleStartBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/blobs/uploads/")
	repo, _ := a.checkRepoAccess(w, r, createRepoIfMissing)
	if repo == nil {
		return
	}

	// special case: monolithic upload
	if blobDigestStr := r.URL.Query().Get("digest"); blobDigestStr != "" {
		a.performMonolithicUpload(w, r, *repo, blobDigestStr)
		return
	}

	upload, err := a.processor().StartUpload(*repo)
	if respondWithError(w, err) {
		return
	}

	w.Header().Set("Blob-Upload-Session-Id", upload.UUID)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", repo.Name, upload.UUID))
	w.Header().Set("Range", "0-0")
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) performMonolithicUpload(w http.ResponseWriter, r *http.Request, repo models.DockerRepository, blobDigestStr string) {
	blobDigest, err := digest.Parse(blobDigestStr)
	if err != nil {
		packgate.ErrDigestInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	sizeBytesStr := r.Header.Get("Content-Length")
	if sizeBytesStr == "" {
		packgate.ErrSizeInvalid.With("missing Content-Length header").WriteAsRegistryV2ResponseTo(w)
		return
	}
	sizeBytes, err := strconv.ParseUint(sizeBytesStr, 10, 64)
	if err != nil {
		//COVERAGE: unreachable in unit tests because net/http validates the
		// Content-Length header format before the handler runs
		packgate.ErrSizeInvalid.With("invalid Content-Length: " + err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	blob, err := a.processor().CreateBlobFromContent(r.Context(), blobDigest, sizeBytes, r.Body)
	if respondWithError(w, err) {
		api.UploadsAbortedCounter.WithLabelValues(repo.Name).Inc()
		return
	}
	api.BlobsPushedCounter.WithLabelValues(repo.Name).Inc()

	// a Blob-Upload-Session-Id header is expected even though the upload is
	// already done, so just make something up
	w.Header().Set("Blob-Upload-Session-Id", blob.StorageID)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/%s", repo.Name, blob.Digest))
	w.WriteHeader(http.StatusCreated)
}

// This implements the DELETE /v2/<repository>/blobs/uploads/<uuid> endpoint.
func (a *API) handleDeleteBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/blobs/uploads/:uuid")
	repo, _ := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}

	// cancelation is idempotent: canceling an unknown session reports success
	upload, err := packgate.FindUpload(a.db, mux.Vars(r)["uuid"], repo.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// nothing to do
	case err != nil:
		respondWithError(w, err)
		return
	default:
		err = a.processor().CancelUpload(r.Context(), upload)
		if respondWithError(w, err) {
			return
		}
	}

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNoContent)
}

// This implements the GET /v2/<repository>/blobs/uploads/<uuid> endpoint.
func (a *API) handleGetBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/blobs/uploads/:uuid")
	repo, _ := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}
	upload := a.findUpload(w, r, *repo)
	if upload == nil {
		return
	}

	w.Header().Set("Blob-Upload-Session-Id", upload.UUID)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Range", fmt.Sprintf("0-%d", upload.SizeBytes))
	w.WriteHeader(http.StatusNoContent)
}

// This implements the PATCH /v2/<repository>/blobs/uploads/<uuid> endpoint.
func (a *API) handleContinueBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/blobs/uploads/:uuid")
	repo, _ := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}
	upload := a.findUpload(w, r, *repo)
	if upload == nil {
		return
	}
	if upload.Status.IsTerminal() {
		packgate.ErrBlobUploadInvalid.With("upload session is already in status %q", upload.Status).WriteAsRegistryV2ResponseTo(w)
		return
	}

	// in chunked upload mode, validate the Content-Range header; a wrong
	// offset does not abort the session, so the client can retry with the
	// correct offset
	chunkSizeBytes := (*uint64)(nil)
	if r.Header.Get("Content-Range") != "" {
		val, rerr := parseContentRange(*upload, r.Header)
		if rerr != nil {
			rerr.WriteAsRegistryV2ResponseTo(w)
			return
		}
		chunkSizeBytes = &val
	}

	err := a.processor().AppendToUpload(r.Context(), upload, r.Body, chunkSizeBytes)
	if respondWithError(w, err) {
		return
	}

	w.Header().Set("Blob-Upload-Session-Id", upload.UUID)
	w.Header().Set("Content-Length", "0")
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", repo.Name, upload.UUID))
	w.Header().Set("Range", fmt.Sprintf("0-%d", upload.SizeBytes))
	w.WriteHeader(http.StatusAccepted)
}

// This implements the PUT /v2/<repository>/blobs/uploads/<uuid> endpoint.
func (a *API) handleFinishBlobUpload(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/blobs/uploads/:uuid")
	repo, _ := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}
	upload := a.findUpload(w, r, *repo)
	if upload == nil {
		return
	}
	if upload.Status.IsTerminal() {
		packgate.ErrBlobUploadInvalid.With("upload session is already in status %q", upload.Status).WriteAsRegistryV2ResponseTo(w)
		return
	}

	// if the request has a body, it is the final chunk
	if contentLengthStr := r.Header.Get("Content-Length"); contentLengthStr != "" {
		contentLength, err := strconv.ParseUint(contentLengthStr, 10, 64)
		if err != nil {
			//COVERAGE: unreachable in unit tests because net/http validates the
			// Content-Length header format before the handler runs
			packgate.ErrSizeInvalid.With("malformed Content-Length: " + err.Error()).WriteAsRegistryV2ResponseTo(w)
			return
		}
		if contentLength > 0 {
			err = a.processor().AppendToUpload(r.Context(), upload, r.Body, &contentLength)
			if respondWithError(w, err) {
				return
			}
		}
	}

	blob, err := a.processor().FinishUpload(r.Context(), *repo, upload, r.URL.Query().Get("digest"))
	if respondWithError(w, err) {
		api.UploadsAbortedCounter.WithLabelValues(repo.Name).Inc()
		return
	}
	api.BlobsPushedCounter.WithLabelValues(repo.Name).Inc()

	w.Header().Set("Content-Length", "0")
	w.Header().Set("Content-Range", fmt.Sprintf("0-%d", blob.SizeBytes))
	w.Header().Set("Docker-Content-Digest", blob.Digest.String())
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/%s", repo.Name, blob.Digest))
	w.WriteHeader(http.StatusCreated)
}

func (a *API) findUpload(w http.ResponseWriter, r *http.Request, repo models.DockerRepository) *models.Upload {
	uploadUUID := mux.Vars(r)["uuid"]
	upload, err := packgate.FindUpload(a.db, uploadUUID, repo.ID)
	if errors.Is(err, sql.ErrNoRows) {
		packgate.ErrBlobUploadUnknown.With("no such upload: " + uploadUUID).WriteAsRegistryV2ResponseTo(w)
		return nil
	}
	if respondWithError(w, err) {
		return nil
	}
	return upload
}

var contentRangeRx = regexp.MustCompile(`^([0-9]+)-([0-9]+)$`)

// parseContentRange validates the Content-Range header of a chunked upload
// against the current upload offset. On success, returns the number of bytes
// that should be in this request's body.
func parseContentRange(upload models.Upload, hdr http.Header) (uint64, *packgate.RegistryV2Error) {
	// some clients format Content-Range as `bytes=123-456` instead of just `123-456`
	contentRangeStr := strings.TrimPrefix(hdr.Get("Content-Range"), "bytes=")

	match := contentRangeRx.FindStringSubmatch(contentRangeStr)
	if match == nil {
		return 0, packgate.ErrSizeInvalid.With("malformed Content-Range")
	}
	rangeStart, err := strconv.ParseUint(match[1], 10, 64)
	if err != nil {
		return 0, packgate.ErrSizeInvalid.With("malformed Content-Range: " + err.Error())
	}
	rangeEnd, err := strconv.ParseUint(match[2], 10, 64)
	if err != nil {
		return 0, packgate.ErrSizeInvalid.With("malformed Content-Range: " + err.Error())
	}

	lengthStr := hdr.Get("Content-Length")
	if lengthStr == "" {
		return 0, packgate.ErrSizeInvalid.With("missing Content-Length for chunked upload")
	}
	length, err := strconv.ParseUint(lengthStr, 10, 64)
	if err != nil {
		//COVERAGE: unreachable in unit tests because net/http validates the
		// Content-Length header format before the handler runs
		return 0, packgate.ErrSizeInvalid.With("malformed Content-Length: " + err.Error())
	}

	if rangeStart != upload.SizeBytes {
		return 0, packgate.ErrRangeInvalid.With("upload resumed at offset %d, but current offset is %d", rangeStart, upload.SizeBytes).
			WithHeader("Range", fmt.Sprintf("0-%d", upload.SizeBytes))
	}
	if (rangeEnd - rangeStart) != length {
		return 0, packgate.ErrSizeInvalid.With("Content-Range contains %d bytes, but Content-Length is %d", rangeEnd-rangeStart, length)
	}
	return length, nil
}
