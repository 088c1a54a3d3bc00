// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/audittools"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/packgate/internal/api"
	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/storage"
)

// This implements the GET/HEAD /v2/<repository>/blobs/<digest> endpoint.
func (a *API) handleGetOrHeadBlob(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/blobs/:digest")
	repo, _ := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}

	blobDigest, err := digest.Parse(mux.Vars(r)["digest"])
	if err != nil {
		packgate.ErrDigestInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	blob, err := packgate.FindBlobByDigest(a.db, blobDigest)
	if errors.Is(err, sql.ErrNoRows) {
		packgate.ErrBlobUnknown.With("no such blob").WithDetail(blobDigest.String()).WriteAsRegistryV2ResponseTo(w)
		return
	}
	if respondWithError(w, err) {
		return
	}

	w.Header().Set("Docker-Content-Digest", blob.Digest.String())
	w.Header().Set("Content-Type", "application/octet-stream")

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatUint(blob.SizeBytes, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	reader, sizeBytes, err := a.sd.ReadBlob(r.Context(), blob.StorageID)
	if errors.Is(err, storage.ErrBlobNotFound) {
		packgate.ErrBlobUnknown.With("blob contents not found in storage").WriteAsRegistryV2ResponseTo(w)
		return
	}
	if respondWithError(w, err) {
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Length", strconv.FormatUint(sizeBytes, 10))
	w.WriteHeader(http.StatusOK)
	api.BlobsPulledCounter.WithLabelValues(repo.Name).Inc()
	_, err = io.Copy(w, reader)
	if err != nil {
		logg.Error("while serving blob %s: %s", blob.Digest, err.Error())
	}
}

// This implements the DELETE /v2/<repository>/blobs/<digest> endpoint.
func (a *API) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/blobs/:digest")
	repo, authz := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}

	blobDigest, err := digest.Parse(mux.Vars(r)["digest"])
	if err != nil {
		packgate.ErrDigestInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}

	blob, err := packgate.FindBlobByDigest(a.db, blobDigest)
	if errors.Is(err, sql.ErrNoRows) {
		packgate.ErrBlobUnknown.With("no such blob").WriteAsRegistryV2ResponseTo(w)
		return
	}
	if respondWithError(w, err) {
		return
	}

	// blobs that are still referenced by manifests cannot be deleted directly;
	// the manifests have to go first
	isReferenced, err := packgate.IsBlobReferenced(a.db, *blob)
	if respondWithError(w, err) {
		return
	}
	if isReferenced {
		packgate.ErrUnsupported.With("blob is referenced by manifests").WriteAsRegistryV2ResponseTo(w)
		return
	}

	_, err = a.db.Delete(blob)
	if respondWithError(w, err) {
		return
	}
	err = a.sd.DeleteBlob(r.Context(), blob.StorageID)
	if err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		logg.Error("while deleting blob %s from storage: %s", blob.Digest, err.Error())
	}

	if userInfo := authz.UserInfo(); userInfo != nil {
		a.auditor.Record(audittools.Event{
			Time:       a.timeNow(),
			Request:    r,
			User:       userInfo,
			ReasonCode: http.StatusOK,
			Action:     cadf.DeleteAction,
			Target:     auditBlob{Repository: *repo, Digest: blob.Digest},
		})
	}

	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", blob.Digest.String())
	w.WriteHeader(http.StatusAccepted)
}
