// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/opencontainers/go-digest"
	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/audittools"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/packgate/internal/api"
	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/processor"
	"github.com/sapcc/packgate/internal/storage"
)

const manifestSizeLimitBytes = 4 << 20 // 4 MiB

// This implements the GET/HEAD /v2/<repository>/manifests/<reference> endpoint.
func (a *API) handleGetOrHeadManifest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/manifests/:reference")
	repo, _ := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}

	ref := models.ParseManifestReference(mux.Vars(r)["reference"])
	manifestDigest := ref.Digest
	var tag *models.Tag
	if ref.IsTag() {
		var err error
		tag, err = packgate.FindTag(a.db, *repo, ref.Tag)
		if errors.Is(err, sql.ErrNoRows) {
			packgate.ErrManifestUnknown.With("no such manifest").WithDetail(ref.Tag).WriteAsRegistryV2ResponseTo(w)
			return
		}
		if respondWithError(w, err) {
			return
		}
		manifestDigest = tag.Digest
	}

	dbManifest, err := packgate.FindManifest(a.db, *repo, manifestDigest)
	if errors.Is(err, sql.ErrNoRows) {
		packgate.ErrManifestUnknown.With("no such manifest").WithDetail(ref.String()).WriteAsRegistryV2ResponseTo(w)
		return
	}
	if respondWithError(w, err) {
		return
	}

	// pull timestamps only need minute precision, so skip the UPDATE when a
	// previous pull has updated them recently
	now := a.timeNow()
	if dbManifest.LastPulledAt == nil || dbManifest.LastPulledAt.Before(now.Add(-1*time.Minute)) {
		_, err = a.db.Exec(
			"UPDATE manifests SET last_pulled_at = $1 WHERE repo_id = $2 AND digest = $3",
			now, repo.ID, dbManifest.Digest)
		if err != nil {
			logg.Error("while updating last_pulled_at on manifest %s: %s", dbManifest.Digest, err.Error())
		}
	}
	if tag != nil && (tag.LastPulledAt == nil || tag.LastPulledAt.Before(now.Add(-1*time.Minute))) {
		_, err = a.db.Exec(
			"UPDATE tags SET last_pulled_at = $1 WHERE repo_id = $2 AND name = $3",
			now, repo.ID, tag.Name)
		if err != nil {
			logg.Error("while updating last_pulled_at on tag %s: %s", tag.Name, err.Error())
		}
	}

	w.Header().Set("Content-Type", dbManifest.MediaType)
	w.Header().Set("Docker-Content-Digest", dbManifest.Digest.String())

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatUint(dbManifest.SizeBytes, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	contents, err := a.sd.ReadManifest(r.Context(), repo.Name, dbManifest.Digest)
	if errors.Is(err, storage.ErrManifestNotFound) {
		packgate.ErrManifestUnknown.With("manifest contents not found in storage").WriteAsRegistryV2ResponseTo(w)
		return
	}
	if respondWithError(w, err) {
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(contents)))
	w.WriteHeader(http.StatusOK)
	api.ManifestsPulledCounter.WithLabelValues(repo.Name).Inc()
	_, err = w.Write(contents)
	if err != nil {
		logg.Error("while serving manifest %s: %s", dbManifest.Digest, err.Error())
	}
}

// This implements the PUT /v2/<repository>/manifests/<reference> endpoint.
func (a *API) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/manifests/:reference")
	repo, authz := a.checkRepoAccess(w, r, createRepoIfMissing)
	if repo == nil {
		return
	}

	contents, err := io.ReadAll(io.LimitReader(r.Body, manifestSizeLimitBytes+1))
	if err != nil {
		packgate.ErrManifestInvalid.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}
	if len(contents) > manifestSizeLimitBytes {
		packgate.ErrManifestInvalid.With("manifest too large").WriteAsRegistryV2ResponseTo(w)
		return
	}

	// check what the push is going to change before performing it, so that the
	// audit events below can be restricted to actual changes (a client that
	// re-pushes the same manifest on every CI run must not generate a steady
	// stream of useless events)
	ref := models.ParseManifestReference(mux.Vars(r)["reference"])
	manifestDigest := digest.Canonical.FromBytes(contents)
	_, err = packgate.FindManifest(a.db, *repo, manifestDigest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		respondWithError(w, err)
		return
	}
	manifestExistsAlready := err == nil
	tagChanged := false
	if ref.IsTag() {
		tag, err := packgate.FindTag(a.db, *repo, ref.Tag)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			tagChanged = true
		case err != nil:
			respondWithError(w, err)
			return
		default:
			tagChanged = tag.Digest != manifestDigest
		}
	}

	manifest, err := a.processor().ValidateAndStoreManifest(r.Context(), *repo, processor.IncomingManifest{
		Reference: ref,
		MediaType: r.Header.Get("Content-Type"),
		Contents:  contents,
	})
	if respondWithError(w, err) {
		return
	}
	api.ManifestsPushedCounter.WithLabelValues(repo.Name).Inc()

	if userInfo := authz.UserInfo(); userInfo != nil {
		record := func(target audittools.Target) {
			a.auditor.Record(audittools.Event{
				Time:       a.timeNow(),
				Request:    r,
				User:       userInfo,
				ReasonCode: http.StatusOK,
				Action:     cadf.CreateAction,
				Target:     target,
			})
		}
		if !manifestExistsAlready {
			var tags []string
			if ref.IsTag() {
				tags = []string{ref.Tag}
			}
			record(auditManifest{Repository: *repo, Digest: manifest.Digest, Tags: tags})
		}
		if tagChanged {
			record(auditTag{Repository: *repo, Digest: manifest.Digest, TagName: ref.Tag})
		}
	}

	w.Header().Set("Content-Length", "0")
	w.Header().Set("Docker-Content-Digest", manifest.Digest.String())
	w.Header().Set("Location", fmt.Sprintf("/v2/%s/manifests/%s", repo.Name, manifest.Digest))
	w.WriteHeader(http.StatusCreated)
}

// This implements the DELETE /v2/<repository>/manifests/<reference> endpoint.
func (a *API) handleDeleteManifest(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/manifests/:reference")
	repo, authz := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}

	record := func(target audittools.Target) {
		if userInfo := authz.UserInfo(); userInfo != nil {
			a.auditor.Record(audittools.Event{
				Time:       a.timeNow(),
				Request:    r,
				User:       userInfo,
				ReasonCode: http.StatusOK,
				Action:     cadf.DeleteAction,
				Target:     target,
			})
		}
	}

	ref := models.ParseManifestReference(mux.Vars(r)["reference"])
	if ref.IsTag() {
		tag, err := packgate.FindTag(a.db, *repo, ref.Tag)
		if errors.Is(err, sql.ErrNoRows) {
			packgate.ErrManifestUnknown.With("no such tag").WithDetail(ref.Tag).WriteAsRegistryV2ResponseTo(w)
			return
		}
		if respondWithError(w, err) {
			return
		}

		// deleting by tag only removes the tag pointer, not the manifest itself
		_, err = a.db.Exec(
			"DELETE FROM tags WHERE repo_id = $1 AND name = $2", repo.ID, ref.Tag)
		if respondWithError(w, err) {
			return
		}
		record(auditTag{Repository: *repo, Digest: tag.Digest, TagName: ref.Tag})
	} else {
		// collect the tag names before the manifest delete cascades into them
		var tagNames []string
		err := sqlext.ForeachRow(a.db,
			"SELECT name FROM tags WHERE repo_id = $1 AND digest = $2",
			[]any{repo.ID, ref.Digest.String()},
			func(rows *sql.Rows) error {
				var name string
				err := rows.Scan(&name)
				tagNames = append(tagNames, name)
				return err
			})
		if respondWithError(w, err) {
			return
		}

		err = a.processor().DeleteManifest(r.Context(), *repo, ref.Digest)
		if respondWithError(w, err) {
			return
		}
		record(auditManifest{Repository: *repo, Digest: ref.Digest, Tags: tagNames})
	}

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}
