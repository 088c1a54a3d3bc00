// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package registryv2 implements the docker-registry v2 API.
package registryv2

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/audittools"
	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/packgate/internal/auth"
	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/processor"
	"github.com/sapcc/packgate/internal/storage"
)

// API contains state variables used by the registry v2 API endpoints.
type API struct {
	cfg        packgate.Configuration
	sd         storage.Driver
	db         *packgate.DB
	authorizer *auth.Authorizer
	auditor    audittools.Auditor
	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow           func() time.Time
	generateStorageID func() string
}

// NewAPI constructs a new API instance.
func NewAPI(cfg packgate.Configuration, sd storage.Driver, db *packgate.DB, authorizer *auth.Authorizer, auditor audittools.Auditor) *API {
	return &API{cfg, sd, db, authorizer, auditor, time.Now, packgate.GenerateStorageID}
}

// OverrideTimeNow replaces time.Now with a test double.
func (a *API) OverrideTimeNow(timeNow func() time.Time) *API {
	a.timeNow = timeNow
	return a
}

// OverrideGenerateStorageID replaces packgate.GenerateStorageID with a test double.
func (a *API) OverrideGenerateStorageID(generateStorageID func() string) *API {
	a.generateStorageID = generateStorageID
	return a
}

// AddTo implements the httpapi.API interface.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("GET").Path("/v2/").HandlerFunc(a.handleToplevel)
	r.Methods("GET").Path("/v2/_catalog").HandlerFunc(a.handleGetCatalog)

	r.Methods("DELETE").
		Path("/v2/{repository:.+}/blobs/{digest}").
		HandlerFunc(a.handleDeleteBlob)
	r.Methods("GET", "HEAD").
		Path("/v2/{repository:.+}/blobs/{digest}").
		HandlerFunc(a.handleGetOrHeadBlob)
	r.Methods("POST").
		Path("/v2/{repository:.+}/blobs/uploads/").
		HandlerFunc(a.handleStartBlobUpload)
	r.Methods("DELETE").
		Path("/v2/{repository:.+}/blobs/uploads/{uuid}").
		HandlerFunc(a.handleDeleteBlobUpload)
	r.Methods("GET").
		Path("/v2/{repository:.+}/blobs/uploads/{uuid}").
		HandlerFunc(a.handleGetBlobUpload)
	r.Methods("PATCH").
		Path("/v2/{repository:.+}/blobs/uploads/{uuid}").
		HandlerFunc(a.handleContinueBlobUpload)
	r.Methods("PUT").
		Path("/v2/{repository:.+}/blobs/uploads/{uuid}").
		HandlerFunc(a.handleFinishBlobUpload)
	r.Methods("DELETE").
		Path("/v2/{repository:.+}/manifests/{reference}").
		HandlerFunc(a.handleDeleteManifest)
	r.Methods("GET", "HEAD").
		Path("/v2/{repository:.+}/manifests/{reference}").
		HandlerFunc(a.handleGetOrHeadManifest)
	r.Methods("PUT").
		Path("/v2/{repository:.+}/manifests/{reference}").
		HandlerFunc(a.handlePutManifest)
	r.Methods("GET").
		Path("/v2/{repository:.+}/tags/list").
		HandlerFunc(a.handleListTags)
}

func (a *API) processor() *processor.Processor {
	return processor.New(a.db, a.sd).OverrideTimeNow(a.timeNow).OverrideGenerateStorageID(a.generateStorageID)
}

// This implements the GET /v2/ endpoint.
func (a *API) handleToplevel(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/")
	// must be set even for 401 responses!
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	_, rerr := a.authorizer.AuthorizeRequest(r)
	if rerr != nil {
		rerr.WriteAsRegistryV2ResponseTo(w)
		return
	}

	// the response is not defined beyond code 200, so reply in the same way as
	// https://registry-1.docker.io/v2/, with an empty JSON object
	respondwith.JSON(w, http.StatusOK, map[string]any{})
}

// Like respondwith.ErrorText(), but writes a RegistryV2Error instead of plain text.
func respondWithError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if rerr, ok := errext.As[*packgate.RegistryV2Error](err); ok {
		if rerr == nil {
			return false
		}
		rerr.WriteAsRegistryV2ResponseTo(w)
		return true
	}
	packgate.ErrUnknown.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
	return true
}

type repoAccessStrategy int

const (
	failIfRepoMissing   repoAccessStrategy = 0
	createRepoIfMissing repoAccessStrategy = 1
)

// A one-stop-shop authorization checker for all endpoints that set the mux
// variable "repository". On success, returns the repository that this
// request is about.
func (a *API) checkRepoAccess(w http.ResponseWriter, r *http.Request, strategy repoAccessStrategy) (*models.DockerRepository, *auth.Authorization) {
	// must be set even for 401 responses!
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	repoName := mux.Vars(r)["repository"]
	if !models.IsRepoPath(repoName) {
		packgate.ErrNameInvalid.With("invalid repository name").WriteAsRegistryV2ResponseTo(w)
		return nil, nil
	}

	authz, rerr := a.authorizer.AuthorizeRequest(r)
	if rerr != nil {
		rerr.WithHeader("Www-Authenticate", `Basic realm="packgate"`).WriteAsRegistryV2ResponseTo(w)
		return nil, nil
	}

	// anything except plain reads requires a token
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		// pulls are anonymous
	default:
		if !a.authorizer.CanPush(authz) {
			packgate.ErrUnauthorized.With("authentication required").
				WithHeader("Www-Authenticate", `Basic realm="packgate"`).
				WriteAsRegistryV2ResponseTo(w)
			return nil, nil
		}
	}

	var (
		repo *models.DockerRepository
		err  error
	)
	if strategy == createRepoIfMissing {
		repo, err = packgate.FindOrCreateDockerRepository(a.db, repoName)
	} else {
		repo, err = packgate.FindDockerRepository(a.db, repoName)
	}
	if errors.Is(err, sql.ErrNoRows) {
		packgate.ErrNameUnknown.With("repository not found").WriteAsRegistryV2ResponseTo(w)
		return nil, nil
	}
	if respondWithError(w, err) {
		return nil, nil
	}

	return repo, &authz
}
