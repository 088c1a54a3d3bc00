// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package packages contains the HTTP endpoints that Composer and npm clients
// talk to. Both formats serve pre-rendered metadata documents from the
// database and proxy archive downloads from the upstream Git host.
package packages

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/packgate/internal/auth"
	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/syncer"
	"github.com/sapcc/packgate/internal/upstream"
)

// API contains state for the Composer and npm endpoints.
type API struct {
	cfg        packgate.Configuration
	db         *packgate.DB
	authorizer *auth.Authorizer
	syncer     *syncer.Syncer
	fetcher    upstream.Fetcher
	timeNow    func() time.Time
}

// NewAPI initializes an API instance.
func NewAPI(cfg packgate.Configuration, db *packgate.DB, authorizer *auth.Authorizer, s *syncer.Syncer, fetcher upstream.Fetcher) *API {
	return &API{cfg, db, authorizer, s, fetcher, time.Now}
}

// OverrideTimeNow replaces time.Now with a test double.
func (a *API) OverrideTimeNow(timeNow func() time.Time) *API {
	a.timeNow = timeNow
	return a
}

// AddTo implements the api.API interface. The npm package routes match very
// broadly, so this API must be added to the router after all other APIs.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("GET").Path("/packages.json").HandlerFunc(a.handleComposerIndex)
	r.Methods("GET").Path("/p/{vendor}/{package}.json").HandlerFunc(a.handleComposerPackage)
	r.Methods("GET").Path("/dist/{owner}/{repo}/{ref}.zip").HandlerFunc(a.handleComposerDist)
	r.Methods("GET").Path("/-/{owner}/{repo}/{ref}.tgz").HandlerFunc(a.handleNpmTarball)
	r.Methods("GET").Path("/@{scope}/{package}").HandlerFunc(a.handleNpmPackument)
	r.Methods("GET").Path("/{package}").HandlerFunc(a.handleNpmPackument)
}

func respondWithNotFound(w http.ResponseWriter) {
	respondwith.JSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

// authorize evaluates the request credentials. A return value of nil means
// that the error response has already been written.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) *auth.Authorization {
	authz, rerr := a.authorizer.AuthorizeRequest(r)
	if rerr != nil {
		w.Header().Set("Www-Authenticate", `Basic realm="packgate"`)
		respondwith.JSON(w, http.StatusUnauthorized, map[string]string{"error": rerr.Error()})
		return nil
	}
	return &authz
}

// checkRepoAccess writes an error response and returns false if the given
// authorization may not read packages of the given repository.
func (a *API) checkRepoAccess(w http.ResponseWriter, authz auth.Authorization, repo models.Repository) bool {
	ok, err := a.authorizer.CanAccessRepository(authz, repo)
	if respondWithDBError(w, err) {
		return false
	}
	if ok {
		return true
	}
	if authz.IsAnonymous() {
		w.Header().Set("Www-Authenticate", `Basic realm="packgate"`)
		respondwith.JSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	} else {
		respondwith.JSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
	}
	return false
}

func respondWithDBError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	logg.Error(err.Error())
	respondwith.JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	return true
}

// findPackageDocument locates the metadata document for the given package
// name. On a miss, it tries to map the package name back onto a mirrored
// repository and syncs that repository once before giving up; a failing sync
// never turns an otherwise servable request into an error.
func (a *API) findPackageDocument(r *http.Request, format models.PackageFormat, packageName string) (*models.PackageDocument, error) {
	doc, err := packgate.FindPackageDocument(a.db, format, packageName)
	if err == nil || !errors.Is(err, sql.ErrNoRows) {
		return doc, err
	}

	repo, err := a.findRepoForPackageName(format, packageName)
	if err != nil || repo == nil {
		return nil, sql.ErrNoRows
	}
	syncErr := a.syncer.SyncRepository(r.Context(), *repo)
	if syncErr != nil {
		logg.Error("opportunistic sync of %s failed: %s", repo.FullName, syncErr.Error())
	}
	return packgate.FindPackageDocument(a.db, format, packageName)
}

// findRepoForPackageName inverts models.Repository.PackageName(). Packages
// whose manifest declares a name that differs from the repository name cannot
// be mapped back; those are only servable from previously synced documents.
func (a *API) findRepoForPackageName(format models.PackageFormat, packageName string) (*models.Repository, error) {
	fullName := strings.TrimPrefix(packageName, "@")
	if !strings.Contains(fullName, "/") {
		return nil, nil
	}
	var repo models.Repository
	err := a.db.SelectOne(&repo,
		"SELECT * FROM repos WHERE format = $1 AND lower(full_name) = $2 AND enabled",
		format, fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// findRepoForDownload locates the repository for an archive download request
// and checks access to it. A return value of nil means that the error
// response has already been written.
func (a *API) findRepoForDownload(w http.ResponseWriter, r *http.Request, format models.PackageFormat) *models.Repository {
	authz := a.authorize(w, r)
	if authz == nil {
		return nil
	}

	vars := mux.Vars(r)
	repo, err := packgate.FindRepository(a.db, vars["owner"]+"/"+vars["repo"])
	if respondWithDBError(w, err) {
		return nil
	}
	if repo == nil || repo.Format != format || !repo.Enabled {
		respondWithNotFound(w)
		return nil
	}
	if !a.checkRepoAccess(w, *authz, *repo) {
		return nil
	}
	return repo
}
