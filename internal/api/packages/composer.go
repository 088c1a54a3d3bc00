// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packages

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/packgate/internal/api"
	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/upstream"
)

var composerIndexQuery = sqlext.SimplifyWhitespace(`
	SELECT document, repo_id FROM package_documents WHERE format = 'composer' ORDER BY name
`)

// This implements the GET /packages.json endpoint.
func (a *API) handleComposerIndex(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/packages.json")
	authz := a.authorize(w, r)
	if authz == nil {
		return
	}

	type documentInfo struct {
		Document string
		RepoID   int64
	}
	var documents []documentInfo
	err := sqlext.ForeachRow(a.db, composerIndexQuery, nil, func(rows *sql.Rows) error {
		var d documentInfo
		err := rows.Scan(&d.Document, &d.RepoID)
		if err == nil {
			documents = append(documents, d)
		}
		return err
	})
	if respondWithDBError(w, err) {
		return
	}

	// merge the "packages" objects of all documents that this token may see
	allPackages := make(map[string]json.RawMessage)
	accessibleRepos := make(map[int64]bool)
	for _, d := range documents {
		accessible, checked := accessibleRepos[d.RepoID]
		if !checked {
			repo, err := packgate.FindRepositoryByID(a.db, d.RepoID)
			if respondWithDBError(w, err) {
				return
			}
			if repo != nil {
				accessible, err = a.authorizer.CanAccessRepository(*authz, *repo)
				if respondWithDBError(w, err) {
					return
				}
			}
			accessibleRepos[d.RepoID] = accessible
		}
		if !accessible {
			continue
		}

		var doc struct {
			Packages map[string]json.RawMessage `json:"packages"`
		}
		err = json.Unmarshal([]byte(d.Document), &doc)
		if err != nil {
			logg.Error("corrupted composer document for repo %d: %s", d.RepoID, err.Error())
			continue
		}
		for name, versions := range doc.Packages {
			allPackages[name] = versions
		}
	}

	respondwith.JSON(w, http.StatusOK, map[string]any{
		"packages":     allPackages,
		"metadata-url": "/p/%package%.json",
	})
}

// This implements the GET /p/{vendor}/{package}.json endpoint.
func (a *API) handleComposerPackage(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/p/:vendor/:package.json")
	authz := a.authorize(w, r)
	if authz == nil {
		return
	}

	vars := mux.Vars(r)
	packageName := vars["vendor"] + "/" + vars["package"]
	doc, err := a.findPackageDocument(r, models.FormatComposer, packageName)
	if errors.Is(err, sql.ErrNoRows) {
		respondWithNotFound(w)
		return
	}
	if respondWithDBError(w, err) {
		return
	}

	repo, err := packgate.FindRepositoryByID(a.db, doc.RepositoryID)
	if respondWithDBError(w, err) {
		return
	}
	if repo == nil || !a.checkRepoAccess(w, *authz, *repo) {
		if repo == nil {
			respondWithNotFound(w)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc.Document)) //nolint:errcheck
}

// This implements the GET /dist/{owner}/{repo}/{ref}.zip endpoint.
func (a *API) handleComposerDist(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/dist/:owner/:repo/:ref.zip")
	repo := a.findRepoForDownload(w, r, models.FormatComposer)
	if repo == nil {
		return
	}

	archive, err := a.fetcher.DownloadArchive(r.Context(), repo.FullName, repo.Credential, mux.Vars(r)["ref"], "zip")
	if errors.Is(err, upstream.ErrNotFound) {
		respondWithNotFound(w)
		return
	}
	if err != nil {
		logg.Error("cannot download archive for %s: %s", repo.FullName, err.Error())
		respondwith.JSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		return
	}
	defer archive.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	api.PackageDownloadsCounter.WithLabelValues("composer").Inc()
	_, err = io.Copy(w, archive)
	if err != nil {
		logg.Error("while streaming archive for %s: %s", repo.FullName, err.Error())
	}
}
