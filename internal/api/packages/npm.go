// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packages

import (
	"crypto/sha1" //nolint:gosec // npm's dist.shasum field is defined as SHA-1
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

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

// This implements the GET /{package} and GET /@{scope}/{package} endpoints.
func (a *API) handleNpmPackument(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/:package")
	authz := a.authorize(w, r)
	if authz == nil {
		return
	}

	vars := mux.Vars(r)
	packageName := vars["package"]
	if scope, exists := vars["scope"]; exists {
		packageName = "@" + scope + "/" + packageName
	}

	doc, err := a.findPackageDocument(r, models.FormatNpm, packageName)
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
	if repo == nil {
		respondWithNotFound(w)
		return
	}
	if !a.checkRepoAccess(w, *authz, *repo) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc.Document)) //nolint:errcheck
}

// This implements the GET /-/{owner}/{repo}/{ref}.tgz endpoint.
func (a *API) handleNpmTarball(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/-/:owner/:repo/:ref.tgz")
	repo := a.findRepoForDownload(w, r, models.FormatNpm)
	if repo == nil {
		return
	}
	refName := mux.Vars(r)["ref"]

	archive, err := a.fetcher.DownloadArchive(r.Context(), repo.FullName, repo.Credential, refName, "tar.gz")
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

	// the shasum in the packument starts out empty and is filled in with the
	// hash of the actual tarball contents on the first download
	hash := sha1.New() //nolint:gosec
	w.Header().Set("Content-Type", "application/gzip")
	w.WriteHeader(http.StatusOK)
	api.PackageDownloadsCounter.WithLabelValues("npm").Inc()
	_, err = io.Copy(w, io.TeeReader(archive, hash))
	if err != nil {
		logg.Error("while streaming archive for %s: %s", repo.FullName, err.Error())
		return
	}
	a.recordTarballShasum(*repo, refName, hex.EncodeToString(hash.Sum(nil)))
}

var npmDocumentsByRepoQuery = sqlext.SimplifyWhitespace(`
	SELECT name, document FROM package_documents WHERE format = 'npm' AND repo_id = $1
`)

// recordTarballShasum fills in the dist.shasum field for all package versions
// whose tarball URL points at the given ref. Failures only lose the shasum
// bookkeeping, so they are logged and swallowed.
func (a *API) recordTarballShasum(repo models.Repository, refName, shasum string) {
	tarballSuffix := fmt.Sprintf("/-/%s/%s/%s.tgz", repo.Owner(), repo.Name(), url.PathEscape(refName))

	type documentRow struct {
		Name     string
		Document string
	}
	var rows []documentRow
	err := sqlext.ForeachRow(a.db, npmDocumentsByRepoQuery, []any{repo.ID}, func(dbRows *sql.Rows) error {
		var row documentRow
		err := dbRows.Scan(&row.Name, &row.Document)
		if err == nil {
			rows = append(rows, row)
		}
		return err
	})
	if err != nil {
		logg.Error("cannot load npm documents for %s: %s", repo.FullName, err.Error())
		return
	}

	for _, row := range rows {
		var packument map[string]any
		err := json.Unmarshal([]byte(row.Document), &packument)
		if err != nil {
			continue
		}
		versions, _ := packument["versions"].(map[string]any)
		changed := false
		for _, versionDoc := range versions {
			versionMap, _ := versionDoc.(map[string]any)
			dist, _ := versionMap["dist"].(map[string]any)
			if dist == nil {
				continue
			}
			tarball, _ := dist["tarball"].(string)
			existing, _ := dist["shasum"].(string)
			if existing == "" && strings.HasSuffix(tarball, tarballSuffix) {
				dist["shasum"] = shasum
				changed = true
			}
		}
		if !changed {
			continue
		}
		buf, err := json.Marshal(packument)
		if err != nil {
			continue
		}
		_, err = a.db.Exec(
			"UPDATE package_documents SET document = $1 WHERE format = 'npm' AND name = $2",
			string(buf), row.Name)
		if err != nil {
			logg.Error("cannot update shasum in npm document %s: %s", row.Name, err.Error())
		}
	}
}
