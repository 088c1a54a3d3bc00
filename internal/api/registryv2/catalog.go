// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package registryv2

import (
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/packgate/internal/packgate"
)

const maxLimit = 100

var catalogQuery = sqlext.SimplifyWhitespace(`
	SELECT name FROM docker_repos WHERE name > $1 OR $1 = '' ORDER BY name LIMIT $2
`)

// This implements the GET /v2/_catalog endpoint.
func (a *API) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/_catalog")
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	_, rerr := a.authorizer.AuthorizeRequest(r)
	if rerr != nil {
		rerr.WithHeader("Www-Authenticate", `Basic realm="packgate"`).WriteAsRegistryV2ResponseTo(w)
		return
	}

	limit, lastRepoName, rerr := parsePaginationQuery(r)
	if rerr != nil {
		rerr.WriteAsRegistryV2ResponseTo(w)
		return
	}

	// query one row more than the limit to determine if there is a next page
	var repoNames []string
	err := sqlext.ForeachRow(a.db, catalogQuery, []any{lastRepoName, limit + 1}, func(rows *sql.Rows) error {
		var name string
		err := rows.Scan(&name)
		if err == nil {
			repoNames = append(repoNames, name)
		}
		return err
	})
	if respondWithError(w, err) {
		return
	}

	if uint64(len(repoNames)) > limit {
		repoNames = repoNames[:limit]
		linkQuery := url.Values{}
		linkQuery.Set("n", strconv.FormatUint(limit, 10))
		linkQuery.Set("last", repoNames[len(repoNames)-1])
		linkURL := url.URL{Path: "/v2/_catalog", RawQuery: linkQuery.Encode()}
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, linkURL.String()))
	}
	if repoNames == nil {
		repoNames = []string{}
	}

	respondwith.JSON(w, http.StatusOK, map[string]any{"repositories": repoNames})
}

// parsePaginationQuery parses the ?n= and ?last= query parameters that are
// shared by the catalog and tag list endpoints.
func parsePaginationQuery(r *http.Request) (limit uint64, last string, rerr *packgate.RegistryV2Error) {
	query := r.URL.Query()
	limit = maxLimit
	if limitStr := query.Get("n"); limitStr != "" {
		var err error
		limit, err = strconv.ParseUint(limitStr, 10, 64)
		if err != nil {
			return 0, "", packgate.ErrUnknown.With("invalid value for n: %s", err.Error()).WithStatus(http.StatusBadRequest)
		}
		if limit == 0 {
			return 0, "", packgate.ErrUnknown.With("n must be positive").WithStatus(http.StatusBadRequest)
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, query.Get("last"), nil
}
