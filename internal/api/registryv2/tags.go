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
)

var tagsListQuery = sqlext.SimplifyWhitespace(`
	SELECT name FROM tags WHERE repo_id = $1 AND (name > $2 OR $2 = '') ORDER BY name LIMIT $3
`)

// This implements the GET /v2/<repository>/tags/list endpoint.
func (a *API) handleListTags(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/v2/:repo/tags/list")
	repo, _ := a.checkRepoAccess(w, r, failIfRepoMissing)
	if repo == nil {
		return
	}

	limit, lastTagName, rerr := parsePaginationQuery(r)
	if rerr != nil {
		rerr.WriteAsRegistryV2ResponseTo(w)
		return
	}

	var tagNames []string
	err := sqlext.ForeachRow(a.db, tagsListQuery, []any{repo.ID, lastTagName, limit + 1}, func(rows *sql.Rows) error {
		var name string
		err := rows.Scan(&name)
		if err == nil {
			tagNames = append(tagNames, name)
		}
		return err
	})
	if respondWithError(w, err) {
		return
	}

	if uint64(len(tagNames)) > limit {
		tagNames = tagNames[:limit]
		linkQuery := url.Values{}
		linkQuery.Set("n", strconv.FormatUint(limit, 10))
		linkQuery.Set("last", tagNames[len(tagNames)-1])
		linkURL := url.URL{
			Path:     fmt.Sprintf("/v2/%s/tags/list", repo.Name),
			RawQuery: linkQuery.Encode(),
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, linkURL.String()))
	}
	if tagNames == nil {
		tagNames = []string{}
	}

	respondwith.JSON(w, http.StatusOK, map[string]any{
		"name": repo.Name,
		"tags": tagNames,
	})
}
