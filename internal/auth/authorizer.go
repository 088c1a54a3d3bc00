// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the token-based access control for all APIs.
// Tokens are opaque strings that are looked up in the database on each
// request. Frontends present them either as a bearer token or as the
// password of a basic-auth pair (package managers commonly only support the
// latter).
package auth

import (
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/packgate/internal/models"
	"github.com/sapcc/packgate/internal/packgate"
)

// Authorization describes the access rights of one request.
type Authorization struct {
	// Token is nil for anonymous requests.
	Token *models.Token
}

// IsAnonymous returns whether this request did not present a usable token.
func (a Authorization) IsAnonymous() bool {
	return a.Token == nil
}

// Authorizer checks request credentials against the `tokens` table.
type Authorizer struct {
	db      *packgate.DB
	timeNow func() time.Time
}

// NewAuthorizer initializes an Authorizer.
func NewAuthorizer(db *packgate.DB) *Authorizer {
	return &Authorizer{db: db, timeNow: time.Now}
}

// OverrideTimeNow replaces time.Now with a test double.
func (a *Authorizer) OverrideTimeNow(timeNow func() time.Time) *Authorizer {
	a.timeNow = timeNow
	return a
}

// tokenFromRequest extracts the token string from the request, or "" if no
// credentials were presented.
func tokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(authHeader, "Bearer "):
		return strings.TrimPrefix(authHeader, "Bearer ")
	case strings.HasPrefix(authHeader, "token "):
		return strings.TrimPrefix(authHeader, "token ")
	case authHeader != "":
		// basic auth: the token travels in the password field, the username is ignored
		_, password, ok := r.BasicAuth()
		if ok {
			return password
		}
		return ""
	default:
		return ""
	}
}

func sourceAddrOf(r *http.Request) (netip.Addr, bool) {
	// we only trust the leftmost X-Forwarded-For entry if there is one
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		addr, err := netip.ParseAddr(strings.TrimSpace(first))
		if err == nil {
			return addr, true
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	return addr, err == nil
}

func refererHostOf(r *http.Request) string {
	referer := r.Header.Get("Referer")
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// AuthorizeRequest evaluates the credentials of the given request. A request
// without credentials yields an anonymous Authorization without error.
// Invalid or restricted credentials yield ErrUnauthorized.
func (a *Authorizer) AuthorizeRequest(r *http.Request) (Authorization, *packgate.RegistryV2Error) {
	tokenStr := tokenFromRequest(r)
	if tokenStr == "" {
		return Authorization{}, nil
	}

	token, err := packgate.FindToken(a.db, tokenStr)
	if err != nil {
		return Authorization{}, packgate.AsRegistryV2Error(err)
	}
	if token == nil || !token.IsUsable(a.timeNow()) {
		return Authorization{}, packgate.ErrUnauthorized.With("invalid token")
	}

	if addr, ok := sourceAddrOf(r); ok && !token.MatchesIP(addr) {
		return Authorization{}, packgate.ErrUnauthorized.With("token not valid from %s", addr)
	}
	if hostname := refererHostOf(r); hostname != "" && !token.MatchesDomain(hostname) {
		return Authorization{}, packgate.ErrUnauthorized.With("token not valid for origin %s", hostname)
	}

	a.recordTokenUse(*token)
	return Authorization{Token: token}, nil
}

// recordTokenUse updates tokens.last_used_at with a coarse granularity to
// avoid one UPDATE per request.
func (a *Authorizer) recordTokenUse(token models.Token) {
	now := a.timeNow()
	if token.LastUsedAt != nil && now.Sub(*token.LastUsedAt) < time.Minute {
		return
	}
	_, err := a.db.Exec("UPDATE tokens SET last_used_at = $1 WHERE id = $2", now, token.ID)
	if err != nil {
		logg.Error("cannot update last_used_at for token %d: %s", token.ID, err.Error())
	}
}

// CanAccessRepository returns whether this authorization may read packages
// of the given repository.
func (a *Authorizer) CanAccessRepository(authz Authorization, repo models.Repository) (bool, error) {
	if repo.Visibility == models.RepositoryPublic {
		return true, nil
	}
	if authz.IsAnonymous() {
		return false, nil
	}
	return packgate.TokenHasRepoAccess(a.db, *authz.Token, repo.ID)
}

// CanPush returns whether this authorization may push to the Docker
// registry. Pushing requires any usable token since Docker repositories are
// not tied to mirrored repositories.
func (a *Authorizer) CanPush(authz Authorization) bool {
	return !authz.IsAnonymous()
}
