// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"strconv"

	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/audittools"

	"github.com/sapcc/packgate/internal/models"
)

// UserInfo returns an audittools.UserInfo describing the requester, or nil
// for anonymous requests.
func (a Authorization) UserInfo() audittools.UserInfo {
	if a.Token == nil {
		return nil
	}
	return tokenUserInfo{*a.Token}
}

// tokenUserInfo provides the audittools.NonStandardUserInfo interface for
// requests authenticated by an access token. Tokens are not backed by
// Keystone users, so most fields of the regular UserInfo interface are empty.
type tokenUserInfo struct {
	token models.Token
}

// AsInitiator implements the audittools.NonStandardUserInfo interface.
func (u tokenUserInfo) AsInitiator() cadf.Resource {
	return cadf.Resource{
		TypeURI: "service/package-registry/token",
		Name:    u.token.Name,
		ID:      strconv.FormatInt(u.token.ID, 10),
	}
}

func (u tokenUserInfo) UserUUID() string {
	return strconv.FormatInt(u.token.ID, 10)
}

func (u tokenUserInfo) UserName() string {
	return u.token.Name
}

func (u tokenUserInfo) UserDomainName() string          { return "" }
func (u tokenUserInfo) ProjectScopeUUID() string        { return "" }
func (u tokenUserInfo) ProjectScopeName() string        { return "" }
func (u tokenUserInfo) ProjectScopeDomainName() string  { return "" }
func (u tokenUserInfo) DomainScopeUUID() string         { return "" }
func (u tokenUserInfo) DomainScopeName() string         { return "" }
func (u tokenUserInfo) ApplicationCredentialID() string { return "" }
