// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"net/netip"
	"strings"
	"time"
)

// Token contains a record from the `tokens` table. Tokens are opaque bearer
// credentials that grant read access to private repositories. The set of
// repositories that a token can access is in the `token_repos` table.
type Token struct {
	ID      int64  `db:"id"`
	Token   string `db:"token"`
	Name    string `db:"name"`
	Enabled bool   `db:"enabled"`
	// ExpiresAt is nil for tokens that do not expire.
	ExpiresAt *time.Time `db:"expires_at"`
	// AllowedIPs is a comma-separated list of CIDR prefixes. An empty list
	// allows all source addresses.
	AllowedIPs string `db:"allowed_ips"`
	// AllowedDomains is a comma-separated list of domain suffixes matched
	// against the Referer header. An empty list allows all origins.
	AllowedDomains string     `db:"allowed_domains"`
	LastUsedAt     *time.Time `db:"last_used_at"`
}

// IsUsable returns whether this token is enabled and not expired.
func (t Token) IsUsable(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	if t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
		return false
	}
	return true
}

// MatchesIP evaluates the AllowedIPs restriction against a request source
// address.
func (t Token) MatchesIP(addr netip.Addr) bool {
	if t.AllowedIPs == "" {
		return true
	}
	for _, field := range strings.Split(t.AllowedIPs, ",") {
		field = strings.TrimSpace(field)
		prefix, err := netip.ParsePrefix(field)
		if err != nil {
			// plain addresses count as single-address prefixes
			ip, err := netip.ParseAddr(field)
			if err != nil {
				// an unparseable entry never matches
				continue
			}
			prefix = netip.PrefixFrom(ip, ip.BitLen())
		}
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// MatchesDomain evaluates the AllowedDomains restriction against a request
// origin hostname.
func (t Token) MatchesDomain(hostname string) bool {
	if t.AllowedDomains == "" {
		return true
	}
	hostname = strings.ToLower(hostname)
	for _, field := range strings.Split(t.AllowedDomains, ",") {
		domain := strings.ToLower(strings.TrimSpace(field))
		if domain == "" {
			continue
		}
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return true
		}
	}
	return false
}
