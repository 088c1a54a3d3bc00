// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"net/netip"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"
)

func TestTokenIsUsable(t *testing.T) {
	now := time.Unix(10000, 0).UTC()
	earlier := now.Add(-1 * time.Hour)
	later := now.Add(+1 * time.Hour)

	assert.DeepEqual(t, "enabled token",
		Token{Enabled: true}.IsUsable(now), true)
	assert.DeepEqual(t, "disabled token",
		Token{Enabled: false}.IsUsable(now), false)
	assert.DeepEqual(t, "expired token",
		Token{Enabled: true, ExpiresAt: &earlier}.IsUsable(now), false)
	assert.DeepEqual(t, "not yet expired token",
		Token{Enabled: true, ExpiresAt: &later}.IsUsable(now), true)
}

func TestTokenMatchesIP(t *testing.T) {
	check := func(allowedIPs, addrStr string, expected bool) {
		t.Helper()
		token := Token{AllowedIPs: allowedIPs}
		actual := token.MatchesIP(netip.MustParseAddr(addrStr))
		if actual != expected {
			t.Errorf("expected MatchesIP(%q) on allowed_ips=%q to be %t", addrStr, allowedIPs, expected)
		}
	}

	// an empty list allows everything
	check("", "192.168.1.1", true)
	check("", "::1", true)

	check("10.0.0.0/8", "10.1.2.3", true)
	check("10.0.0.0/8", "11.1.2.3", false)
	check("10.0.0.0/8, 192.168.0.0/16", "192.168.1.1", true)
	check("10.0.0.0/8, 192.168.0.0/16", "172.16.0.1", false)

	// IPv4-mapped IPv6 addresses match IPv4 prefixes
	check("10.0.0.0/8", "::ffff:10.1.2.3", true)

	// plain addresses count as single-address prefixes
	check("10.1.2.3", "10.1.2.3", true)
	check("10.1.2.3", "10.1.2.4", false)
	check("fe80::1", "fe80::1", true)
	check("fe80::1", "fe80::2", false)
	check("10.1.2.3, 192.168.0.0/16", "192.168.1.1", true)

	// unparseable entries never match, but do not break the other entries
	check("not-a-cidr", "10.1.2.3", false)
	check("not-a-cidr, 10.0.0.0/8", "10.1.2.3", true)
}

func TestTokenMatchesDomain(t *testing.T) {
	check := func(allowedDomains, hostname string, expected bool) {
		t.Helper()
		token := Token{AllowedDomains: allowedDomains}
		if token.MatchesDomain(hostname) != expected {
			t.Errorf("expected MatchesDomain(%q) on allowed_domains=%q to be %t", hostname, allowedDomains, expected)
		}
	}

	// an empty list allows everything
	check("", "anything.example.com", true)

	check("example.com", "example.com", true)
	check("example.com", "sub.example.com", true)
	check("example.com", "deeply.nested.sub.example.com", true)
	check("example.com", "example.org", false)
	// suffix matching only applies at label boundaries
	check("example.com", "notexample.com", false)

	check("example.com, example.org", "example.org", true)
	check("Example.COM", "sub.EXAMPLE.com", true)
}
