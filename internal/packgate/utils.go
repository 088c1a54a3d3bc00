// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packgate

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
)

// GenerateStorageID generates a new random storage ID for use with
// storage.Driver.AppendToBlob().
func GenerateStorageID() string {
	var buf [32]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		panic(err.Error())
	}
	return hex.EncodeToString(buf[:])
}

// OriginalRequestURL returns the URL that the original requester used when
// sending an HTTP request. This inspects the X-Forwarded-* set of headers to
// identify reverse proxying.
func OriginalRequestURL(r *http.Request) url.URL {
	u := url.URL{
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	// case 1: we are behind a reverse proxy
	u.Host = r.Header.Get("X-Forwarded-Host")
	if u.Host != "" {
		u.Scheme = r.Header.Get("X-Forwarded-Proto")
		if u.Scheme == "" {
			u.Scheme = "http"
		}
		return u
	}

	// case 2: we are not behind a reverse proxy
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = r.Host
	return u
}

// AtLeastZero safely converts int or int64 values (which might come from
// DB.SelectInt() or from IO reads/writes) to uint64 by clamping negative
// values to 0.
func AtLeastZero[I interface{ int | int64 }](x I) uint64 {
	if x < 0 {
		return 0
	}
	return uint64(x)
}
