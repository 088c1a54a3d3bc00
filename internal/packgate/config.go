// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packgate

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
)

// Configuration contains all configuration values that we collect from the
// environment.
type Configuration struct {
	// URL under which the API is reachable from the outside. This appears in
	// generated package metadata (dist URLs, tarball URLs).
	APIPublicURL url.URL
	// Base URL of the upstream Git host API, e.g. "https://git.example.com".
	UpstreamAPIURL url.URL
	// Timeout for a single request to the upstream Git host.
	UpstreamTimeout time.Duration
	// Uploads that have not seen a chunk for this long are abandoned and swept.
	UploadExpiry time.Duration
	// How often each enabled repository is re-synced from upstream.
	SyncInterval time.Duration
	// Grace period between a blob being marked unreferenced and its deletion.
	BlobSweepDelay time.Duration
}

// ParseConfiguration obtains a packgate.Configuration instance from the
// corresponding environment variables. Aborts on error.
func ParseConfiguration() Configuration {
	cfg := Configuration{
		APIPublicURL:    mustGetenvURL("PACKGATE_API_PUBLIC_URL"),
		UpstreamAPIURL:  mustGetenvURL("PACKGATE_UPSTREAM_URL"),
		UpstreamTimeout: getenvDurationOrDefault("PACKGATE_UPSTREAM_TIMEOUT", 30*time.Second),
		UploadExpiry:    getenvDurationOrDefault("PACKGATE_UPLOAD_EXPIRY", 24*time.Hour),
		SyncInterval:    getenvDurationOrDefault("PACKGATE_SYNC_INTERVAL", 1*time.Hour),
		BlobSweepDelay:  getenvDurationOrDefault("PACKGATE_BLOB_SWEEP_DELAY", 4*time.Hour),
	}
	return cfg
}

// GetDatabaseURLFromEnvironment reads the PACKGATE_DB_* environment variables.
func GetDatabaseURLFromEnvironment() (dbURL url.URL, dbName string) {
	dbName = osext.GetenvOrDefault("PACKGATE_DB_NAME", "packgate")
	return must.Return(easypg.URLFrom(easypg.URLParts{
		HostName:          osext.GetenvOrDefault("PACKGATE_DB_HOSTNAME", "localhost"),
		Port:              osext.GetenvOrDefault("PACKGATE_DB_PORT", "5432"),
		UserName:          osext.GetenvOrDefault("PACKGATE_DB_USERNAME", "postgres"),
		Password:          os.Getenv("PACKGATE_DB_PASSWORD"),
		ConnectionOptions: os.Getenv("PACKGATE_DB_CONNECTION_OPTIONS"),
		DatabaseName:      dbName,
	})), dbName
}

func mustGetenvURL(key string) url.URL {
	val := osext.MustGetenv(key)
	parsed, err := url.Parse(val)
	if err != nil {
		logg.Fatal("malformed %s: %s", key, err.Error())
	}
	return *parsed
}

func getenvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := time.ParseDuration(val)
	if err != nil {
		logg.Fatal("malformed %s: %s", key, err.Error())
	}
	if result <= 0 {
		logg.Fatal("malformed %s: must be a positive duration", key)
	}
	return result
}

// CheckUpstreamCredential validates the shape of a repository access
// credential as provided on repository creation. An empty credential is
// allowed and means anonymous access.
func CheckUpstreamCredential(credential string) error {
	if credential == "" {
		return nil
	}
	if len(credential) > 512 {
		return fmt.Errorf("credential too long (%d bytes)", len(credential))
	}
	return nil
}
