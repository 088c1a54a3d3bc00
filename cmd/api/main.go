// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package apicmd

import (
	"net/http"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	"github.com/sapcc/packgate/internal/api/packages"
	"github.com/sapcc/packgate/internal/api/registryv2"
	"github.com/sapcc/packgate/internal/auth"
	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/storage"
	"github.com/sapcc/packgate/internal/syncer"
	"github.com/sapcc/packgate/internal/upstream"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the packgate-api server component.",
		Long:  "Run the packgate-api server component. Configuration is read from environment variables as described in README.md.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_, _ = cmd, args

	bininfo.SetTaskName("api")

	cfg := packgate.ParseConfiguration()
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)

	dbURL, dbName := packgate.GetDatabaseURLFromEnvironment()
	dbConn := must.Return(easypg.Connect(dbURL, packgate.DBConfiguration()))
	prometheus.MustRegister(sqlstats.NewStatsCollector(dbName, dbConn))
	db := packgate.InitORM(dbConn)

	sd := must.Return(storage.NewFilesystemDriver(osext.MustGetenv("PACKGATE_STORAGE_PATH")))
	fetcher := upstream.NewClient(cfg.UpstreamAPIURL, cfg.UpstreamTimeout)
	authorizer := auth.NewAuthorizer(db)
	sync := syncer.New(db, fetcher, cfg)
	auditor := must.Return(packgate.InitAuditTrail(ctx))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "DELETE", "PATCH"},
		AllowedHeaders: []string{"Content-Type", "User-Agent", "Authorization"},
	})
	handler := httpapi.Compose(
		registryv2.NewAPI(cfg, sd, db, authorizer, auditor),
		httpapi.HealthCheckAPI{
			SkipRequestLog: true,
			Check: func() error {
				return db.Db.PingContext(ctx)
			},
		},
		// This needs to be last because the npm routes are the fallback match
		// for all paths that are not otherwise defined.
		packages.NewAPI(cfg, db, authorizer, sync, fetcher),
		httpapi.WithGlobalMiddleware(corsMiddleware.Handler),
	)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	apiListenAddress := osext.GetenvOrDefault("PACKGATE_API_LISTEN_ADDRESS", ":8080")
	must.Succeed(httpext.ListenAndServeContext(ctx, apiListenAddress, mux))
}
