// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package janitorcmd

import (
	"net/http"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	"github.com/sapcc/packgate/internal/packgate"
	"github.com/sapcc/packgate/internal/storage"
	"github.com/sapcc/packgate/internal/syncer"
	"github.com/sapcc/packgate/internal/tasks"
	"github.com/sapcc/packgate/internal/upstream"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Run the packgate-janitor server component.",
		Long:  "Run the packgate-janitor server component. Configuration is read from environment variables as described in README.md.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_, _ = cmd, args

	bininfo.SetTaskName("janitor")

	cfg := packgate.ParseConfiguration()
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)

	dbURL, dbName := packgate.GetDatabaseURLFromEnvironment()
	dbConn := must.Return(easypg.Connect(dbURL, packgate.DBConfiguration()))
	prometheus.MustRegister(sqlstats.NewStatsCollector(dbName, dbConn))
	db := packgate.InitORM(dbConn)

	sd := must.Return(storage.NewFilesystemDriver(osext.MustGetenv("PACKGATE_STORAGE_PATH")))
	fetcher := upstream.NewClient(cfg.UpstreamAPIURL, cfg.UpstreamTimeout)
	sync := syncer.New(db, fetcher, cfg)

	// start job loops
	janitor := tasks.NewJanitor(cfg, sd, db, sync)
	go janitor.AbandonedUploadCleanupJob(nil).Run(ctx)
	go janitor.RepositorySyncJob(nil).Run(ctx, jobloop.NumGoroutines(2))
	go janitor.BlobSweepJob(nil).Run(ctx)

	// start HTTP server for Prometheus metrics and health check
	handler := httpapi.Compose(httpapi.HealthCheckAPI{SkipRequestLog: true})
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())
	listenAddress := osext.GetenvOrDefault("PACKGATE_JANITOR_LISTEN_ADDRESS", ":8080")
	must.Succeed(httpext.ListenAndServeContext(ctx, listenAddress, mux))
}
