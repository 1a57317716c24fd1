package cmd

import (
	"context"
	"errors"
	net_http "net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apksignd/apksignd/server"
	"github.com/apksignd/apksignd/server/http"
	"github.com/apksignd/apksignd/server/http/middleware"
	"github.com/apksignd/apksignd/server/telemetry"
	"github.com/apksignd/apksignd/util"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "start the signing service",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := util.InitLog(logLevel, logFile)
		if err != nil {
			return err
		}

		config, err := server.LoadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		appMetrics, err := telemetry.NewDefaultAppMetrics(ctx)
		if err != nil {
			return err
		}
		if err := appMetrics.Expose(ctx, config.MetricsPort, ""); err != nil {
			return err
		}

		incomingStore, err := server.NewFileStore("incoming", config.IncomingDir())
		if err != nil {
			return err
		}
		signedStore, err := server.NewFileStore("signed", config.SignedDir())
		if err != nil {
			return err
		}

		signer := server.NewKeystoreSigner(config.Keystore, config.SignTimeout)
		manager := server.NewArtifactManager(config, signer, incomingStore, signedStore, appMetrics.PipelineMetrics())

		sweeper := server.NewRetentionSweeper(
			server.NewDefaultScheduler(),
			config.Retention,
			appMetrics.PipelineMetrics(),
			incomingStore, signedStore,
		)
		sweeper.Start()
		defer sweeper.Stop()

		rateLimiter := middleware.NewRateLimitMiddleware(float64(config.RateLimitPerMinute), config.RateLimitBurst)
		defer rateLimiter.Stop()

		handler, err := http.APIHandler(config, manager, appMetrics, rateLimiter)
		if err != nil {
			return err
		}

		httpServer := &net_http.Server{
			Addr:              config.ListenAddress,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("HTTP API listening on %s", config.ListenAddress)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, net_http.ErrServerClosed) {
				log.Fatalf("failed to serve HTTP API: %v", err)
			}
		}()

		SetupCloseHandler()
		<-stopCh
		log.Info("shutting down signing service")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("HTTP server shutdown: %v", err)
		}
		if err := appMetrics.Close(); err != nil {
			log.Errorf("metrics close: %v", err)
		}
		return nil
	},
}
