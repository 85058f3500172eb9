package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomledger/dpl/pkg/httpapi"
	"github.com/tomledger/dpl/pkg/log"
	"github.com/tomledger/dpl/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP veneer and metrics servers over a local Ledger",
	Long: `serve starts the SPEC_FULL.md §6 JSON-over-HTTP veneer (default
:19880) and the Prometheus /metrics endpoint (default :19881) in front of
one process-wide Ledger, so out-of-process participants can join and
drive operations remotely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		httpapi.Version = Version
		metrics.SetVersion(Version)
		metrics.RegisterComponent("signalbridge", true, "")

		l, err := newLedger(cmd.Context())
		if err != nil {
			metrics.RegisterComponent("store", false, err.Error())
			return err
		}
		defer l.Dispose()
		metrics.RegisterComponent("store", true, "")

		apiAddr := cfg.API.ListenAddr
		metricsAddr := cfg.Metrics.ListenAddr

		apiSrv := &http.Server{Addr: apiAddr, Handler: httpapi.NewServer(l)}

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsMux.Handle("/ready", metrics.ReadyHandler())
		metricsMux.Handle("/live", metrics.LivenessHandler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}

		errCh := make(chan error, 2)
		go func() { errCh <- serveOrNil(apiSrv) }()
		go func() { errCh <- serveOrNil(metricsSrv) }()
		metrics.RegisterComponent("api", true, "")

		fmt.Printf("dpl serve: api on %s, metrics on %s. Press Ctrl+C to stop.\n", apiAddr, metricsAddr)
		log.WithComponent("serve").Info().Str("api_addr", apiAddr).Str("metrics_addr", metricsAddr).Msg("dpl serve started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			if err != nil {
				fmt.Fprintf(os.Stderr, "\nserver error: %v\n", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		return nil
	},
}

func serveOrNil(srv *http.Server) error {
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
