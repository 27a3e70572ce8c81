package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient"
	"github.com/openmediakit/msclient/internal/metrics"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Probe the server and expose Prometheus metrics",
	Long: `Ping the server at a fixed interval and expose the results on a
local /metrics endpoint. Runs until interrupted.

Example:
  msc monitor --listen :9137 --interval 15s`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	monitorListen   string
	monitorInterval time.Duration
)

func init() {
	monitorCmd.Flags().StringVar(&monitorListen, "listen", ":9137", "Metrics listen address")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 30*time.Second, "Probe interval")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              monitorListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, monitorInterval)
		defer cancel()
		start := time.Now()
		_, err := client.Api(probeCtx, "/", msclient.WithMaxRetry(0))
		elapsed := time.Since(start)
		metrics.RecordProbe(err == nil, elapsed)
		if err != nil {
			printer.Warn("probe failed: %v", err)
		} else {
			printer.Printf("probe ok in %s\n", elapsed.Round(time.Millisecond))
		}
	}

	printer.Info("serving metrics on %s, probing every %s", monitorListen, monitorInterval)
	probe()

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case err := <-errs:
			return err
		case <-ticker.C:
			probe()
		}
	}
}
