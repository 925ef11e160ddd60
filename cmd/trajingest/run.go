package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chararch/trajingest"
	"github.com/chararch/trajingest/internal/logs"
	"github.com/chararch/trajingest/metrics"
	"github.com/chararch/trajingest/status"
)

func newRunCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest the source into the sink",
		Example: `  trajingest run --source /data/taxi --sink postgres --dsn postgres://gis@localhost/gis --table trajectory
  trajingest run --source gis@10.0.0.5:/data/taxi --key-file ~/.ssh/id_rsa --workers 8
  TRAJINGEST_SINK_DSN=... trajingest run -c ingest.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := LoadSettings(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runIngest(cmd, s)
		},
	}
	flags := cmd.Flags()
	flags.String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9100")
	flags.String("source", "", "source directory, user@host:/dir, sftp://, ftp:// or file:// url")
	flags.String("suffix", "", "only ingest files with this suffix (default .tbl)")
	flags.String("pattern", "", "only ingest files matching this glob")
	flags.String("key-file", "", "ssh private key for sftp sources")
	flags.String("known-hosts", "", "known_hosts file for sftp sources (default ~/.ssh/known_hosts)")
	flags.Bool("insecure", false, "skip sftp host key verification")
	flags.String("sink", "", "sink driver: postgres, mysql or memory")
	flags.String("dsn", "", "sink database dsn")
	flags.String("table", "", "target table")
	flags.String("lock-table", "", "table locked in SHARE UPDATE EXCLUSIVE mode during each postgres batch")
	flags.Int("workers", 0, "number of parallel lanes")
	flags.Int("batch-size", 0, "initial target batch size in files")
	flags.Bool("adaptive", true, "adapt the batch size to the observed throughput")
	flags.String("retry-policy", "", "what to do with the files of a rolled back batch: none, individually or split")
	flags.Bool("skip-failed-on-resume", false, "do not retry failed files on the next run")
	flags.Bool("stop-on-lane-failure", false, "stop every lane once one lane fails")
	return cmd
}

func runIngest(cmd *cobra.Command, s *Settings) error {
	level, err := logs.ParseLevel(s.LogLevel)
	if err != nil {
		return err
	}
	logger := logs.NewLogger(os.Stderr, level)
	trajingest.SetLogger(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := newEnumerator(s.Source)
	if err != nil {
		return err
	}
	layout, err := s.Layout.RecordLayout()
	if err != nil {
		return err
	}
	connector, closer, err := newSink(s.Sink, layout.DefaultSRID)
	if err != nil {
		return err
	}
	defer closer.Close()
	store, err := openCheckpoint(ctx, s.Checkpoint, s.Name)
	if err != nil {
		return errors.Wrap(err, "open checkpoint")
	}
	if store != nil {
		defer store.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}
	if s.MetricsAddr != "" {
		srv := serveMetrics(ctx, logger, s.MetricsAddr, reg)
		defer srv.Close()
	}

	builder := trajingest.NewPipeline(s.Name).
		Config(s.Pipeline).
		Layout(layout).
		Source(source).
		Sink(connector).
		Recorder(recorder).
		Listener(&progressPrinter{w: cmd.OutOrStdout(), start: time.Now()})
	if store != nil {
		builder.Checkpoint(store, store)
	}
	pipeline, err := builder.Build()
	if err != nil {
		return err
	}

	report, err := pipeline.Run(ctx)
	if report != nil {
		renderReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return err
	}
	switch report.Status {
	case status.COMPLETED:
		if report.Failed > 0 {
			return errors.Errorf("%d units failed", report.Failed)
		}
		return nil
	case status.STOPPED:
		return errors.Errorf("stopped with %d units incomplete, run again to resume", report.Incomplete)
	}
	return errors.Errorf("run %v: %v", report.Status, report.Err)
}

func serveMetrics(ctx context.Context, logger logs.Logger, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server failed, addr:%v, err:%v", addr, err)
		}
	}()
	logger.Info(ctx, "serving metrics on %v/metrics", addr)
	return srv
}
