package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/internal/certs"
	"github.com/zsiec/lens/internal/config"
	"github.com/zsiec/lens/internal/ingest"
	quicingest "github.com/zsiec/lens/internal/ingest/quic"
	srtingest "github.com/zsiec/lens/internal/ingest/srt"
	"github.com/zsiec/lens/internal/pipeline"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run SRT and QUIC ingest listeners that identify incoming streams",
		Long: `Serve accepts SRT and QUIC publishers. Every connection is probed against
the registered formats, demuxed, and its per-stream packet counters logged
when the session ends.

Without --config the built-in defaults apply (SRT on :6000, QUIC on :6121).
Run "lens config init" to write an annotated config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	var cert *certs.CertInfo
	if cfg.Serve.QUICListen != "" {
		slog.Info("generating self-signed certificate")
		c, err := certs.Generate(cfg.CertValidity())
		if err != nil {
			return fmt.Errorf("generating certificate: %w", err)
		}
		slog.Info("certificate generated",
			"fingerprint", c.FingerprintBase64(),
			"expires", c.NotAfter.Format(time.RFC3339),
		)
		cert = c
	}

	reg := defaultRegistry()

	g, ctx := errgroup.WithContext(ctx)

	// Create the session registry after the errgroup so the dispatch closure
	// captures the errgroup-derived context, ensuring pipelines shut down when
	// any listener fails.
	var sessions *ingest.Registry
	sessions = ingest.NewRegistry(nil, func(sess *ingest.Session) {
		handleSession(ctx, sess, sessions, reg)
	})

	slog.Info("lens starting",
		"version", version,
		"srt", cfg.Serve.SRTListen,
		"quic", cfg.Serve.QUICListen,
	)

	if cfg.Serve.SRTListen != "" {
		srv := srtingest.NewServer(cfg.Serve.SRTListen, sessions, nil)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	if cfg.Serve.QUICListen != "" {
		srv := quicingest.NewServer(cfg.Serve.QUICListen, cert, sessions, nil)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	return g.Wait()
}

// handleSession drives one ingest session through the demux pipeline and
// tears the session down when the pipeline returns. Unregistering closes the
// session pipe, which unblocks the transport's write loop if the pipeline
// stopped first.
func handleSession(ctx context.Context, sess *ingest.Session, sessions *ingest.Registry, reg *format.Registry) {
	defer sessions.Unregister(sess.ID)

	p := pipeline.New(sess.ID, reg, sess.Input(), nil)
	if err := p.Run(ctx); err != nil {
		slog.Error("pipeline error", "session", sess.ID, "error", err)
	}

	snap := p.Snapshot()
	slog.Info("session ended",
		"session", sess.ID,
		"transport", sess.Transport,
		"format", snap.Format,
		"packets", snap.Packets,
		"bytes", snap.Bytes,
	)
}
