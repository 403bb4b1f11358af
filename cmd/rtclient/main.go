// rtclient keeps a resilient WebSocket session open and logs (or records) what arrives.
// Usage: go run ./cmd/rtclient --config configs/rtclient.yaml
//
// With --send-stdin every stdin line of the form {"type": "...", "payload": ...}
// is sent through the manager, queued while the link is down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/rtlink/internal/config"
	"github.com/rickgao/rtlink/internal/connection"
	"github.com/rickgao/rtlink/internal/database"
	"github.com/rickgao/rtlink/internal/recorder"
	"github.com/rickgao/rtlink/internal/version"
)

const (
	shutdownTimeout  = 10 * time.Second
	statsLogInterval = 30 * time.Second
)

type options struct {
	verbose   bool
	sendStdin bool
}

func main() {
	configPath := flag.String("config", "configs/rtclient.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "log full message payloads")
	sendStdin := flag.Bool("send-stdin", false, "send each stdin line as a message")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting rtclient",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"url", cfg.Connection.URL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger, options{verbose: *verbose, sendStdin: *sendStdin}); err != nil {
		logger.Error("rtclient failed", "error", err)
		os.Exit(1)
	}
	logger.Info("rtclient stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts options) error {
	mc, codec, err := managerConfig(cfg.Connection)
	if err != nil {
		return err
	}

	registry := connection.NewRegistry(logger, connection.WithCodec(codec))
	mgr, err := registry.Register(mc)
	if err != nil {
		return err
	}
	defer registry.DisconnectAll()

	defer logLifecycle(mgr, logger)()
	defer printMessages(mgr, logger, opts.verbose)()

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		rec = recorder.New(recorderConfig(cfg.Recorder), pool, logger)
		if err := rec.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		defer rec.Attach(mgr)()
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := rec.Stop(shutdownCtx); err != nil {
				logger.Error("recorder stop failed", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Status.ServerEnabled() {
		statusServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Status.Port),
			Handler:           createStatusHandler(mgr, rec),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting status server", "port", cfg.Status.Port)
			if err := statusServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return statusServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := mgr.Connect(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			if !mc.Reconnect {
				return fmt.Errorf("initial connect: %w", err)
			}
			logger.Warn("initial connect failed, retrying in background", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		logStats(gctx, mgr, logger, statsLogInterval)
		return nil
	})

	if opts.sendStdin {
		// Not part of the group: a read on stdin cannot be interrupted.
		go sendLines(os.Stdin, mgr, logger)
	}

	err = g.Wait()
	// Close the session before the recorder's final flush.
	registry.DisconnectAll()
	return err
}

// logStats logs a stats line on every tick until ctx is done.
func logStats(ctx context.Context, m connection.Manager, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := m.Stats()
			logger.Info("connection stats",
				"state", st.State,
				"session_id", st.SessionID,
				"reconnect_attempts", st.ReconnectAttempts,
				"queued", st.QueuedMessageCount,
				"sent", st.MessagesSent,
				"received", st.MessagesReceived,
				"decode_errors", st.DecodeErrors,
			)
		}
	}
}
