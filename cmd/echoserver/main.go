// echoserver is a WebSocket peer for exercising rtclient by hand.
// It answers {"type":"ping"} with {"type":"pong"} (JSON text or protobuf binary
// frames) and echoes everything else.
//
// Usage: go run ./cmd/echoserver --addr :8080 --drop-after 20
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	path := flag.String("path", "/ws", "WebSocket endpoint path")
	protocols := flag.String("protocols", "rtlink.v1", "comma-separated subprotocols to accept")
	dropAfter := flag.Int("drop-after", 0, "kill each connection after this many frames (0 = never)")
	silent := flag.Bool("silent", false, "never answer ping messages")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	opts := echoOptions{
		DropAfter: *dropAfter,
		Silent:    *silent,
	}
	if *protocols != "" {
		opts.Protocols = strings.Split(*protocols, ",")
	}

	mux := http.NewServeMux()
	mux.Handle(*path, newEchoHandler(opts, logger))

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("starting echo server",
			"addr", *addr,
			"path", *path,
			"drop_after", *dropAfter,
			"silent", *silent,
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("echo server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("echo server stopped")
}
