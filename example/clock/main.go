// Command clock serves the clock MCP server over stdio or SSE.
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
	_ "time/tzdata"

	mcp "github.com/MegaGrindStone/go-mcp-clock"
	"github.com/MegaGrindStone/go-mcp-clock/servers/clock"
)

var version = "dev"

const (
	shutdownTimeout = 5 * time.Second
	instructions    = "Use the current_time tool to tell the time in the timezone of the session. " +
		"Read timezones://continents to discover timezone identifiers by continent."
)

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	if cfg.PrintConfigSchema {
		fmt.Println(string(clock.ConfigSchema()))
		return
	}

	// Logs always go to stderr, on stdio transport stdout carries the protocol.
	logger := cfg.newLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	clockSrv := clock.NewServer(
		clock.WithDefaultTimezone(cfg.DefaultTimezone),
		clock.WithLogger(logger),
	)

	info := mcp.Info{Name: "Clock", Version: version}
	opts := []mcp.ServerOption{
		mcp.WithToolServer(clockSrv),
		mcp.WithResourceServer(clockSrv),
		mcp.WithLogHandler(clockSrv),
		mcp.WithInstructions(instructions),
		mcp.WithServerPingInterval(cfg.PingInterval),
		mcp.WithServerLogger(logger),
		mcp.WithServerOnClientConnected(func(id string, info mcp.Info) {
			logger.Info("client connected",
				slog.String("sessionID", id),
				slog.String("client", info.Name),
				slog.String("clientVersion", info.Version))
		}),
		mcp.WithServerOnClientDisconnected(func(id string) {
			logger.Info("client disconnected", slog.String("sessionID", id))
		}),
	}

	switch cfg.Transport {
	case transportSSE:
		return runSSE(ctx, cfg, logger, clockSrv, info, opts)
	default:
		return runStdIO(ctx, cfg, logger, clockSrv, info, opts)
	}
}

func runStdIO(
	ctx context.Context,
	cfg config,
	logger *slog.Logger,
	clockSrv *clock.Server,
	info mcp.Info,
	opts []mcp.ServerOption,
) error {
	sessionConfig := mcp.SessionConfig{}
	if cfg.Timezone != "" {
		sessionConfig["timezone"] = cfg.Timezone
	}

	transport := mcp.NewStdIO(os.Stdin, os.Stdout,
		mcp.WithStdIOConfig(sessionConfig),
		mcp.WithStdIOLogger(logger),
	)
	srv := mcp.NewServer(info, transport, opts...)

	served := make(chan struct{})
	go func() {
		defer close(served)
		srv.Serve()
	}()

	logger.Info("serving on stdio")

	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case <-served:
		logger.Info("stdin closed, shutting down")
	}

	return shutdown(clockSrv, srv, nil)
}

func runSSE(
	ctx context.Context,
	cfg config,
	logger *slog.Logger,
	clockSrv *clock.Server,
	info mcp.Info,
	opts []mcp.ServerOption,
) error {
	sse := mcp.NewSSEServer(
		cfg.BaseURL+"/message",
		mcp.WithSSEServerLogger(logger),
		mcp.WithSSEServerConfigValidator(clockSrv.ValidateSessionConfig),
	)
	srv := mcp.NewServer(info, sse, opts...)

	mux := http.NewServeMux()
	mux.Handle("/sse", sse.HandleSSE())
	mux.Handle("/message", sse.HandleMessage())

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go srv.Serve()

	errs := make(chan error, 1)
	go func() {
		logger.Info("serving on sse", slog.String("addr", cfg.Addr), slog.String("baseURL", cfg.BaseURL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-errs:
		serveErr = fmt.Errorf("failed to serve http: %w", err)
	}

	if err := shutdown(clockSrv, srv, httpSrv); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// shutdown stops the components in dependency order: the clock log stream first, since
// the MCP server waits for it, then the MCP server, then the HTTP listener.
func shutdown(clockSrv *clock.Server, srv mcp.Server, httpSrv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	clockSrv.Close()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown mcp server: %w", err)
	}

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}

	return nil
}
