package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/netutil"

	"github.com/wudi/qrsheet/batch"
	"github.com/wudi/qrsheet/config"
	"github.com/wudi/qrsheet/observability"
	"github.com/wudi/qrsheet/server"
)

type options struct {
	configPath string
	addr       string
	logoPath   string
	store      bool
}

func main() {
	opts := parseFlags()
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "qrsheetd: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: qrsheetd [-config qrsheet.yaml] [-addr :8080]\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.configPath, "config", "", "Config file (yaml, json or toml)")
	flag.StringVar(&opts.addr, "addr", "", "Listen address (overrides server.addr)")
	flag.StringVar(&opts.logoPath, "logo", "", "Logo installed at startup")
	flag.BoolVar(&opts.store, "store", false, "Keep a copy of every document in the configured output")
	flag.Parse()
	return opts
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	zl, err := observability.NewZap(cfg.LogConfig())
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := observability.NewZapLogger(zl)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewPrometheus("qrsheet")
	bc, err := cfg.Batch()
	if err != nil {
		return err
	}
	orch, err := batch.New(bc,
		batch.WithLogger(logger),
		batch.WithTracer(observability.NewLogTracer(logger)),
		batch.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	if opts.logoPath != "" {
		data, err := os.ReadFile(opts.logoPath)
		if err != nil {
			return fmt.Errorf("read logo: %w", err)
		}
		if err := orch.SetLogo(data); err != nil {
			return err
		}
	}

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetricsHandler(metrics.Handler()),
		server.WithMaxLogoBytes(cfg.Server.MaxLogoBytes),
	}
	if opts.store {
		store, err := cfg.Sink(ctx, logger)
		if err != nil {
			return err
		}
		srvOpts = append(srvOpts, server.WithStore(store))
	}
	srv := server.New(orch, srvOpts...)

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	hs := &http.Server{
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()
	logger.Info("listening",
		observability.String("addr", ln.Addr().String()),
		observability.Int("max_conns", cfg.Server.MaxConns),
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

