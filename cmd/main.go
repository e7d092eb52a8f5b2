package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/angeloszaimis/dev-proxy/config"
	"github.com/angeloszaimis/dev-proxy/internal/backend"
	"github.com/angeloszaimis/dev-proxy/internal/healthcheck"
	"github.com/angeloszaimis/dev-proxy/internal/httpserver"
	"github.com/angeloszaimis/dev-proxy/internal/route"
	"github.com/angeloszaimis/dev-proxy/internal/router"
	"github.com/angeloszaimis/dev-proxy/internal/tracing"
	"github.com/angeloszaimis/dev-proxy/pkg/logger"
)

const serviceName = "dev-proxy"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, shutdownTracing, err := tracing.Init(serviceName, cfg.Tracing.Enabled, os.Stdout)
	if err != nil {
		log.Error("Failed to initialize tracing", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error("Error flushing traces", slog.Any("err", err))
		}
	}()

	table, err := buildRouteTable(cfg, log)
	if err != nil {
		log.Error("Failed to build route table", slog.Any("err", err))
		os.Exit(1)
	}

	registry := backend.NewRegistry(transportOptions(cfg))
	rt := router.New(log, table, registry, router.WithTracerProvider(tp))

	if cfg.HealthCheck.Enabled {
		go healthcheck.Monitor(ctx, registry.Backends(), config.Duration(cfg.HealthCheck.Interval), log)
	}

	srv, err := httpserver.New(cfg.Server.Address, setupHandler(rt, cfg.Server.StaticDir), log)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		log.Info("Dev proxy listening", slog.String("address", cfg.Server.Address))
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting dev proxy", slog.Any("err", err))
			os.Exit(1)
		}
	}

	registry.CloseIdleConnections()
}

func buildRouteTable(cfg *config.Config, log *slog.Logger) (*route.Table, error) {
	rules := make([]route.Rule, 0, len(cfg.Routes))

	for _, rc := range cfg.Routes {
		r, err := route.NewRule(rc.Prefix, rc.Target, rc.ChangeOrigin)
		if err != nil {
			log.Error("Invalid route",
				slog.String("prefix", rc.Prefix),
				slog.String("target", rc.Target),
				slog.String("error", err.Error()))
			return nil, err
		}
		rules = append(rules, r)
	}

	return route.NewTable(rules)
}

func transportOptions(cfg *config.Config) backend.TransportOptions {
	return backend.TransportOptions{
		DialTimeout:           config.Duration(cfg.Proxy.DialTimeout),
		ResponseHeaderTimeout: config.Duration(cfg.Proxy.ResponseHeaderTimeout),
		IdleConnTimeout:       config.Duration(cfg.Proxy.IdleConnTimeout),
		MaxIdleConnsPerHost:   cfg.Proxy.MaxIdleConnsPerHost,
	}
}
