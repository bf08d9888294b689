package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/praxislabs/agentd/internal/httpapi"
	"github.com/vinayprograms/agentkit/logging"
)

// Run starts the HTTP service and blocks until SIGINT or SIGTERM.
func (c *ServeCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger := logging.New().WithComponent("agentd")

	maxConns := cfg.Server.MaxConnections
	if maxConns == 0 {
		maxConns = cfg.Execution.MaxConcurrency * 4
	}
	server := httpapi.NewServer(cfg.Server.Addr, httpapi.NewRouter(rt.svc), maxConns)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("service started", map[string]interface{}{
		"addr":            cfg.Server.Addr,
		"max_concurrency": cfg.Execution.MaxConcurrency,
		"version":         version,
	})

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("signal received, draining", map[string]interface{}{
		"timeout": cfg.Server.ShutdownTimeout,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
