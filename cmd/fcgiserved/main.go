// Command fcgiserved runs the FastCGI Server Core against a handler.Func,
// reading its configuration from the environment (see package config) and
// logging through zap (see package logging).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-fcgi/fcgiserver/cgienv"
	"github.com/go-fcgi/fcgiserver/config"
	"github.com/go-fcgi/fcgiserver/fastcgi"
	"github.com/go-fcgi/fcgiserver/logging"
	"github.com/go-fcgi/fcgiserver/response"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fcgiserved",
		Short: "Run the FastCGI server core against the built-in handler",
		Long: `fcgiserved accepts FastCGI connections from a front-end web server
(nginx, Apache, or any FCGI_* client) and dispatches each multiplexed
request to a handler.Func, per the engine's Responder-role semantics.

Configuration is read entirely from the environment; see package config
for the recognized FCGI_* and LOG_* variables.`,
		RunE: runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	srv := fastcgi.NewServer(fastcgi.Config{
		Network:      cfg.Server.Network,
		Address:      cfg.Server.Address,
		MaxConns:     cfg.Server.MaxConns,
		MaxReqs:      cfg.Server.MaxReqs,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}, defaultHandler, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("fcgiserved: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx, func() { logger.Info("shutdown complete") })
	}
}

// defaultHandler answers every request with a minimal JSON echo of the
// method and path it was dispatched with; real deployments wire their own
// handler.Func into fastcgi.NewServer instead of this one.
func defaultHandler(req *cgienv.Request, res *response.Response) error {
	return res.Json(map[string]any{
		"method": req.Method,
		"path":   req.Path,
	})
}
