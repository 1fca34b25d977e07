package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/roach88/sessionstate/internal/api"
	"github.com/roach88/sessionstate/internal/logging"
	"github.com/roach88/sessionstate/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen     string
	PurgeEvery string

	// Ready, when set, receives the bound address once the server accepts
	// connections (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP",
		Long: `Start the HTTP session API with Prometheus metrics at /metrics.

Expired sessions are purged on the purgeEvery cron schedule.

Example:
  sessionstate serve --db ./sessions.db --listen :8080
  sessionstate serve -c sessionstate.cue --purge-every "@every 30s"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&opts.PurgeEvery, "purge-every", "", "expiry sweep cron spec (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	m := metrics.New()
	e, err := opts.openEnv(cmd, m)
	if err != nil {
		return err
	}
	defer e.Close()

	listen := e.cfg.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	purgeEvery := e.cfg.PurgeEvery
	if opts.PurgeEvery != "" {
		purgeEvery = opts.PurgeEvery
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if purgeEvery != "" {
		sweeper := cron.New()
		if _, err := sweeper.AddFunc(purgeEvery, func() {
			if _, err := e.p.PurgeExpired(ctx); err != nil {
				e.logger.Warn().Err(err).Msg("expiry sweep failed")
			}
		}); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid purge schedule %q", purgeEvery), err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	handler := api.NewServer(e.p,
		api.WithMetrics(m),
		api.WithLogger(logging.Component(e.logger, "http")),
		api.WithDefaultTimeout(e.cfg.Timeout),
	)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	addr := ln.Addr().String()
	e.logger.Info().Str("addr", addr).Str("backend", e.cfg.Backend).Msg("serving sessions")
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)
	if opts.Ready != nil {
		opts.Ready <- addr
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown error", err)
	}

	e.logger.Info().Msg("server stopped gracefully")
	return nil
}
