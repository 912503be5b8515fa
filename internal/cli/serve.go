package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/record"
	"github.com/c0deZ3R0/go-offline-kit/remote/devserver"
)

// ServeRemoteOptions holds flags for the serve-remote command.
type ServeRemoteOptions struct {
	*RootOptions
	Addr    string
	Latency time.Duration
}

// NewServeRemoteCommand creates the serve-remote command.
func NewServeRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeRemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve-remote",
		Short: "Run the reference REST remote",
		Long: `Serve the in-memory reference remote: one endpoint per collection,
revisioned documents, 409 on stale revisions and Idempotency-Key dedupe.

Examples:
  offlinectl serve-remote --addr :8080
  offlinectl serve-remote --latency 200ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeRemote(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().DurationVar(&opts.Latency, "latency", 0, "delay every response")

	return cmd
}

func runServeRemote(ctx context.Context, opts *ServeRemoteOptions, cmd *cobra.Command) error {
	addr := opts.Addr
	if addr == "" {
		addr = opts.Config.Server.Addr
	}
	overrides, err := opts.Config.EndpointOverrides()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid endpoints", err)
	}

	server := devserver.New(
		devserver.WithLogger(opts.Logger),
		devserver.WithEndpoints(record.DefaultEndpoints().With(overrides)),
	)
	server.SetLatency(opts.Latency)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving reference remote on %s\n", ln.Addr())
	opts.Logger.Info("Reference remote listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	<-errc
	opts.Logger.Info("Reference remote stopped")
	return nil
}
