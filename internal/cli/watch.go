package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/eventbus"
	"github.com/c0deZ3R0/go-offline-kit/storage/postgres"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	For time.Duration
}

// EventOutput is the JSON form of one engine event.
type EventOutput struct {
	At         time.Time `json:"at"`
	Type       string    `json:"type"`
	Collection string    `json:"collection,omitempty"`
	RecordID   string    `json:"record_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	Path       string    `json:"path,omitempty"`
	Seq        int64     `json:"seq,omitempty"`
	Synced     int       `json:"synced,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the engine in the background and print its events",
		Long: `Start the engine with the health prober and the replication schedule, and
print every event it raises. Queued writes are replayed as soon as the remote
becomes reachable. With the postgres driver, writes queued by other processes
sharing the database are printed as well.

Examples:
  offlinectl watch
  offlinectl watch --for 1m --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.For > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.For)
				defer cancel()
			}
			return runWatch(ctx, opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.For, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) error {
	store, err := openBackend(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	engine, err := buildEngine(opts.RootOptions, longRunning, store)
	if err != nil {
		return err
	}
	defer engine.Close()

	p := printer{format: opts.Format, w: cmd.OutOrStdout()}
	stream := engine.Bus().Channel(256)
	defer stream.Close()

	if pg, ok := store.(*postgres.Store); ok {
		ql, err := pg.ListenQueue(ctx, func(change postgres.QueueChange) {
			opts.Logger.Info("Shared queue changed",
				"action", change.Action,
				"seq", change.Seq,
				"collection", change.Collection.String())
		})
		if err != nil {
			opts.Logger.Warn("Queue listener unavailable", "error", err)
		} else {
			defer ql.Close()
		}
	}

	if err := engine.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	for {
		select {
		case <-ctx.Done():
			engine.Stop()
			if n := stream.Dropped(); n > 0 {
				opts.Logger.Warn("Events dropped", "count", n)
			}
			return nil
		case ev, ok := <-stream.C:
			if !ok {
				return nil
			}
			if err := printEvent(p, ev); err != nil {
				return err
			}
		}
	}
}

func printEvent(p printer, ev eventbus.Event) error {
	out := EventOutput{
		At:         ev.At,
		Type:       ev.Type.String(),
		Collection: ev.Collection.String(),
		RecordID:   ev.RecordID,
		Method:     ev.Method,
		Path:       ev.Path,
		Seq:        ev.Seq,
		Synced:     ev.Synced,
	}
	return p.print(out, func(w io.Writer) {
		line := fmt.Sprintf("%s %s", out.At.Format(time.RFC3339), out.Type)
		if out.Collection != "" {
			line += " " + out.Collection
			if out.RecordID != "" {
				line += "/" + out.RecordID
			}
		}
		if out.Method != "" {
			line += fmt.Sprintf(" %s %s #%d", out.Method, out.Path, out.Seq)
		}
		if ev.Type == eventbus.EventSyncComplete {
			line += fmt.Sprintf(" synced=%d", out.Synced)
		}
		fmt.Fprintln(w, line)
	})
}
