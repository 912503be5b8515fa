package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/offlinekit"
	"github.com/c0deZ3R0/go-offline-kit/record"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Replicate bool
}

// SyncOutput is the JSON form of a sync.
type SyncOutput struct {
	Attempted         int                 `json:"attempted"`
	Synced            int                 `json:"synced"`
	Failed            int                 `json:"failed"`
	ConflictsResolved int                 `json:"conflicts_resolved"`
	Duration          string              `json:"duration"`
	Refreshed         map[string]int      `json:"refreshed,omitempty"`
	Kept              int                 `json:"kept,omitempty"`
	Unreachable       []record.Collection `json:"unreachable,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued writes",
		Long: `Replay the queued writes in the order they were made. Writes that still
cannot be delivered stay queued. With --replicate every collection is then
refreshed from the remote, keeping local copies with a newer revision.

Exit codes:
  0 - Queue fully replayed
  1 - Some writes remain queued
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Replicate, "replicate", false, "refresh every collection after replaying")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	engine, err := newEngine(opts.RootOptions, oneShot)
	if err != nil {
		return err
	}
	defer engine.Close()

	var out SyncOutput
	var res offlinekit.SyncResult
	if opts.Replicate {
		rep, err := engine.Replicate(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "replication failed", err)
		}
		res = rep.Sync
		out.Refreshed = make(map[string]int, len(rep.Refreshed))
		for c, n := range rep.Refreshed {
			out.Refreshed[c.String()] = n
		}
		out.Kept = rep.Kept
		out.Unreachable = rep.Unreachable
	} else {
		res, err = engine.SyncNow(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "replay failed", err)
		}
	}
	out.Attempted = res.Attempted
	out.Synced = res.Synced
	out.Failed = res.Failed
	out.ConflictsResolved = res.ConflictsResolved
	out.Duration = res.Duration.Round(time.Millisecond).String()

	if err := (printer{format: opts.Format, w: cmd.OutOrStdout()}).print(out, func(w io.Writer) {
		fmt.Fprintf(w, "replayed %d of %d queued writes (%d conflicts resolved, %d left)\n",
			out.Synced, out.Attempted, out.ConflictsResolved, out.Failed)
		names := make([]string, 0, len(out.Refreshed))
		for name := range out.Refreshed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "refreshed %s: %d\n", name, out.Refreshed[name])
		}
		for _, c := range out.Unreachable {
			fmt.Fprintf(w, "unreachable: %s\n", c)
		}
	}); err != nil {
		return err
	}
	if res.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d writes remain queued", res.Failed))
	}
	return nil
}

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Yes bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all local records and queued writes",
		Long: `Empty every local collection and the write queue. Queued writes that were
never delivered are lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				return NewExitError(ExitCommandError, "refusing to clear offline data without --yes")
			}
			engine, err := newEngine(opts.RootOptions, oneShot)
			if err != nil {
				return err
			}
			defer engine.Close()
			if err := engine.ClearOfflineData(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "clear failed", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "offline data cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm")
	return cmd
}

// PendingOutput is one queued write.
type PendingOutput struct {
	Seq        int64     `json:"seq"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	RecordID   string    `json:"record_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// StatusOutput is the JSON form of status.
type StatusOutput struct {
	Pending int                       `json:"pending"`
	Queue   []PendingOutput           `json:"queue"`
	Records map[record.Collection]int `json:"records"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queued writes and local record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	store, err := openBackend(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open local store", err)
	}
	defer store.Close()

	ops, err := store.List(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list queue", err)
	}
	out := StatusOutput{
		Pending: len(ops),
		Queue:   make([]PendingOutput, 0, len(ops)),
		Records: make(map[record.Collection]int),
	}
	for _, op := range ops {
		out.Queue = append(out.Queue, PendingOutput{
			Seq:        op.Seq,
			Method:     op.Method,
			Path:       op.URL,
			RecordID:   op.RecordID,
			EnqueuedAt: op.EnqueuedAt,
		})
	}
	for _, c := range record.All() {
		n, err := store.Count(ctx, c)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count records", err)
		}
		out.Records[c] = n
	}

	return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(out, func(w io.Writer) {
		fmt.Fprintf(w, "pending writes: %d\n", out.Pending)
		for _, p := range out.Queue {
			fmt.Fprintf(w, "  #%d %s %s (%s)\n", p.Seq, p.Method, p.Path, p.EnqueuedAt.Format(time.RFC3339))
		}
		for _, c := range record.All() {
			fmt.Fprintf(w, "%s: %d\n", c, out.Records[c])
		}
	})
}
