package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/offlinekit"
	"github.com/c0deZ3R0/go-offline-kit/record"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Data string
	Rev  string
}

// WriteOutput is the JSON form of a write.
type WriteOutput struct {
	Status   string        `json:"status"`
	Record   record.Record `json:"record"`
	Seq      int64         `json:"seq,omitempty"`
	Resolved bool          `json:"resolved,omitempty"`
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write <collection> <create|update|delete> [id]",
		Short: "Create, update or delete a record",
		Long: `Send a write to the remote. When the remote cannot be reached the write is
queued locally and replayed by "offlinectl sync".

Examples:
  offlinectl write products create p1 --data '{"name":"Widget"}'
  offlinectl write products update p1 --rev 1-abc --data '{"price":9.5}'
  offlinectl write products delete p1`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 3 {
				id = args[2]
			}
			return runWrite(cmd.Context(), opts, cmd, args[0], args[1], id)
		},
	}

	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "record fields as a JSON object")
	cmd.Flags().StringVar(&opts.Rev, "rev", "", "revision the write is based on")

	return cmd
}

func parseAction(s string) (record.Action, error) {
	for _, a := range []record.Action{record.ActionCreate, record.ActionUpdate, record.ActionDelete} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q: must be create, update or delete", s)
}

func runWrite(ctx context.Context, opts *WriteOptions, cmd *cobra.Command, collection, actionName, id string) error {
	c, err := record.ParseCollection(collection)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid collection", err)
	}
	action, err := parseAction(actionName)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid action", err)
	}

	var fields map[string]any
	if opts.Data != "" {
		if err := json.Unmarshal([]byte(opts.Data), &fields); err != nil {
			return WrapExitError(ExitCommandError, "invalid --data", err)
		}
	}
	rec := record.New(c, id, fields)
	rec.Rev = record.Revision(opts.Rev)

	engine, err := newEngine(opts.RootOptions, oneShot)
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Write(ctx, c, action, rec)
	if err != nil {
		return WrapExitError(ExitCommandError, "write failed", err)
	}

	out := WriteOutput{
		Status:   res.Status.String(),
		Record:   res.Record,
		Seq:      res.Seq,
		Resolved: res.Resolved,
	}
	if err := (printer{format: opts.Format, w: cmd.OutOrStdout()}).print(out, func(w io.Writer) {
		switch res.Status {
		case offlinekit.StatusSynced:
			fmt.Fprintf(w, "synced %s/%s rev %s\n", c, res.Record.ID, res.Record.Rev)
		default:
			fmt.Fprintf(w, "%s %s/%s as operation %d\n", res.Status, c, res.Record.ID, res.Seq)
		}
	}); err != nil {
		return err
	}
	if res.Status == offlinekit.StatusConflict {
		return NewExitError(ExitFailure, "write conflicted and was queued")
	}
	return nil
}

func fieldsJSON(r record.Record) string {
	if len(r.Fields) == 0 {
		return "{}"
	}
	b, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Sprintf("%v", r.Fields)
	}
	return string(b)
}
