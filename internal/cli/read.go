package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/record"
)

// ReadOutput is the JSON form of a read.
type ReadOutput struct {
	Collection record.Collection `json:"collection"`
	Source     string            `json:"source"`
	Records    []record.Record   `json:"records"`
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <collection> [id]",
		Short: "Read a collection or one record",
		Long: `Read from the remote, falling back to the local store when the remote
is unreachable. The source line tells which one answered.

Exit codes:
  0 - Records returned
  1 - Remote unreachable and nothing stored locally
  2 - Command error

Examples:
  offlinectl read products
  offlinectl read products p1 --format json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			return runRead(cmd.Context(), rootOpts, cmd, args[0], id)
		},
	}
	return cmd
}

func runRead(ctx context.Context, opts *RootOptions, cmd *cobra.Command, collection, id string) error {
	c, err := record.ParseCollection(collection)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid collection", err)
	}
	engine, err := newEngine(opts, oneShot)
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Read(ctx, c, id)
	if syncErrors.IsNotFoundLocally(err) {
		return WrapExitError(ExitFailure, "no data available", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "read failed", err)
	}

	out := ReadOutput{Collection: c, Source: res.Source.String(), Records: res.Records}
	if out.Records == nil {
		out.Records = []record.Record{}
	}
	return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(out, func(w io.Writer) {
		fmt.Fprintf(w, "source: %s\n", out.Source)
		for _, r := range out.Records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Rev, fieldsJSON(r))
		}
	})
}
