// Command offlinectl drives the offline kit engine from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/c0deZ3R0/go-offline-kit/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
