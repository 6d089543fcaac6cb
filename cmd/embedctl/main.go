// Command embedctl is the single entry point wrapping both the server
// and the offline batch job as subcommands, folding in the teacher's
// standalone scripts/loadtest.go as "embedctl loadtest". Grounded on the
// pack's cobra usage (moolen-spectre, Siddhant-K-code-distill) in place
// of the teacher's bare flag-parsed cmd/worker and cmd/router binaries.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "embedctl",
		Short: "embedserve: dynamic-batching embedding inference server",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newLoadtestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
