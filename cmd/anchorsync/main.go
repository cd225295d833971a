// Command anchorsync keeps spatial entities in step with a shared cloud tree.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/anchorsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
