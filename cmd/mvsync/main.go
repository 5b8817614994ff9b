// Command mvsync maintains materialized views over a SQLite or PostgreSQL
// store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mvsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCodeOf(err))
	}
}
