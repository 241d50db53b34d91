// Command okkqc matches telephony calls to sales orders and runs
// quality-control rules over order history.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands print their own errors; cobra-level failures such as a
		// bad flag do not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
