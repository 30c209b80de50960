// Command trcr compiles taint rules and runs them against entity corpora.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/trcr/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		// Commands report their own ExitErrors; anything else is a usage
		// error from flag parsing.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
