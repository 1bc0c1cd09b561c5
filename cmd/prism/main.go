// Command prism is the CLI for the prism resource store and projection engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/prism/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
