// Command brew runs concurrent coffee machine simulations from CUE fixtures.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/brew/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "brew:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
