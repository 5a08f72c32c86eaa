package main

import (
	"fmt"
	"os"

	"fieldsync-agent/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand(nil)
	if err := cmd.Execute(); err != nil {
		if code := cli.GetExitCode(err); code != cli.ExitFailure {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(code)
		}
		os.Exit(cli.ExitFailure)
	}
}
