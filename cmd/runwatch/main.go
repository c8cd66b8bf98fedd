package main

import (
	"fmt"
	"os"

	"github.com/dwsmith1983/runwatch/internal/commands"
)

var version = "dev"

func main() {
	err := commands.NewRootCmd(version).Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(commands.ExitCode(err))
}
