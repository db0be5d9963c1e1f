// rvemu is the command-line interface to a RISC-V RV64IMA emulator.
package main

import (
	"context"
	"os"

	"github.com/smoynes/rvemu/internal/cli"
	"github.com/smoynes/rvemu/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Boot(),
}

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
