// Command workhorse runs the job engine as a daemon with the management
// protocol attached, and offers a few offline helpers.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"
)

const version = "0.1.0"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "workhorse: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "workhorse"
	app.Usage = "Run and manage background jobs."
	app.Version = version
	app.Writer = stdout
	app.ErrWriter = stderr

	app.Commands = []cli.Command{
		serveCommand(stderr),
		scheduleCommand(stdout),
	}

	// An unknown subcommand is an error, not a help screen with exit 0.
	app.CommandNotFound = func(ctx *cli.Context, command string) {
		fmt.Fprintf(ctx.App.ErrWriter, "'%s %v' is not a workhorse subcommand\n", ctx.App.Name, command)
		os.Exit(2)
	}
	return app
}
