package main

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli"

	"github.com/coodoo-workhorse/workhorse-sub001/cron"
)

func scheduleCommand(stdout io.Writer) cli.Command {
	return cli.Command{
		Name:  "schedule",
		Usage: "Evaluate cron expressions",
		Subcommands: []cli.Command{
			{
				Name:      "next",
				Usage:     "Print the next fire times of an expression",
				ArgsUsage: "<expr>",
				Flags: []cli.Flag{
					cli.IntFlag{Name: "count, n", Value: 5, Usage: "How many times to print"},
					cli.StringFlag{Name: "from", Usage: "RFC 3339 start time (default now)"},
				},
				Action: func(ctx *cli.Context) error {
					expr, err := exprArg(ctx)
					if err != nil {
						return err
					}
					from, err := timeFlag(ctx, "from", time.Now())
					if err != nil {
						return err
					}
					times, err := cron.NextTimes(expr, ctx.Int("count"), from)
					if err != nil {
						return err
					}
					return printTimes(stdout, times)
				},
			},
			{
				Name:      "between",
				Usage:     "Print the fire times of an expression in (start, end]",
				ArgsUsage: "<expr>",
				Flags: []cli.Flag{
					cli.StringFlag{Name: "start", Usage: "RFC 3339 start time (default now)"},
					cli.StringFlag{Name: "end", Usage: "RFC 3339 end time (default start + 24h)"},
				},
				Action: func(ctx *cli.Context) error {
					expr, err := exprArg(ctx)
					if err != nil {
						return err
					}
					start, err := timeFlag(ctx, "start", time.Now())
					if err != nil {
						return err
					}
					end, err := timeFlag(ctx, "end", start.Add(24*time.Hour))
					if err != nil {
						return err
					}
					times, err := cron.TimesBetween(expr, start, end)
					if err != nil {
						return err
					}
					return printTimes(stdout, times)
				},
			},
		},
	}
}

func exprArg(ctx *cli.Context) (string, error) {
	if ctx.NArg() != 1 {
		return "", fmt.Errorf("%s requires exactly one cron expression", ctx.Command.FullName())
	}
	return ctx.Args().First(), nil
}

func timeFlag(ctx *cli.Context, name string, def time.Time) (time.Time, error) {
	v := ctx.String(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func printTimes(w io.Writer, times []time.Time) error {
	for _, t := range times {
		if _, err := fmt.Fprintln(w, t.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}
