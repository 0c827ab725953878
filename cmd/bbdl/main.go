// Command bbdl sends Bloomberg Data License requests and runs the local
// servers used to test them.
//
// Usage:
//
//	bbdl [global flags] <command> [flags]
//
// Commands:
//
//	request        send one request and print the result as JSON
//	fields         list catalog fields by category
//	schedule       run the jobs of a YAML file on their cron schedules
//	mock-server    serve canned replies over FTP
//	ftp-server     start the garethflowers/ftp-server container
//	update-fields  simplify Bloomberg's full fields.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gonzalop/bbdl/internal/logging"
	"github.com/rs/zerolog"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, log zerolog.Logger, args []string) error
}

var commands = []command{
	{"request", "send one request and print the result as JSON", runRequest},
	{"fields", "list catalog fields by category", runFields},
	{"schedule", "run the jobs of a YAML file on their cron schedules", runSchedule},
	{"mock-server", "serve canned replies over FTP", runMockServer},
	{"ftp-server", "start the garethflowers/ftp-server container", runFTPServer},
	{"update-fields", "simplify Bloomberg's full fields.csv", runUpdateFields},
}

func main() {
	level := flag.String("log-level", "info", "log level: debug, info, warn, error")
	pretty := flag.Bool("pretty", false, "human readable logs")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: *level, Pretty: *pretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := flag.Arg(0)
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(ctx, log, flag.Args()[1:]); err != nil {
			log.Error().Err(err).Str("command", name).Msg("Command failed")
			stop()
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "bbdl: unknown command %q\n\n", name)
	usage()
	os.Exit(2)
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: bbdl [flags] <command> [command flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-14s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}
