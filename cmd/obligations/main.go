// Command obligations serves the obligations API and offers maintenance subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ArionMiles/obligations/pkg/logging"
)

const usage = `Usage: obligations <command> [flags]

Commands:
  serve               Start the HTTP API
  parse <file|url>    Parse a fiscal receipt page and print the result as JSON
                      (-owner id stores a fetched receipt and prints its obligation id)
  export [flags]      Write an owner's obligations as csv, json or xlsx
  status              Check configuration and storage connectivity

Configuration is read from the environment and an optional .env file.
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.Setup(logging.FromEnv())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, logger)
	case "parse":
		err = runParse(ctx, logger, args)
	case "export":
		err = runExport(ctx, logger, args)
	case "status":
		err = runStatus(ctx, logger)
	case "help", "-h", "--help":
		flag.Usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}
