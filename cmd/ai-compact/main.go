// Command ai-compact inspects and compacts agent session logs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	// API keys may live in a local .env file.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("ai-compact failed", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(out)
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(out)
		return fmt.Errorf("unknown command %q", args[0])
	}

	var opts globalOptions
	flagSet := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	flagSet.SetOutput(out)
	opts.addFlags(flagSet)
	if cmd.flags != nil {
		cmd.flags(flagSet)
	}
	if err := flagSet.Parse(args[1:]); err != nil {
		return err
	}
	if opts.sessionPath == "" {
		return fmt.Errorf("%s: --session is required", args[0])
	}

	env, err := setup(ctx, &opts)
	if err != nil {
		return err
	}
	defer env.close()
	return cmd.run(ctx, env, flagSet, out)
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `ai-compact inspects and compacts agent session logs.

Usage:
  ai-compact <command> --session <path> [flags]

Commands:
  context    print the model-facing view of the current leaf
  compact    summarize older history into a compaction entry
  prune      truncate old tool outputs (dry run unless --apply)
  tree       print the entry tree
  navigate   move the leaf, optionally summarizing the abandoned branch

Sessions ending in .db or .sqlite use SQLite; other paths use JSONL.
`)
}
