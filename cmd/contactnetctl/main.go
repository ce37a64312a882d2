package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	arg "github.com/alexflint/go-arg"
)

const program = "contactnetctl"

var errHelp = errors.New("help requested")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	var err error
	switch args[0] {
	case "train":
		err = runTrain(ctx, args[1:], os.Stdout)
	case "evaluate":
		err = runEvaluate(ctx, args[1:], os.Stdout)
	case "inspect":
		err = runInspect(ctx, args[1:], os.Stdout)
	case "synth":
		err = runSynth(ctx, args[1:], os.Stdout)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
	if errors.Is(err, errHelp) {
		return nil
	}
	return err
}

// parseArgs fills dest from args for the named command. Help output goes to
// out and is reported as errHelp.
func parseArgs(name string, args []string, dest interface{}, out io.Writer) error {
	parser, err := arg.NewParser(arg.Config{Program: program + " " + name}, dest)
	if err != nil {
		return err
	}
	if err := parser.Parse(args); err != nil {
		if errors.Is(err, arg.ErrHelp) {
			parser.WriteHelp(out)
			return errHelp
		}
		return usageError(fmt.Sprintf("%s: %v", name, err))
	}
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: %s <train|evaluate|inspect|synth> [flags]", msg, program)
}
