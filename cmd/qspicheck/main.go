// Command qspicheck runs the serial flash conformance cases on a U-Boot
// board through its console.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"regexp"

	"github.com/tinyrange/qspicheck/internal/config"
	"github.com/tinyrange/qspicheck/internal/console"
	"github.com/tinyrange/qspicheck/internal/harness"
	"github.com/tinyrange/qspicheck/internal/sim"
	"github.com/tinyrange/qspicheck/internal/transcript"
)

func main() {
	configPath := flag.String("config", "", "Board description (YAML)")
	simulate := flag.Bool("sim", false, "Run against the built-in simulated board")
	seed := flag.Uint64("seed", 0, "Seed for the random transfer sizes (0 picks one)")
	runPattern := flag.String("run", "", "Run only cases matching this regular expression")
	verbose := flag.Bool("v", false, "Verbose output")
	transcriptPath := flag.String("transcript", "", "Record console traffic to this file")
	showTranscript := flag.String("show-transcript", "", "Print a recorded transcript and exit")
	flag.Parse()

	if *showTranscript != "" {
		if err := transcript.Dump(os.Stdout, *showTranscript); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Setup context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	failed, err := run(ctx, options{
		configPath: *configPath,
		simulate:   *simulate,
		seed:       *seed,
		runPattern: *runPattern,
		verbose:    *verbose,
		transcript: *transcriptPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	simulate   bool
	seed       uint64
	runPattern string
	verbose    bool
	transcript string
}

func run(ctx context.Context, o options) (bool, error) {
	var (
		board *config.Board
		err   error
	)
	switch {
	case o.simulate:
		board = config.Simulated()
	case o.configPath != "":
		board, err = config.Load(o.configPath)
		if err != nil {
			return false, err
		}
	default:
		return false, errors.New("either -config or -sim is required")
	}
	if o.seed != 0 {
		board.Seed = o.seed
	}

	logger, err := newLogger(board.LogLevel, o.verbose)
	if err != nil {
		return false, err
	}
	slog.SetDefault(logger)

	var filter *regexp.Regexp
	if o.runPattern != "" {
		filter, err = regexp.Compile(o.runPattern)
		if err != nil {
			return false, fmt.Errorf("-run: %w", err)
		}
	}

	opts := []console.Option{
		console.WithPrompt(board.Console.Prompt),
		console.WithLogger(logger),
		console.WithDefaultTimeout(board.Console.Timeout.Duration()),
	}

	var rec *transcript.Recorder
	if o.transcript != "" {
		rec, err = transcript.Create(o.transcript)
		if err != nil {
			return false, err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warn("closing transcript", "err", err)
			}
		}()
		opts = append(opts, console.WithTranscript(rec))
	}

	var sess *console.Session
	if o.simulate {
		sess, err = openSimulated(ctx, opts)
	} else {
		sess, err = console.Open(ctx, console.Endpoint{
			Address: board.Console.Address,
			Proxy:   board.Console.Proxy,
			Serial:  board.Console.Serial,
			Baud:    board.Console.Baud,
			Command: board.Console.Command,
		}, opts...)
	}
	if err != nil {
		return false, err
	}
	defer sess.Close()

	out := harness.NewOutput(os.Stdout)
	runner := harness.NewRunner(sess, board, out, logger)
	runner.Filter = filter
	runner.Transcript = rec

	results, err := runner.Run(ctx)
	if results != nil {
		out.PrintResults(results)
	}
	if err != nil {
		return false, err
	}
	return results.Failed > 0, nil
}

func newLogger(level string, verbose bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// openSimulated serves a simulated board over an in-memory pipe.
func openSimulated(ctx context.Context, opts []console.Option) (*console.Session, error) {
	cfg := sim.DefaultConfig()
	cfg.Files = map[string]sim.File{
		"boot.bin": {Parts: map[string][]byte{
			"boot@1": bytes.Repeat([]byte("SPL\x00"), 8*1024),
			"boot@2": bytes.Repeat([]byte("UBT\x00"), 64*1024),
		}},
	}
	dut := sim.New(cfg)

	client, server := net.Pipe()
	go func() {
		if err := dut.Serve(server); err != nil {
			slog.Debug("sim: serve ended", "err", err)
		}
		server.Close()
	}()

	sess := console.NewSession(client, opts...)
	if err := sess.Sync(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}
