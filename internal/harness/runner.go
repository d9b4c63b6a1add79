// Package harness runs the flash conformance cases against a board and
// collects their results.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/tinyrange/qspicheck/internal/config"
	"github.com/tinyrange/qspicheck/internal/console"
	"github.com/tinyrange/qspicheck/internal/qspi"
	"github.com/tinyrange/qspicheck/internal/transcript"
)

// Status is the outcome of one case.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	StatusSkip
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusFail:
		return "FAIL"
	case StatusSkip:
		return "SKIP"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Results contains the results of a run.
type Results struct {
	Tests    []TestResult
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Seed     uint64
	Duration time.Duration
}

// TestResult contains the result of a single case.
type TestResult struct {
	Name     string
	Status   Status
	Error    string
	Duration time.Duration
}

func (r *Results) add(tr TestResult) {
	r.Tests = append(r.Tests, tr)
	r.Total++
	switch tr.Status {
	case StatusPass:
		r.Passed++
	case StatusFail:
		r.Failed++
	case StatusSkip:
		r.Skipped++
	}
}

// Runner runs the cases in order on one console.
type Runner struct {
	// Filter selects cases by name. Nil runs all.
	Filter *regexp.Regexp
	// Seed fixes the random transfer sizes. Zero picks one.
	Seed uint64
	// Transcript receives case boundaries alongside the console traffic.
	Transcript *transcript.Recorder

	board *config.Board
	ch    console.Channel
	out   *Output
	log   *slog.Logger
}

// NewRunner creates a runner for board on ch.
func NewRunner(ch console.Channel, board *config.Board, out *Output, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Seed:  board.Seed,
		board: board,
		ch:    ch,
		out:   out,
		log:   logger,
	}
}

// Names returns the names of the cases the filter selects.
func (r *Runner) Names() []string {
	var names []string
	for _, c := range cases {
		if r.selected(c.name) {
			names = append(names, c.name)
		}
	}
	return names
}

func (r *Runner) selected(name string) bool {
	return r.Filter == nil || r.Filter.MatchString(name)
}

// Run executes every selected case. Case failures are reported in Results;
// the error is set when the run cannot start or ctx ends it early.
func (r *Runner) Run(ctx context.Context) (*Results, error) {
	start := time.Now()

	seed := r.Seed
	if seed == 0 {
		seed = qspi.RandomSeed()
	}
	results := &Results{Seed: seed}

	names := r.Names()
	if len(names) == 0 {
		return nil, errors.New("no cases match the filter")
	}
	r.out.PrintBanner(r.board.Name, seed, len(names))
	r.log.Info("harness: starting", "board", r.board.Name, "seed", seed, "cases", len(names))

	var gate error
	if minVersion := r.board.Requires.MinVersion; minVersion != "" {
		gate = CheckVersion(ctx, r.ch, minVersion)
		if gate != nil && !qspi.IsSkip(gate) {
			return nil, gate
		}
	}

	for i, c := range cases {
		if ctx.Err() != nil {
			break
		}
		if !r.selected(c.name) {
			continue
		}

		caseStart := time.Now()
		r.Transcript.Notef(c.name, "start seed=%d", seed+uint64(i))
		err := gate
		if err == nil {
			// Seeds derive from the case position so a filtered run reuses
			// the sizes of the full run.
			err = r.runCase(ctx, c, qspi.NewRand(seed+uint64(i)))
		}
		tr := TestResult{Name: c.name, Duration: time.Since(caseStart)}

		var skip *qspi.SkipError
		switch {
		case errors.As(err, &skip):
			tr.Status = StatusSkip
			tr.Error = skip.Reason
			r.out.PrintTestSkip(c.name, skip.Reason)
		case err != nil:
			tr.Status = StatusFail
			tr.Error = err.Error()
			r.out.PrintTestFail(c.name, tr.Error, seed)
			r.log.Error("harness: case failed", "case", c.name, "err", err)
		default:
			tr.Status = StatusPass
			r.out.PrintTestPass(c.name, tr.Duration)
		}
		if tr.Error != "" {
			r.Transcript.Notef(c.name, "%s: %s", tr.Status, tr.Error)
		} else {
			r.Transcript.Notef(c.name, "%s", tr.Status)
		}
		results.add(tr)
	}

	results.Duration = time.Since(start)
	return results, ctx.Err()
}

func (r *Runner) runCase(ctx context.Context, c testCase, rng *rand.Rand) error {
	for _, flag := range c.requires {
		if !r.board.Enabled(flag) {
			return qspi.Skipf("CONFIG_%s not enabled", strings.ToUpper(flag))
		}
	}
	r.log.Debug("harness: case", "case", c.name)
	return c.fn(ctx, r, rng)
}

func (r *Runner) flash(progressTitle string) *qspi.Flash {
	opts := []qspi.Option{
		qspi.WithLogger(r.log),
		qspi.WithEraseAllTimeout(r.board.EraseAllTimeout.Duration()),
	}
	if progressTitle != "" {
		opts = append(opts, qspi.WithProgress(r.out.Progress(progressTitle)))
	}
	return qspi.New(r.ch, opts...)
}

// ramBase returns the configured RAM base, or asks the board with bdinfo.
func (r *Runner) ramBase(ctx context.Context, f *qspi.Flash) (uint64, error) {
	if base := uint64(r.board.Env.RAMBase); base != 0 {
		return base, nil
	}
	if !r.board.Enabled("cmd_bdi") {
		return 0, qspi.Skipf("RAM base unknown: set env.ram_base or enable CONFIG_CMD_BDI")
	}
	return f.FindRAMBase(ctx)
}
