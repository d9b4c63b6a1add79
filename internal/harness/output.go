package harness

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/qspicheck/internal/qspi"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// Output prints case results, with colors and progress bars when writing
// to a terminal.
type Output struct {
	w     io.Writer
	isTTY bool
	mu    sync.Mutex
}

// NewOutput creates an Output writing to w.
func NewOutput(w io.Writer) *Output {
	o := &Output{w: w}
	if f, ok := w.(*os.File); ok {
		o.isTTY = term.IsTerminal(int(f.Fd()))
	}
	return o
}

// IsTTY returns whether the output is a terminal.
func (o *Output) IsTTY() bool {
	return o.isTTY
}

// color wraps text in ANSI color codes if TTY.
func (o *Output) color(code, text string) string {
	if !o.isTTY {
		return text
	}
	return code + text + colorReset
}

// PrintBanner prints the board, seed and case count at the start of a run.
func (o *Output) PrintBanner(board string, seed uint64, cases int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isTTY {
		fmt.Fprintf(o.w, "%s %s\n", o.color(colorCyan+colorBold, "qspicheck"), o.color(colorBold, board))
		fmt.Fprintf(o.w, "  %s %d cases, seed %d\n\n", o.color(colorDim, "Running"), cases, seed)
	} else {
		fmt.Fprintf(o.w, "=== %s ===\n", board)
		fmt.Fprintf(o.w, "Running %d cases, seed %d\n\n", cases, seed)
	}
}

// PrintTestPass prints a passing case.
func (o *Output) PrintTestPass(name string, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isTTY {
		fmt.Fprintf(o.w, "  %s %s %s\n",
			o.color(colorGreen, "✓"),
			name,
			o.color(colorDim, fmt.Sprintf("(%s)", duration.Round(time.Millisecond))))
	} else {
		fmt.Fprintf(o.w, "    PASS  %s\n", name)
	}
}

// PrintTestSkip prints a skipped case with its reason.
func (o *Output) PrintTestSkip(name, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isTTY {
		fmt.Fprintf(o.w, "  %s %s %s\n",
			o.color(colorYellow, "-"),
			name,
			o.color(colorDim, "("+reason+")"))
	} else {
		fmt.Fprintf(o.w, "    SKIP  %s: %s\n", name, reason)
	}
}

// PrintTestFail prints a failing case and its error, one line per line of
// the message.
func (o *Output) PrintTestFail(name, errMsg string, seed uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	retryCmd := fmt.Sprintf("qspicheck -run '^%s$' -seed %d", name, seed)

	if o.isTTY {
		fmt.Fprintf(o.w, "  %s %s\n", o.color(colorRed+colorBold, "✗"), o.color(colorRed, name))
		for _, line := range strings.Split(errMsg, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				fmt.Fprintf(o.w, "    %s %s\n", o.color(colorDim, "→"), o.color(colorYellow, line))
			}
		}
		fmt.Fprintf(o.w, "    %s %s\n", o.color(colorDim, "retry:"), o.color(colorCyan, retryCmd))
	} else {
		fmt.Fprintf(o.w, "    FAIL  %s:\n", name)
		for _, line := range strings.Split(errMsg, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				fmt.Fprintf(o.w, "      %s\n", line)
			}
		}
		fmt.Fprintf(o.w, "    retry: %s\n", retryCmd)
	}
}

// Progress returns a callback drawing a byte progress bar for a long flash
// operation. It returns nil when not writing to a terminal.
func (o *Output) Progress(title string) qspi.ProgressFunc {
	if !o.isTTY {
		return nil
	}
	var bar *progressbar.ProgressBar
	return func(done, total uint64) {
		o.mu.Lock()
		defer o.mu.Unlock()

		if bar == nil {
			bar = progressbar.NewOptions64(int64(total),
				progressbar.OptionSetWriter(o.w),
				progressbar.OptionSetDescription(title),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(30),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set64(int64(done))
		if done >= total {
			_ = bar.Finish()
		}
	}
}

// PrintResults prints the final summary.
func (o *Output) PrintResults(results *Results) {
	o.mu.Lock()
	defer o.mu.Unlock()

	summary := fmt.Sprintf("%d/%d passed, %d skipped", results.Passed, results.Total, results.Skipped)
	fmt.Fprintln(o.w)
	if o.isTTY {
		if results.Failed > 0 {
			fmt.Fprintf(o.w, "%s %s\n", o.color(colorRed+colorBold, "FAILED:"), summary)
		} else {
			fmt.Fprintf(o.w, "%s %s\n", o.color(colorGreen+colorBold, "PASSED:"), summary)
		}
		fmt.Fprintf(o.w, "  %s seed %d in %s\n",
			o.color(colorDim, "Completed"),
			results.Seed,
			results.Duration.Round(time.Millisecond))
		return
	}
	status := "PASSED"
	if results.Failed > 0 {
		status = "FAILED"
	}
	fmt.Fprintf(o.w, "%s: %s (seed %d, %s)\n", status, summary, results.Seed, results.Duration.Round(time.Millisecond))
}
