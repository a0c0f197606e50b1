// Command tracegen writes a synthetic traffic trace for the replay adapter.
//
// Usage:
//
//	tracegen -pattern=half-hour-spike -duration=24h -out=trace.csv
//	prescaler -adapter=replay -orchestrator=simulated  # with ADAPTER_PATH=trace.csv
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"
)

const traceLayout = "2006-01-02 15:04:05"

type options struct {
	Pattern string
	Start   time.Time
	Step    time.Duration
	Rows    int
	Noise   float64
	Seed    uint64
	Out     string
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", "tracegen")

	opts, err := parseOptions(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Error("invalid options", "error", err)
		os.Exit(2)
	}

	var w io.Writer = os.Stdout
	if opts.Out != "" && opts.Out != "-" {
		f, err := os.Create(opts.Out)
		if err != nil {
			logger.Error("failed to create trace", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if err := writeTrace(w, opts); err != nil {
		logger.Error("failed to write trace", "error", err)
		os.Exit(1)
	}
	logger.Info("trace written", "pattern", opts.Pattern, "rows", opts.Rows, "out", opts.Out)
}

func parseOptions(fs *flag.FlagSet, args []string) (options, error) {
	var (
		opts     options
		start    string
		duration time.Duration
	)
	fs.StringVar(&opts.Pattern, "pattern", "half-hour-spike", "Traffic pattern ("+strings.Join(patternNames(), ", ")+")")
	fs.StringVar(&start, "start", "2025-01-01 00:00:00", "Timestamp of the first row")
	fs.DurationVar(&duration, "duration", 24*time.Hour, "Length of the trace")
	fs.DurationVar(&opts.Step, "step", time.Minute, "Spacing between rows")
	fs.Float64Var(&opts.Noise, "noise", 0.05, "Relative noise applied to every value (0 disables)")
	fs.Uint64Var(&opts.Seed, "seed", 1, "Noise seed")
	fs.StringVar(&opts.Out, "out", "-", "Output file (- for stdout)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if _, ok := patterns[opts.Pattern]; !ok {
		return options{}, fmt.Errorf("unknown pattern %q (want one of %s)", opts.Pattern, strings.Join(patternNames(), ", "))
	}
	ts, err := time.Parse(traceLayout, start)
	if err != nil {
		return options{}, fmt.Errorf("invalid start: %w", err)
	}
	opts.Start = ts
	if opts.Step < time.Second {
		return options{}, errors.New("step must be at least 1s")
	}
	if duration < opts.Step {
		return options{}, errors.New("duration must cover at least one step")
	}
	if opts.Noise < 0 || opts.Noise >= 1 {
		return options{}, fmt.Errorf("noise must be in [0, 1), got %v", opts.Noise)
	}
	opts.Rows = int(duration / opts.Step)
	return opts, nil
}

// writeTrace emits a header and opts.Rows rows in the replay adapter's
// default column layout.
func writeTrace(w io.Writer, opts options) error {
	pattern := patterns[opts.Pattern]
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "http_requests"}); err != nil {
		return err
	}
	for i := 0; i < opts.Rows; i++ {
		ts := opts.Start.Add(time.Duration(i) * opts.Step)
		v := pattern.Rate(ts)
		if opts.Noise > 0 {
			v *= 1 + opts.Noise*(2*rng.Float64()-1)
		}
		row := []string{ts.Format(traceLayout), strconv.FormatFloat(v, 'f', 2, 64)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
