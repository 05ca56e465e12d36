package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// ErrInvalidLoops is returned when fewer than one iteration is requested.
var ErrInvalidLoops = errors.New("loops must be at least 1")

// Iteration is the outcome of a single sweep run.
type Iteration struct {
	Index     int           `json:"iteration"`
	Processed int           `json:"processed"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Reclaimed int           `json:"reclaimed"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// Summary aggregates timing and counters over all iterations.
type Summary struct {
	Iterations int           `json:"iterations"`
	Processed  int           `json:"processed"`
	Success    int           `json:"success"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Reclaimed  int           `json:"reclaimed"`
	Errors     int           `json:"errors"`
	Min        time.Duration `json:"min_ns"`
	Max        time.Duration `json:"max_ns"`
	Avg        time.Duration `json:"avg_ns"`
	Total      time.Duration `json:"total_ns"`
}

// RunFunc performs one sweep. The Index field of the result is filled in by
// RunLoops.
type RunFunc func(ctx context.Context) (Iteration, error)

// RunLoops calls run loops times, sleeping interval between calls. A failing
// iteration is recorded and the loop continues; only context cancellation
// stops it early, in which case the iterations completed so far are returned
// with ctx.Err().
func RunLoops(ctx context.Context, loops int, interval time.Duration, run RunFunc) ([]Iteration, error) {
	if loops < 1 {
		return nil, ErrInvalidLoops
	}

	iterations := make([]Iteration, 0, loops)
	for i := 1; i <= loops; i++ {
		if err := ctx.Err(); err != nil {
			return iterations, err
		}

		it, err := run(ctx)
		it.Index = i
		if err != nil {
			it.Error = err.Error()
		}
		iterations = append(iterations, it)

		if i == loops || interval <= 0 {
			continue
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return iterations, ctx.Err()
		case <-timer.C:
		}
	}
	return iterations, nil
}

// Summarize computes totals and min/max/avg duration.
func Summarize(iterations []Iteration) Summary {
	var s Summary
	for i, it := range iterations {
		s.Iterations++
		s.Processed += it.Processed
		s.Success += it.Success
		s.Failed += it.Failed
		s.Skipped += it.Skipped
		s.Reclaimed += it.Reclaimed
		if it.Error != "" {
			s.Errors++
		}
		s.Total += it.Duration
		if i == 0 || it.Duration < s.Min {
			s.Min = it.Duration
		}
		if it.Duration > s.Max {
			s.Max = it.Duration
		}
	}
	if s.Iterations > 0 {
		s.Avg = s.Total / time.Duration(s.Iterations)
	}
	return s
}

// WriteTable prints one row per iteration followed by the summary. Verbose
// output adds the error text of failed iterations.
func WriteTable(w io.Writer, iterations []Iteration, verbose bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	header := "ITERATION\tPROCESSED\tSUCCESS\tFAILED\tSKIPPED\tRECLAIMED\tDURATION"
	if verbose {
		header += "\tERROR"
	}
	fmt.Fprintln(tw, header)
	for _, it := range iterations {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%s",
			it.Index, it.Processed, it.Success, it.Failed, it.Skipped, it.Reclaimed,
			it.Duration.Round(time.Microsecond))
		if verbose {
			fmt.Fprintf(tw, "\t%s", it.Error)
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintln(tw)

	s := Summarize(iterations)
	fmt.Fprintln(tw, "ITERATIONS\tPROCESSED\tSUCCESS\tFAILED\tSKIPPED\tRECLAIMED\tERRORS")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		s.Iterations, s.Processed, s.Success, s.Failed, s.Skipped, s.Reclaimed, s.Errors)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "MIN\tMAX\tAVG\tTOTAL")
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
		s.Min.Round(time.Microsecond), s.Max.Round(time.Microsecond),
		s.Avg.Round(time.Microsecond), s.Total.Round(time.Microsecond))

	return tw.Flush()
}
