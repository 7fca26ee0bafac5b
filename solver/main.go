// Command solver runs the parallel branch-and-bound TSP search over a
// distance matrix read from a file and prints the optimal closed tour.
//
// Usage:
//
//	solver -f cities.tsp [-t threads] [-v mask] [-color]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gopherbb/tspbb/graph"
	"github.com/gopherbb/tspbb/tourfile"
	"github.com/gopherbb/tspbb/tspbb"
)

// ANSI escapes for optional colorized output: a red label for the graph
// dump, a blue label for the final shortest-path line.
const (
	colorRed   = "\033[31m"
	colorBlue  = "\033[34m"
	colorReset = "\033[0m"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("solver", flag.ContinueOnError)
	fs.SetOutput(stderr)

	verbosity := fs.Int("v", 0, "verbosity bitmask: 1=graph 2=shorter 4=bound 8=analyse 16=counters")
	threads := fs.Int("t", 2, "number of worker goroutines")
	file := fs.String("f", "", "path to a TSP distance-matrix file (required)")
	color := fs.Bool("color", false, "colorize the graph dump and shortest-path line")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *file == "" {
		fmt.Fprintln(stderr, "solver: -f is required")
		return 1
	}

	g, err := graph.LoadFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "solver: %v\n", err)
		return 1
	}

	opts := tspbb.Options{
		NumWorkers:     *threads,
		SpillThreshold: tspbb.DefaultSpillThreshold,
		Verbosity:      tspbb.Verbosity(*verbosity),
	}
	if *color {
		opts.Trace = colorTracer(stdout)
	}

	if opts.Verbosity&tspbb.VerboseGraph != 0 {
		if *color {
			fmt.Fprintf(stdout, "%s%s%s", colorRed, g.String(), colorReset)
		} else {
			fmt.Fprint(stdout, g.String())
		}
	}

	result, err := tspbb.Solve(context.Background(), g, withoutGraphTrace(opts))
	if err != nil {
		fmt.Fprintf(stderr, "solver: %v\n", err)
		return 1
	}

	printResult(stdout, result, *color)

	if opts.Verbosity&tspbb.VerboseCounters != 0 {
		printCounters(stdout, result.Counters)
	}

	return 0
}

// withoutGraphTrace strips VerboseGraph from the bits passed into Solve:
// the CLI already printed the graph dump itself above (so it can apply
// -color), and Solve would otherwise print it a second time.
func withoutGraphTrace(opts tspbb.Options) tspbb.Options {
	opts.Verbosity &^= tspbb.VerboseGraph
	return opts
}

func printResult(stdout *os.File, result tspbb.Result, color bool) {
	line := tourfile.FormatResult(result.Tour, result.Distance)
	if color {
		fmt.Fprintf(stdout, "%s%s%s\n", colorBlue, line, colorReset)
		return
	}
	fmt.Fprintln(stdout, line)
}

func printCounters(stdout *os.File, c tspbb.Counters) {
	fmt.Fprintf(stdout, "verified: %d\n", c.Verified)
	fmt.Fprintf(stdout, "found: %d\n", c.Found)
	for depth, n := range c.Bound {
		if n == 0 {
			continue
		}
		fmt.Fprintf(stdout, "bound[%d]: %d\n", depth, n)
	}
}

// colorTracer wraps the plain traces Solve emits (analysing/shorter/bound
// lines) with the same red label used for the graph dump, when -color is
// set. It does not distinguish trace kinds beyond that.
func colorTracer(stdout *os.File) func(string) {
	return func(line string) {
		fmt.Fprintf(stdout, "%s%s%s\n", colorRed, line, colorReset)
	}
}
