// Command pmedians generates a facility-location instance, solves it and
// reports the depot schedule and customer routing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pmedians/internal/buildinfo"
	"pmedians/internal/cli"
	"pmedians/internal/formulation"
	"pmedians/internal/instance"
	"pmedians/internal/mip"
	"pmedians/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "pmedians: %v\n\n", err)
		cli.WriteUsage(stderr)
		return 1
	}
	if opts.Help {
		cli.WriteUsage(stdout)
		return 0
	}

	logger := log.New(stderr, "", log.LstdFlags)
	logger.Printf("pmedians %s", buildinfo.Version)
	fmt.Fprintf(stdout, "instance (%s):\n%s\n", opts.Source, opts.Config.Summary())

	if n := formulation.VarCount(opts.Config); opts.MaxVars > 0 && n > opts.MaxVars {
		fmt.Fprintf(stderr, "pmedians: model would have %d variables, more than the solver handles (%d); "+
			"use a smaller instance or -maxvars 0 to solve anyway\n", n, opts.MaxVars)
		return 1
	}

	inst, err := instance.Generate(opts.Config)
	if err != nil {
		fmt.Fprintf(stderr, "pmedians: %v\n", err)
		return 1
	}

	bnb := mip.NewBranchAndBound()
	bnb.Logger = logger
	r := runner.New(bnb, runner.WithLogger(logger))
	rep, err := r.Run(ctx, inst, runner.Options{
		TimeLimit:      opts.TimeLimit,
		CompletionMode: opts.CompletionMode,
		ArtifactDir:    opts.DrawDir,
		ResultsPath:    opts.ResultsPath,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "pmedians: interrupted")
		} else {
			fmt.Fprintf(stderr, "pmedians: %v\n", err)
		}
		return 1
	}

	res := rep.Result
	fmt.Fprintf(stdout, "status: %s\n", res.Status)
	if res.HasSolution() {
		fmt.Fprintf(stdout, "objective: %g (bound %g, gap %.4f)\n", res.ObjVal, res.ObjBound, res.Gap)
	}
	fmt.Fprintf(stdout, "nodes: %d, vars: %d, constrs: %d, time: %s\n",
		res.NodeCount, res.NumVars, res.NumConstrs, res.Runtime)
	if rep.Solution != nil {
		if err := rep.Solution.WriteText(stdout, inst); err != nil {
			fmt.Fprintf(stderr, "pmedians: %v\n", err)
			return 1
		}
		for _, v := range rep.Record.Violations {
			fmt.Fprintf(stdout, "violation: %s\n", v)
		}
	}
	if rep.Diagnosis != nil {
		kind := "irreducible infeasible subsystem"
		if rep.Diagnosis.Partial {
			kind = "infeasible subsystem, not fully reduced within the time limit"
		}
		fmt.Fprintf(stdout, "%s (%d constraints):\n", kind, len(rep.Diagnosis.Constraints))
		for _, name := range rep.Diagnosis.Constraints {
			fmt.Fprintf(stdout, "  %s\n", name)
		}
	}
	return 0
}
