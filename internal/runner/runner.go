// Package runner executes one solve end to end: build the formulation, solve,
// interpret or diagnose, then record, publish and write artifacts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pmedians/internal/events"
	"pmedians/internal/formulation"
	"pmedians/internal/instance"
	"pmedians/internal/metrics"
	"pmedians/internal/mip"
	"pmedians/internal/model"
	"pmedians/internal/solution"
	"pmedians/internal/store"
)

// Options configure a single run.
type Options struct {
	// RunID reuses an id assigned by the caller; empty draws a new one.
	RunID string
	// CreatedAt keeps the queue time of a run created earlier; zero is now.
	CreatedAt      time.Time
	TimeLimit      time.Duration
	CompletionMode formulation.CompletionMode
	// ArtifactDir receives the .lp model, the .sol solution and the .ilp
	// subsystem when set.
	ArtifactDir string
	// ResultsPath is the CSV results log a line is appended to when set.
	ResultsPath string
}

// Report is the outcome of a run.
type Report struct {
	Record      model.RunRecord
	Instance    *instance.Instance
	Formulation *formulation.Formulation
	Result      mip.Result
	Solution    *solution.Solution
	Diagnosis   *solution.Diagnosis
}

type Runner struct {
	solver mip.Solver
	iis    mip.IISFinder
	store  store.Store
	events events.Publisher
	logger *log.Logger
}

type Option func(*Runner)

// WithStore persists run records.
func WithStore(s store.Store) Option { return func(r *Runner) { r.store = s } }

// WithEvents publishes run lifecycle events.
func WithEvents(p events.Publisher) Option { return func(r *Runner) { r.events = p } }

func WithLogger(l *log.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithIISFinder sets the infeasibility diagnoser. By default the solver is
// used when it can extract subsystems itself.
func WithIISFinder(f mip.IISFinder) Option { return func(r *Runner) { r.iis = f } }

func New(solver mip.Solver, opts ...Option) *Runner {
	r := &Runner{solver: solver, logger: log.Default()}
	if f, ok := solver.(mip.IISFinder); ok {
		r.iis = f
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run solves inst. Solver outcomes (infeasible, time limit) are reported in
// the Report, not as errors; an error means the run itself failed.
func (r *Runner) Run(ctx context.Context, inst *instance.Instance, opts Options) (*Report, error) {
	rec := model.RunRecord{
		ID:             opts.RunID,
		Status:         model.RunRunning,
		Config:         inst.Config(),
		CompletionMode: opts.CompletionMode.String(),
		CreatedAt:      time.Now().UTC(),
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if !opts.CreatedAt.IsZero() {
		rec.CreatedAt = opts.CreatedAt
	}
	rep := &Report{Instance: inst}

	if err := inst.CheckCapacity(); err != nil {
		rec.CapacityIssue = err.Error()
		r.logger.Printf("run %s: %v; solving anyway", rec.ID, err)
	}
	r.save(ctx, rec)
	r.publish(ctx, rec.ID, model.EventRunStarted, map[string]any{"config": rec.Config})

	err := r.solve(ctx, inst, opts, &rec, rep)
	now := time.Now().UTC()
	rec.FinishedAt = &now
	if err != nil {
		rec.Status = model.RunFailed
		rec.Error = err.Error()
		rep.Record = rec
		r.save(ctx, rec)
		r.publish(ctx, rec.ID, model.EventRunFailed, map[string]any{"error": rec.Error})
		return rep, err
	}
	rep.Record = rec
	r.save(ctx, rec)
	r.publish(ctx, rec.ID, model.EventRunCompleted, map[string]any{"status": rec.Status, "result": rec.Result})
	return rep, nil
}

func (r *Runner) solve(ctx context.Context, inst *instance.Instance, opts Options, rec *model.RunRecord, rep *Report) error {
	f, err := formulation.Build(inst, formulation.WithCompletionMode(opts.CompletionMode))
	if err != nil {
		return err
	}
	rep.Formulation = f
	m := f.Model()
	r.logger.Printf("run %s: model %s with %d vars, %d constrs", rec.ID, m.Name(), m.NumVars(), m.NumConstrs())

	metrics.RunsInFlight.Inc()
	res, err := f.Solve(ctx, r.solver, mip.Options{TimeLimit: opts.TimeLimit})
	metrics.RunsInFlight.Dec()
	if err != nil {
		return fmt.Errorf("solve: %w", err)
	}
	metrics.ObserveSolve(res)
	rep.Result = res
	rec.Status = res.Status.String()
	rec.Result = resultLine(res)
	r.logger.Printf("run %s: status=%s obj=%.3f bound=%.3f gap=%.4f nodes=%d time=%s",
		rec.ID, res.Status, res.ObjVal, res.ObjBound, res.Gap, res.NodeCount, res.Runtime.Round(time.Millisecond))

	if res.HasSolution() {
		sol, err := solution.Interpret(f, res)
		if err != nil {
			return err
		}
		rep.Solution = sol
		rec.Solution = sol
		rec.Violations = solution.Validate(inst, sol)
		for _, v := range rec.Violations {
			r.logger.Printf("run %s: violation %s", rec.ID, v)
		}
	}
	if res.Status == mip.StatusInfeasible && r.iis != nil {
		if err := r.diagnose(ctx, f, opts, res, rec, rep); err != nil {
			return err
		}
	}

	if opts.ArtifactDir != "" {
		if err := writeArtifacts(opts.ArtifactDir, rep); err != nil {
			return fmt.Errorf("write artifacts: %w", err)
		}
	}
	if opts.ResultsPath != "" {
		if err := store.AppendResultLine(opts.ResultsPath, *rec.Result); err != nil {
			return fmt.Errorf("append results: %w", err)
		}
	}
	return nil
}

// diagnose extracts the subsystem within what is left of the run's time
// limit. Running out of budget is logged, not a failed run.
func (r *Runner) diagnose(ctx context.Context, f *formulation.Formulation, opts Options, res mip.Result, rec *model.RunRecord, rep *Report) error {
	var iisOpts mip.Options
	if opts.TimeLimit > 0 {
		iisOpts.TimeLimit = opts.TimeLimit - res.Runtime
		if iisOpts.TimeLimit <= 0 {
			r.logger.Printf("run %s: infeasible, no time left for IIS", rec.ID)
			return nil
		}
	}
	d, err := solution.Diagnose(ctx, f, r.iis, iisOpts)
	if errors.Is(err, mip.ErrIISTimeLimit) {
		r.logger.Printf("run %s: infeasible, %v", rec.ID, err)
		return nil
	}
	if err != nil {
		return err
	}
	rep.Diagnosis = d
	rec.IIS = d.Constraints
	rec.IISPartial = d.Partial
	r.logger.Printf("run %s: infeasible, IIS of %d constraints in %v (partial=%t)", rec.ID, len(d.Constraints), d.FamilyNames(), d.Partial)
	return nil
}

func resultLine(res mip.Result) *model.ResultLine {
	return &model.ResultLine{
		ObjVal:     res.ObjVal,
		ObjBound:   res.ObjBound,
		MIPGap:     res.Gap,
		Runtime:    res.Runtime.Seconds(),
		NodeCount:  res.NodeCount,
		NumVars:    res.NumVars,
		NumConstrs: res.NumConstrs,
	}
}

// writeArtifacts writes <model>.lp, plus <model>.sol with a solution or
// <model>.ilp with a diagnosis.
func writeArtifacts(dir string, rep *Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	m := rep.Formulation.Model()
	write := func(ext string, fn func(*os.File) error) error {
		f, err := os.Create(filepath.Join(dir, m.Name()+ext))
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	if err := write(".lp", func(f *os.File) error { return mip.WriteLP(f, m) }); err != nil {
		return err
	}
	if rep.Result.HasSolution() {
		if err := write(".sol", func(f *os.File) error { return mip.WriteSolution(f, m, rep.Result) }); err != nil {
			return err
		}
	}
	if rep.Diagnosis != nil {
		if err := write(".ilp", func(f *os.File) error { return mip.WriteIIS(f, m, rep.Diagnosis.IIS) }); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) save(ctx context.Context, rec model.RunRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveRun(detach(ctx), rec); err != nil {
		r.logger.Printf("run %s: save: %v", rec.ID, err)
	}
}

func (r *Runner) publish(ctx context.Context, runID, typ string, data any) {
	if r.events == nil {
		return
	}
	ev := model.Event{ID: uuid.NewString(), Type: typ, RunID: runID, TS: time.Now().UTC(), Data: data}
	if err := r.events.Publish(detach(ctx), ev); err != nil {
		r.logger.Printf("run %s: publish %s: %v", runID, typ, err)
	}
}

// detach lets a canceled run still record and announce its end.
func detach(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.WithoutCancel(ctx)
	}
	return ctx
}
