// Package chaos runs hypothesis-driven experiments against the ledger: check
// the steady state, inject a fault, observe, roll back, then assert on what
// was observed.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment is one hypothesis about the system and the fault that tests it.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Duration bounds the observation phase.
	Duration time.Duration
}

// Probe reads one numeric property of the system and the bound it must
// stay within.
type Probe struct {
	Name      string
	Read      func(context.Context) (float64, error)
	Tolerance Tolerance
}

// Tolerance is a comparison against a fixed value: ">", "<", ">=", "<=" or "==".
type Tolerance struct {
	Op    string
	Value float64
}

func (t Tolerance) allows(v float64) bool {
	switch t.Op {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	}
	return false
}

// Action injects or removes a fault.
type Action struct {
	Kind    string
	Target  string
	Execute func(context.Context) error
}

// Assertion is checked against the last sample of a probe.
type Assertion struct {
	Probe   string
	Holds   func(float64) bool
	Message string
}

// Sample is one probe reading.
type Sample struct {
	At    time.Time
	Value float64
}

// Breach is a probe reading outside its tolerance.
type Breach struct {
	Probe string
	Bound float64
	Got   float64
	At    time.Time
}

// Fault is an error raised by an action or a probe.
type Fault struct {
	Source string
	Err    string
	At     time.Time
}

// Outcome is what one run of an experiment observed.
type Outcome struct {
	Experiment  string
	Started     time.Time
	Elapsed     time.Duration
	SteadyState bool
	Held        bool
	Failed      []string
	Samples     map[string][]Sample
	Breaches    []Breach
	Faults      []Fault
	// Recovery is the time from the first breach to the next reading back
	// within tolerance.
	Recovery *time.Duration
}

func (o *Outcome) fault(source string, err error) {
	o.Faults = append(o.Faults, Fault{Source: source, Err: err.Error(), At: time.Now()})
}

// ErrSteadyState aborts a run whose system is already out of tolerance.
var ErrSteadyState = errors.New("steady state invalid - aborting experiment")

// Engine orchestrates chaos experiments
type Engine struct {
	// SampleInterval is how often probes are read while observing.
	SampleInterval time.Duration
	// Pause separates experiments of a game day.
	Pause time.Duration

	out    io.Writer
	tracer trace.Tracer

	mu          sync.Mutex
	experiments []Experiment
	outcomes    []Outcome
}

func NewEngine(out io.Writer) *Engine {
	return &Engine{
		SampleInterval: time.Second,
		out:            out,
		tracer:         otel.Tracer("coursemarket/chaos"),
	}
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Outcomes returns every completed run so far.
func (e *Engine) Outcomes() []Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Outcome(nil), e.outcomes...)
}

// Run executes a single experiment.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)))
	defer span.End()

	out := &Outcome{
		Experiment: exp.Name,
		Started:    time.Now(),
		Samples:    make(map[string][]Sample),
	}

	for _, p := range exp.SteadyState {
		v, err := p.Read(ctx)
		if err != nil || !p.Tolerance.allows(v) {
			out.Breaches = append(out.Breaches, Breach{Probe: p.Name, Bound: p.Tolerance.Value, Got: v, At: time.Now()})
		}
	}
	if len(out.Breaches) > 0 {
		return out, ErrSteadyState
	}
	out.SteadyState = true

	span.AddEvent("inject")
	for _, a := range exp.Method {
		if err := a.Execute(ctx); err != nil {
			out.fault(a.Target, err)
			span.RecordError(err)
		}
	}

	span.AddEvent("observe")
	e.observe(ctx, exp, out)

	span.AddEvent("rollback")
	for _, a := range exp.Rollback {
		if err := a.Execute(ctx); err != nil {
			out.fault(a.Target, err)
			span.RecordError(err)
		}
	}

	for _, a := range exp.Validation {
		samples := out.Samples[a.Probe]
		if len(samples) == 0 || !a.Holds(samples[len(samples)-1].Value) {
			out.Failed = append(out.Failed, a.Message)
		}
	}
	out.Held = len(out.Failed) == 0
	out.Elapsed = time.Since(out.Started)

	e.mu.Lock()
	e.outcomes = append(e.outcomes, *out)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", out.Held),
		attribute.Int("breaches", len(out.Breaches)),
	)
	return out, nil
}

// observe reads every probe right away and then once per SampleInterval
// until exp.Duration has passed.
func (e *Engine) observe(ctx context.Context, exp Experiment, out *Outcome) {
	window, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()
	ticker := time.NewTicker(e.SampleInterval)
	defer ticker.Stop()

	var firstBreach time.Time
	for {
		for _, p := range exp.SteadyState {
			v, err := p.Read(ctx)
			if err != nil {
				out.fault(p.Name, err)
				continue
			}
			now := time.Now()
			out.Samples[p.Name] = append(out.Samples[p.Name], Sample{At: now, Value: v})

			switch {
			case !p.Tolerance.allows(v):
				if firstBreach.IsZero() {
					firstBreach = now
				}
				out.Breaches = append(out.Breaches, Breach{Probe: p.Name, Bound: p.Tolerance.Value, Got: v, At: now})
			case !firstBreach.IsZero() && out.Recovery == nil:
				d := now.Sub(firstBreach)
				out.Recovery = &d
			}
		}

		select {
		case <-window.Done():
			return
		case <-ticker.C:
		}
	}
}

// GameDay is a named series of experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
}

// ExecuteGameDay runs every scenario and reports whether all hypotheses held.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)))
	defer span.End()

	fmt.Fprintf(e.out, "Starting Game Day: %s (%s)\n", day.Name, day.Date.Format(time.RFC3339))

	allHeld := true
	for i, exp := range day.Scenarios {
		if i > 0 && e.Pause > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(e.Pause):
			}
		}
		fmt.Fprintf(e.out, "\nExperiment %d/%d: %s\nHypothesis: %s\n", i+1, len(day.Scenarios), exp.Name, exp.Hypothesis)

		out, err := e.Run(ctx, exp)
		if err != nil {
			fmt.Fprintf(e.out, "Experiment aborted: %v\n", err)
			allHeld = false
			continue
		}
		e.report(out)
		allHeld = allHeld && out.Held
	}
	return allHeld, nil
}

func (e *Engine) report(out *Outcome) {
	if out.Held {
		fmt.Fprintln(e.out, "PASS: hypothesis held")
	} else {
		fmt.Fprintln(e.out, "FAIL: hypothesis violated")
		for _, msg := range out.Failed {
			fmt.Fprintf(e.out, "   - %s\n", msg)
		}
	}
	if n := len(out.Breaches); n > 0 {
		fmt.Fprintf(e.out, "Out of tolerance: %d readings\n", n)
		for _, b := range out.Breaches {
			fmt.Fprintf(e.out, "   - %s: bound %.2f, got %.2f\n", b.Probe, b.Bound, b.Got)
		}
	}
	if n := len(out.Faults); n > 0 {
		fmt.Fprintf(e.out, "Faults raised: %d (first: %s: %s)\n", n, out.Faults[0].Source, out.Faults[0].Err)
	}
	if out.Recovery != nil {
		fmt.Fprintf(e.out, "Recovered after %s\n", *out.Recovery)
	}
	fmt.Fprintf(e.out, "Elapsed: %s\n", out.Elapsed)
}
