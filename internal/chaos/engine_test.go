package chaos

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastEngine(out *bytes.Buffer) *Engine {
	e := NewEngine(out)
	e.SampleInterval = 5 * time.Millisecond
	return e
}

func counterExperiment(value *atomic.Int64, inject func()) Experiment {
	return Experiment{
		Name:       "counter",
		Hypothesis: "counter stays at one",
		SteadyState: []Probe{{
			Name:      "counter",
			Read:      func(context.Context) (float64, error) { return float64(value.Load()), nil },
			Tolerance: Tolerance{Op: "<=", Value: 1},
		}},
		Method: []Action{{
			Kind:   "bump",
			Target: "counter",
			Execute: func(context.Context) error {
				inject()
				return nil
			},
		}},
		Validation: []Assertion{{
			Probe:   "counter",
			Holds:   func(v float64) bool { return v == 1 },
			Message: "counter should be one",
		}},
		Duration: 30 * time.Millisecond,
	}
}

func TestToleranceOperators(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true}, {">", 1, false},
		{"<", 0, true}, {"<", 1, false},
		{">=", 1, true}, {"<=", 1, true},
		{"==", 1, true}, {"==", 2, false},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tolerance{Op: tt.op, Value: 1}.allows(tt.value), "%s %v", tt.op, tt.value)
	}
}

func TestRunHypothesisHolds(t *testing.T) {
	var value atomic.Int64
	e := fastEngine(&bytes.Buffer{})

	result, err := e.Run(context.Background(), counterExperiment(&value, func() { value.Store(1) }))
	require.NoError(t, err)
	assert.True(t, result.SteadyState)
	assert.True(t, result.Held)
	assert.Empty(t, result.Breaches)
	assert.NotEmpty(t, result.Samples["counter"])
	assert.Len(t, e.Outcomes(), 1)
}

func TestRunHypothesisViolated(t *testing.T) {
	var value atomic.Int64
	e := fastEngine(&bytes.Buffer{})

	result, err := e.Run(context.Background(), counterExperiment(&value, func() { value.Store(3) }))
	require.NoError(t, err)
	assert.False(t, result.Held)
	assert.Equal(t, []string{"counter should be one"}, result.Failed)
	require.NotEmpty(t, result.Breaches)
	assert.Equal(t, float64(3), result.Breaches[0].Got)
}

func TestRunAbortsOnInvalidSteadyState(t *testing.T) {
	var value atomic.Int64
	value.Store(5)
	injected := false
	e := fastEngine(&bytes.Buffer{})

	result, err := e.Run(context.Background(), counterExperiment(&value, func() { injected = true }))
	assert.ErrorIs(t, err, ErrSteadyState)
	assert.False(t, result.SteadyState)
	assert.False(t, injected)
}

func TestRunRecordsInjectionErrorsAndRollsBack(t *testing.T) {
	var value atomic.Int64
	rolledBack := false
	exp := counterExperiment(&value, func() {})
	exp.Method = append(exp.Method, Action{
		Target:  "broken",
		Execute: func(context.Context) error { return errors.New("boom") },
	})
	exp.Rollback = []Action{{Execute: func(context.Context) error {
		rolledBack = true
		return nil
	}}}

	result, err := fastEngine(&bytes.Buffer{}).Run(context.Background(), exp)
	require.NoError(t, err)
	require.Len(t, result.Faults, 1)
	assert.Equal(t, "broken", result.Faults[0].Source)
	assert.True(t, rolledBack)
}

func TestRunMeasuresRecovery(t *testing.T) {
	var value atomic.Int64
	var reads atomic.Int64
	exp := counterExperiment(&value, func() { value.Store(2) })
	exp.SteadyState[0].Read = func(context.Context) (float64, error) {
		if reads.Add(1) > 3 {
			value.Store(1)
		}
		return float64(value.Load()), nil
	}

	result, err := fastEngine(&bytes.Buffer{}).Run(context.Background(), exp)
	require.NoError(t, err)
	assert.True(t, result.Held)
	assert.NotEmpty(t, result.Breaches)
	require.NotNil(t, result.Recovery)
}

func TestExecuteGameDay(t *testing.T) {
	var ok, bad atomic.Int64
	out := &bytes.Buffer{}
	e := fastEngine(out)

	held, err := e.ExecuteGameDay(context.Background(), GameDay{
		Name: "weekly",
		Date: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Scenarios: []Experiment{
			counterExperiment(&ok, func() { ok.Store(1) }),
			counterExperiment(&bad, func() { bad.Store(9) }),
		},
	})
	require.NoError(t, err)
	assert.False(t, held)
	assert.Contains(t, out.String(), "Starting Game Day: weekly")
	assert.Contains(t, out.String(), "PASS: hypothesis held")
	assert.Contains(t, out.String(), "FAIL: hypothesis violated")
}
