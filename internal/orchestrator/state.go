package orchestrator

import (
	"errors"

	"github.com/sakif/agentcoder/internal/apperror"
	"github.com/sakif/agentcoder/internal/model"
)

// MaxRetries is the number of automatic repair attempts a run gets.
// With the initial execution that makes at most MaxRetries+1 executions.
const MaxRetries = 3

// State is a position in the pipeline. Every non-terminal state names the
// step performed while the machine is in it.
type State int

const (
	StateStart    State = iota // nothing run yet
	StateGenerate              // CodeProducer
	StateTest                  // TestProducer
	StateExecute               // Executor
	StateDebug                 // Refiner
	StateTerminal              // absorbing
)

var stateNames = [...]string{
	StateStart:    "start",
	StateGenerate: "generate",
	StateTest:     "test",
	StateExecute:  "execute",
	StateDebug:    "debug",
	StateTerminal: "terminal",
}

func (s State) String() string {
	if s < StateStart || s > StateTerminal {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s is the absorbing state.
func (s State) Terminal() bool {
	return s == StateTerminal
}

// Next is the transition function. It is total: every State maps to a
// State, and unknown values fall into Terminal so a corrupted state can
// never loop.
//
// Only the execute step branches. It looks at the record that step just
// produced:
//   - success                          → Terminal
//   - failed, RetryCount < MaxRetries  → Debug
//   - failed, budget spent             → Terminal
//
// RetryCount is read before Debug increments it, so a record that failed
// with RetryCount == MaxRetries ends the run: 1 initial execution plus
// MaxRetries repairs.
func Next(s State, rec model.RunRecord) State {
	switch s {
	case StateStart:
		return StateGenerate
	case StateGenerate:
		return StateTest
	case StateTest:
		return StateExecute
	case StateExecute:
		if rec.Success {
			return StateTerminal
		}
		if rec.HasError() && rec.RetryCount < MaxRetries {
			return StateDebug
		}
		return StateTerminal
	case StateDebug:
		return StateExecute
	default:
		return StateTerminal
	}
}

// Outcome classifies a run that reached Terminal.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeExhausted Outcome = "exhausted"
)

// OutcomeOf classifies a terminal record.
func OutcomeOf(rec model.RunRecord) Outcome {
	if rec.Success {
		return OutcomeSucceeded
	}
	return OutcomeExhausted
}

// Status maps an outcome onto the persisted run status.
func (o Outcome) Status() model.RunStatus {
	if o == OutcomeSucceeded {
		return model.StatusSucceeded
	}
	return model.StatusExhausted
}

// StatusOf maps what Run returned onto the persisted run status: the
// outcome when Run finished, canceled or failed when it aborted.
func StatusOf(res Result, err error) model.RunStatus {
	switch {
	case err == nil:
		return res.Outcome.Status()
	case errors.Is(err, apperror.ErrCanceled):
		return model.StatusCanceled
	default:
		return model.StatusFailed
	}
}
