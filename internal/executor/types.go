package executor

import (
	"errors"
	"time"
)

type Outcome int

const (
	Ok Outcome = iota
	Crash
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Crash:
		return "crash"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// Result describes one finished target run.
type Result struct {
	Outcome Outcome
	Stdout  []byte
	Stderr  []byte
	Elapsed time.Duration
}

// Observer brackets every run. PreExec runs before the target starts,
// PostExec after the outcome is known.
type Observer interface {
	PreExec() error
	PostExec(result *Result) error
}

var (
	ErrStartFailed = errors.New("failed to start target")
	ErrObserver    = errors.New("observer failed")
)
