// Package shim holds the logic of the preloaded instrumentation library.
//
// The library itself (cmd/shim) is a thin cgo layer: it interposes the libc
// entry point, calls Load before the target's main and Finalize from the
// replaced rtld finalizer. Everything that touches the target goes through
// the Target interface so the extraction can be exercised without a real
// instrumented process.
package shim

import (
	"errors"
	"fmt"
	"runtime/debug"

	"corrfuzz/pkg/shmem"

	"go.uber.org/zap"
)

var (
	ErrNoDescriptor  = errors.New("no channel descriptor in environment")
	ErrSymbolMissing = errors.New("instrumentation symbol missing")
	ErrSizeMismatch  = errors.New("guard count does not match channel capacity")
	ErrFault         = errors.New("fault during extraction")
)

// Target exposes the instrumented process' coverage symbols. A false second
// result means the symbol could not be resolved.
type Target interface {
	GuardCount() (int, bool)
	GuardValues(n int) ([]int32, bool)
	ProgressStep() (uint64, bool)
}

type Shim struct {
	desc   shmem.Descriptor
	loaded bool
	logger *zap.Logger
}

// Load reads the channel descriptor from the environment. A missing or
// malformed descriptor is logged and leaves the shim inert.
func Load(getenv func(string) string, logger *zap.Logger) *Shim {
	s := &Shim{logger: logger}
	raw := getenv(shmem.EnvDescriptor)
	if raw == "" {
		logger.Error("Could not get channel descriptor", zap.String("env", shmem.EnvDescriptor))
		return s
	}
	desc, err := shmem.ParseDescriptor(raw)
	if err != nil {
		logger.Error("Could not parse channel descriptor", zap.String("raw", raw), zap.Error(err))
		return s
	}
	s.desc = desc
	s.loaded = true
	return s
}

func (s *Shim) Descriptor() (shmem.Descriptor, bool) {
	return s.desc, s.loaded
}

// Finalize copies the target's edge counters and progress step into the
// channel. It never panics; every failure is logged and returned joined.
func (s *Shim) Finalize(t Target) error {
	if !s.loaded {
		return ErrNoDescriptor
	}

	var ch *shmem.Channel
	err := s.guard("attach", func() error {
		var err error
		ch, err = shmem.Attach(s.desc)
		return err
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	edgeErr := s.guard("edges", func() error { return copyEdges(ch, t) })
	stepErr := s.guard("step", func() error { return copyStep(ch, t) })
	return errors.Join(edgeErr, stepErr)
}

// guard runs fn with memory faults turned into panics and recovers them.
func (s *Shim) guard(phase string, fn func() error) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in %s: %v", ErrFault, phase, r)
		}
		if err != nil {
			s.logger.Error("extraction failed", zap.String("phase", phase), zap.Error(err))
		}
	}()
	return fn()
}

func copyEdges(ch *shmem.Channel, t Target) error {
	count, ok := t.GuardCount()
	if !ok {
		return fmt.Errorf("%w: get_guard_count", ErrSymbolMissing)
	}
	edges := ch.Edges()
	if count != len(edges) {
		return fmt.Errorf("%w: channel %d, guards %d", ErrSizeMismatch, len(edges), count)
	}
	values, ok := t.GuardValues(count)
	if !ok {
		return fmt.Errorf("%w: get_guard_values", ErrSymbolMissing)
	}
	for i := range edges {
		edges[i] = Saturate(values[i])
	}
	return nil
}

func copyStep(ch *shmem.Channel, t Target) error {
	step, ok := t.ProgressStep()
	if !ok {
		return fmt.Errorf("%w: __afl_correctness_step", ErrSymbolMissing)
	}
	// zero means the target never reported progress; keep whatever is there
	if step != 0 {
		ch.SetStep(step)
	}
	return nil
}

// Saturate clamps a guard counter into an edge byte.
func Saturate(v int32) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 0xff:
		return 0xff
	default:
		return byte(v)
	}
}
