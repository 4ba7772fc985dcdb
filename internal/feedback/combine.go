package feedback

import (
	"errors"
	"strings"

	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
)

// Combined ORs feedbacks together. An eager combination evaluates every
// member; a fast one stops at the first interesting member.
type Combined struct {
	members []engine.Feedback
	fast    bool
}

// Or evaluates every member and is interesting if any member is.
func Or(members ...engine.Feedback) *Combined {
	return &Combined{members, false}
}

// FastOr stops evaluating at the first interesting member.
func FastOr(members ...engine.Feedback) *Combined {
	return &Combined{members, true}
}

func (c *Combined) Name() string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.Name()
	}
	sep := " | "
	if c.fast {
		sep = " || "
	}
	return "(" + strings.Join(names, sep) + ")"
}

func (c *Combined) InitState(state *engine.State) error {
	for _, m := range c.members {
		if init, ok := m.(engine.StateInitializer); ok {
			if err := init.InitState(state); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Combined) IsInteresting(state *engine.State, mgr *engine.EventManager, input engine.Input, result *executor.Result) (bool, error) {
	interesting := false
	for _, m := range c.members {
		ok, err := m.IsInteresting(state, mgr, input, result)
		if err != nil {
			return false, err
		}
		interesting = interesting || ok
		if interesting && c.fast {
			break
		}
	}
	return interesting, nil
}

func (c *Combined) AppendMetadata(state *engine.State, tc *engine.Testcase) error {
	var errs []error
	for _, m := range c.members {
		errs = append(errs, m.AppendMetadata(state, tc))
	}
	return errors.Join(errs...)
}

func (c *Combined) DiscardMetadata(state *engine.State) error {
	var errs []error
	for _, m := range c.members {
		errs = append(errs, m.DiscardMetadata(state))
	}
	return errors.Join(errs...)
}
