package grammar

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	GrammarPlaceholder = "{grammar}"
	ModePlaceholder    = "{mode}"

	DefaultToolTimeout = 10 * time.Second
)

// Command drives an external grammar tool. The tool is invoked as
//
//	<command line with {grammar} and {mode} expanded>
//
// where mode is "generate" or "mutate"; without a {mode} placeholder the mode
// is appended as the last argument. Mutate passes the input on stdin. The
// tool's stdout is the result.
type Command struct {
	name    string
	args    []string
	grammar string
	timeout time.Duration
	logger  *zap.Logger
}

func NewCommand(commandLine, grammarFile string, timeout time.Duration, logger *zap.Logger) (*Command, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty grammar command", ErrNoGrammar)
	}
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Command{fields[0], fields[1:], grammarFile, timeout, logger}, nil
}

func (c *Command) Generate(ctx context.Context) ([]byte, error) {
	return c.run(ctx, "generate", nil)
}

func (c *Command) Mutate(ctx context.Context, input []byte) ([]byte, error) {
	return c.run(ctx, "mutate", input)
}

func (c *Command) expand(mode string) []string {
	args := make([]string, 0, len(c.args)+1)
	sawMode := false
	for _, arg := range c.args {
		if strings.Contains(arg, ModePlaceholder) {
			sawMode = true
		}
		arg = strings.ReplaceAll(arg, GrammarPlaceholder, c.grammar)
		args = append(args, strings.ReplaceAll(arg, ModePlaceholder, mode))
	}
	if !sawMode {
		args = append(args, mode)
	}
	return args
}

func (c *Command) run(ctx context.Context, mode string, input []byte) ([]byte, error) {
	toolCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(toolCtx, c.name, c.expand(mode)...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug("grammar tool failed", zap.String("mode", mode), zap.String("stderr", stderr.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrToolFailed, mode, err)
	}
	return stdout.Bytes(), nil
}
