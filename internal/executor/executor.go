package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"corrfuzz/pkg/shmem"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Config describes how to launch the target. Zero values fall back to
// DefaultTimeout, DefaultCrashExitCodes and DefaultMaxOutput.
type Config struct {
	Binary         string
	Args           []string
	Dir            string
	Preload        string
	Channel        shmem.Descriptor
	ExtraEnv       []string
	Timeout        time.Duration
	CrashExitCodes []int
	MaxOutputBytes int
}

const (
	DefaultTimeout   = time.Second
	DefaultMaxOutput = 64 << 10

	// grace period for the output pipes once the target itself exited
	pipeDrainDelay = 100 * time.Millisecond

	// StartRetries bounds the retries of a start failing with a transient
	// error, such as EAGAIN while many workers fork at once.
	StartRetries = 5
)

// DefaultArgs compile a C++ translation unit read from stdin and discard the
// result.
var DefaultArgs = []string{"-o", "/dev/null", "-xc++", "-fintegrated-cc1", "-"}

// DefaultCrashExitCodes are SIGABRT and SIGSEGV as reported by a shell.
var DefaultCrashExitCodes = []int{134, 139}

type CommandExecutor struct {
	cfg       Config
	env       []string
	observers []Observer
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger, observers ...Observer) *CommandExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutput
	}
	if cfg.CrashExitCodes == nil {
		cfg.CrashExitCodes = DefaultCrashExitCodes
	}
	if cfg.Args == nil {
		cfg.Args = DefaultArgs
	}
	return &CommandExecutor{
		cfg,
		buildEnv(os.Environ(), cfg),
		observers,
		logger,
	}
}

func buildEnv(base []string, cfg Config) []string {
	env := slices.Clone(base)
	if cfg.Preload != "" {
		env = append(env, "LD_PRELOAD="+cfg.Preload)
	}
	if cfg.Channel.Path != "" {
		env = append(env, shmem.EnvDescriptor+"="+cfg.Channel.String())
	}
	return append(env, cfg.ExtraEnv...)
}

func (e *CommandExecutor) Observers() []Observer {
	return e.observers
}

// Run feeds input to a fresh target process and blocks until it exits or the
// timeout kills its whole process group. Errors are reserved for failures of
// the harness itself; everything the target does maps to an Outcome.
func (e *CommandExecutor) Run(ctx context.Context, input []byte) (*Result, error) {
	for _, o := range e.observers {
		if err := o.PreExec(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrObserver, err)
		}
	}

	stdout := newBoundedBuffer(e.cfg.MaxOutputBytes)
	stderr := newBoundedBuffer(e.cfg.MaxOutputBytes)

	cmd, start, err := e.start(ctx, input, stdout, stderr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	pgid := cmd.Process.Pid

	var timedOut atomic.Bool
	watchdog := time.AfterFunc(e.cfg.Timeout, func() {
		timedOut.Store(true)
		killGroup(pgid)
	})
	stopCancel := context.AfterFunc(ctx, func() { killGroup(pgid) })

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	watchdog.Stop()
	stopCancel()
	// leftovers of a target that exited on its own
	killGroup(pgid)

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return nil, fmt.Errorf("failed to wait for target: %w", waitErr)
	}
	if !timedOut.Load() && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &Result{
		e.classify(cmd.ProcessState, timedOut.Load()),
		stdout.Bytes(),
		stderr.Bytes(),
		elapsed,
	}
	if result.Outcome != Ok {
		e.logger.Debug("target run finished abnormally",
			zap.Stringer("outcome", result.Outcome),
			zap.String("state", cmd.ProcessState.String()),
			zap.Duration("elapsed", elapsed))
	}

	for _, o := range e.observers {
		if err := o.PostExec(result); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrObserver, err)
		}
	}
	return result, nil
}

func (e *CommandExecutor) command(input []byte, stdout, stderr *boundedBuffer) *exec.Cmd {
	cmd := exec.Command(e.cfg.Binary, e.cfg.Args...)
	cmd.Dir = e.cfg.Dir
	cmd.Env = e.env
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeDrainDelay
	return cmd
}

// start launches the target, retrying transient failures with a short
// exponential backoff.
func (e *CommandExecutor) start(ctx context.Context, input []byte, stdout, stderr *boundedBuffer) (*exec.Cmd, time.Time, error) {
	var cmd *exec.Cmd
	var started time.Time
	attempt := 0
	op := func() error {
		attempt++
		cmd = e.command(input, stdout, stderr)
		started = time.Now()
		err := cmd.Start()
		if err == nil {
			return nil
		}
		if !transientStartError(err) {
			return backoff.Permanent(err)
		}
		e.logger.Debug("target start failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(startBackOff(), StartRetries), ctx))
	return cmd, started, err
}

func startBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func transientStartError(err error) bool {
	for _, errno := range []unix.Errno{unix.EAGAIN, unix.ETXTBSY, unix.ENOMEM, unix.EINTR} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func (e *CommandExecutor) classify(state *os.ProcessState, timedOut bool) Outcome {
	if timedOut {
		return Timeout
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Crash
	}
	if slices.Contains(e.cfg.CrashExitCodes, state.ExitCode()) {
		return Crash
	}
	return Ok
}

func killGroup(pgid int) {
	// ESRCH once the group is gone
	_ = unix.Kill(-pgid, unix.SIGKILL)
}
