// Package launcher spawns one worker process per configured core and waits
// for them.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"
	"time"

	"corrfuzz/config"
	"corrfuzz/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StopGrace is how long a worker may take to shut down after SIGINT.
const StopGrace = 10 * time.Second

type Launcher struct {
	cfg           *config.AppConfig
	logger        *zap.Logger
	tracerFactory *telemetry.TracerFactory
	shutdowner    fx.Shutdowner
	executable    string
	args          []string

	done chan struct{}
}

type LauncherParams struct {
	fx.In

	Lc            fx.Lifecycle
	Config        *config.AppConfig
	Logger        *zap.Logger
	TracerFactory *telemetry.TracerFactory
	Shutdowner    fx.Shutdowner
}

func NewLauncher(p LauncherParams) (*Launcher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate own executable: %w", err)
	}
	l := &Launcher{
		p.Config,
		p.Logger,
		p.TracerFactory,
		p.Shutdowner,
		exe,
		os.Args[1:],
		make(chan struct{}),
	}

	launchCtx, cancel := context.WithCancel(context.Background())

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go l.start(launchCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-l.done
			return nil
		},
	})
	return l, nil
}

func (l *Launcher) start(ctx context.Context) {
	defer close(l.done)
	err := l.Run(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		l.logger.Error("launcher failed", zap.Error(err))
		l.shutdowner.Shutdown(fx.ExitCode(1))
		return
	}
	l.logger.Info("all workers exited")
	l.shutdowner.Shutdown()
}

// Run starts every worker and blocks until all of them exited. Cancelling
// ctx interrupts the workers.
func (l *Launcher) Run(ctx context.Context) error {
	tracer := l.tracerFactory.NewTracer(ctx, "corrfuzz launcher")
	tracer.Start()
	defer tracer.End()

	wd, _ := os.Getwd()
	l.logger.Info("Workdir:", zap.String("dir", wd))

	cores, err := ParseCores(l.cfg.Cores)
	if err != nil {
		tracer.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := os.MkdirAll(l.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	tracer.WithAttributes(telemetry.EmptySpanAttributes().WithExtraAttribute("corrfuzz.workers", len(cores)))

	stdout, closeStdout, err := l.output(l.cfg.StdoutFile, os.Stdout)
	if err != nil {
		return err
	}
	defer closeStdout()
	stderr, closeStderr, err := l.output(l.cfg.StderrFile, os.Stderr)
	if err != nil {
		return err
	}
	defer closeStderr()

	exported := tracer.Export()
	g, gctx := errgroup.WithContext(ctx)
	for id, core := range cores {
		g.Go(func() error {
			return l.runWorker(gctx, id, core, exported, stdout, stderr)
		})
	}
	return g.Wait()
}

// output opens name relative to the output directory, or returns fallback
// when name is empty.
func (l *Launcher) output(name string, fallback io.Writer) (io.Writer, func(), error) {
	if name == "" {
		return fallback, func() {}, nil
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.cfg.OutputDir, name)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// WorkerEnv is the environment a worker process starts with.
func WorkerEnv(base []string, id, core int, traceParent string) []string {
	env := append(slices.Clip(base),
		config.WorkerIDEnv+"="+strconv.Itoa(id),
		config.WorkerCoreEnv+"="+strconv.Itoa(core),
	)
	if traceParent != "" {
		env = append(env, telemetry.TraceParentEnv+"="+traceParent)
	}
	return env
}

func (l *Launcher) runWorker(ctx context.Context, id, core int, traceParent string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, l.executable, l.args...)
	cmd.Env = WorkerEnv(os.Environ(), id, core, traceParent)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = StopGrace

	l.logger.Info("starting worker", zap.Int("worker", id), zap.Int("core", core))
	err := cmd.Run()
	if ctx.Err() != nil {
		l.logger.Info("worker stopped", zap.Int("worker", id))
		return nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("worker %d exited with code %d", id, exitErr.ExitCode())
		}
		return fmt.Errorf("worker %d: %w", id, err)
	}
	l.logger.Info("worker finished", zap.Int("worker", id))
	return nil
}
