// Package worker runs one fuzzing client: it discovers the target's
// coverage guards, sets up the coverage channel and fuzzes until stopped.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"corrfuzz/config"
	"corrfuzz/internal/corpus"
	"corrfuzz/internal/crash"
	"corrfuzz/internal/engine"
	"corrfuzz/internal/executor"
	"corrfuzz/internal/feedback"
	"corrfuzz/internal/grammar"
	"corrfuzz/internal/guards"
	"corrfuzz/internal/monitor"
	"corrfuzz/internal/observer"
	"corrfuzz/internal/strategy"
	"corrfuzz/pkg/shmem"
	"corrfuzz/pkg/telemetry"
	"corrfuzz/pkg/watchdog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// FilterReportEvery is how many filter hits pass between skip ratio reports.
const FilterReportEvery = 100

var ErrNoInitialInputs = errors.New("no initial inputs")

type Worker struct {
	cfg           *config.AppConfig
	logger        *zap.Logger
	tracerFactory *telemetry.TracerFactory
	crashManager  *crash.CrashManager
	watchdogs     *watchdog.WatchDogFactory
	redisClient   *redis.Client
	shutdowner    fx.Shutdowner

	done chan struct{}
}

type WorkerParams struct {
	fx.In

	Lc            fx.Lifecycle
	Config        *config.AppConfig
	Logger        *zap.Logger
	TracerFactory *telemetry.TracerFactory
	CrashManager  *crash.CrashManager
	WatchDogs     *watchdog.WatchDogFactory
	RedisClient   *redis.Client `optional:"true"`
	Shutdowner    fx.Shutdowner
}

func NewWorker(p WorkerParams) *Worker {
	w := &Worker{
		p.Config,
		p.Logger,
		p.TracerFactory,
		p.CrashManager,
		p.WatchDogs,
		p.RedisClient,
		p.Shutdowner,
		make(chan struct{}),
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go w.start(workerCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-w.done
			return nil
		},
	})
	return w
}

func (w *Worker) start(ctx context.Context) {
	defer close(w.done)
	if err := w.Run(ctx); err != nil {
		w.logger.Error("worker failed", zap.Error(err))
		w.shutdowner.Shutdown(fx.ExitCode(1))
	}
}

// WorkDir is where a worker keeps its initial inputs and corpus.
func WorkDir(outputDir string, worker int) string {
	return filepath.Join(outputDir, fmt.Sprintf("worker_%d", worker))
}

// Run fuzzes until ctx is done. It only returns an error for failures that
// make fuzzing impossible.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.cfg
	tracer := w.tracerFactory.NewTracerSpawnedFrom(ctx, os.Getenv(telemetry.TraceParentEnv), fmt.Sprintf("corrfuzz worker %d", cfg.WorkerID))
	tracer.Start()
	defer tracer.End()
	ctx = context.WithValue(ctx, telemetry.TracerKey{}, tracer)

	if cfg.WorkerCore >= 0 {
		if err := pinToCore(cfg.WorkerCore); err != nil {
			w.logger.Warn("failed to pin worker", zap.Int("core", cfg.WorkerCore), zap.Error(err))
		}
	}

	err := w.run(ctx, tracer)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	tracer.SetStatus(codes.Error, err.Error())
	return err
}

func (w *Worker) run(ctx context.Context, tracer telemetry.Tracer) error {
	cfg := w.cfg
	workDir := WorkDir(cfg.OutputDir, cfg.WorkerID)
	initialDir := filepath.Join(workDir, "initial")
	corpusDir := filepath.Join(workDir, "corpus")

	guardCount, err := guards.Discover(ctx, cfg.Target.Binary, cfg.Target.GuardLibrary, w.logger)
	if err != nil {
		return fmt.Errorf("guard discovery: %w", err)
	}
	desc, channel, err := shmem.Create(shmem.DefaultDir(), shmem.WordSize+guardCount)
	if err != nil {
		return fmt.Errorf("coverage channel: %w", err)
	}
	defer channel.Close()
	tracer.AddEvent("channel_created", telemetry.EventAttributes{"guards": guardCount, "path": desc.Path})

	edges := observer.NewEdgeObserver("edges", channel)
	correctness := observer.NewCorrectnessObserver(fmt.Sprintf("correctness_%d", max(cfg.WorkerCore, 0)), channel)

	// output feedbacks hold per-run state, each composite gets its own
	fb := feedback.Or(
		feedback.NewOutputFeedback(feedback.Stdout),
		feedback.NewOutputFeedback(feedback.Stderr),
		feedback.NewCorrectnessFeedback(correctness, cfg.Reporting.HistogramSize, cfg.Reporting.ReportEvery),
		feedback.NewMaxMapFeedback(edges),
		feedback.NewTimeFeedback(),
	)
	objective := feedback.FastOr(
		feedback.NewOutputFeedback(feedback.Stdout),
		feedback.NewOutputFeedback(feedback.Stderr),
		feedback.NewCrashFeedback(),
		feedback.NewTimeoutFeedback(),
	)

	seed := uint64(time.Now().UnixNano())
	g, err := grammar.Open(cfg.Strategy.GrammarCommand, cfg.Strategy.GrammarFile, cfg.Strategy.MaxDepth, seed, w.logger)
	if err != nil && !errors.Is(err, grammar.ErrNoGrammar) {
		return fmt.Errorf("grammar: %w", err)
	}
	strat, err := strategy.New(strategy.Params{
		Kind:         strategy.Kind(cfg.Strategy.Backend),
		SeedMode:     strategy.SeedMode(cfg.Strategy.SeedMode),
		Grammar:      g,
		LoadCorpus:   corpus.NewLoader(cfg.Strategy.SeedDir, initialDir, w.logger).Load,
		NumGenerated: cfg.Strategy.NumGenerated,
		InitialDir:   initialDir,
	}, w.logger)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	base := executor.New(executor.Config{
		Binary:         cfg.Target.Binary,
		Args:           cfg.Target.Args,
		Preload:        cfg.Target.ShimLibrary,
		Channel:        desc,
		Timeout:        cfg.Target.Timeout,
		CrashExitCodes: cfg.Target.CrashExitCodes,
		MaxOutputBytes: cfg.Target.MaxOutputBytes,
	}, w.logger, edges, correctness)

	mon, closeMonitors, err := w.monitors(ctx)
	if err != nil {
		return err
	}
	defer closeMonitors()

	onDisk, err := engine.NewOnDiskCorpus(corpusDir, strat.Decode)
	if err != nil {
		return err
	}
	state := engine.NewState(seed, onDisk, engine.NewInMemoryCorpus(), 0)

	objectives := make(chan engine.Objective)
	w.crashManager.RegisterObjectiveChan(ctx, objectives)
	defer close(objectives)

	fuzzer := engine.NewFuzzer(engine.Config{
		Scheduler:  strat.Scheduler(),
		Feedback:   fb,
		Objective:  objective,
		Executor:   strat.Executor(base),
		Events:     engine.NewEventManager(mon, cfg.WorkerID, cfg.Reporting.HeartbeatInterval),
		Filter:     engine.NewInputFilter(FilterReportEvery),
		Render:     strat.Decode,
		Objectives: objectives,
		Worker:     cfg.WorkerID,
	}, w.logger)
	if err := fuzzer.InitState(state); err != nil {
		return err
	}

	inputs, err := strat.Seeds(ctx)
	if err != nil {
		return fmt.Errorf("seeds: %w", err)
	}
	if len(inputs) == 0 {
		return ErrNoInitialInputs
	}
	w.logger.Info("Loading initial inputs", zap.Int("count", len(inputs)))
	for _, input := range inputs {
		if _, err := fuzzer.AddInput(ctx, state, input); err != nil {
			return fmt.Errorf("failed to add initial input: %w", err)
		}
	}
	seeded := fuzzer.Events().Stats(state)
	w.logger.Info("Initial inputs loaded",
		zap.Uint64("executions", seeded.Executions),
		zap.Int("corpus", seeded.Corpus),
		zap.Int("objectives", seeded.Objectives))
	tracer.AddEvent("seeded", telemetry.EventAttributes{"inputs": len(inputs), "corpus": seeded.Corpus})

	synced := w.syncSeeds(ctx, strat)
	stage := engine.NewMutationalStage(strat.Mutator(), strat.MaxIterations())
	w.logger.Info("Let's fuzz!", zap.String("backend", string(strat.Kind())), zap.Int("max_iterations", stage.MaxIterations()))
	err = fuzzer.Loop(ctx, state, stage, synced)

	stats := fuzzer.Events().Stats(state)
	tracer.WithAttributes(telemetry.EmptySpanAttributes().
		WithExtraAttribute("corrfuzz.executions", stats.Executions).
		WithExtraAttribute("corrfuzz.corpus", stats.Corpus).
		WithExtraAttribute("corrfuzz.objectives", stats.Objectives))
	return err
}

// monitors builds the stats sinks. Sinks doing I/O sit behind an Async queue;
// the returned func flushes it.
func (w *Worker) monitors(ctx context.Context) (monitor.Monitor, func(), error) {
	cfg := w.cfg
	mon := monitor.Multi{monitor.NewLogMonitor(w.logger)}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		pm, err := monitor.NewPrometheusMonitor(reg)
		if err != nil {
			return nil, nil, fmt.Errorf("metrics: %w", err)
		}
		addr, err := monitor.WorkerAddr(cfg.MetricsAddr, max(cfg.WorkerID, 0))
		if err != nil {
			return nil, nil, fmt.Errorf("metrics: %w", err)
		}
		go monitor.ServeMetrics(ctx, addr, reg, w.logger)
		mon = append(mon, pm)
	}

	slow := monitor.Multi{monitor.NewJSONMonitor(filepath.Join(cfg.OutputDir, "stats.json"), w.logger)}
	if w.redisClient != nil {
		slow = append(slow, monitor.NewRedisMonitor(w.redisClient, w.logger))
	}
	async := monitor.NewAsync(slow, monitor.AsyncBuffer, w.logger)
	return append(mon, async), async.Close, nil
}

// syncSeeds watches the seed directory for new files. A nil channel means
// no syncing.
func (w *Worker) syncSeeds(ctx context.Context, strat strategy.Strategy) <-chan engine.Input {
	dir := w.cfg.Strategy.SeedDir
	if w.cfg.Strategy.SeedMode == string(strategy.SeedGenerate) || w.watchdogs == nil {
		return nil
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil
	}
	synced, err := corpus.NewSyncer(w.watchdogs, strat.Encode, w.logger).Start(ctx, dir)
	if err != nil {
		w.logger.Warn("seed sync disabled", zap.Error(err))
		return nil
	}
	return synced
}

// pinToCore binds every thread of this process to core. Threads started
// later inherit the mask.
func pinToCore(core int) error {
	var set unix.CPUSet
	set.Set(core)
	return setAffinity(&set)
}

func setAffinity(set *unix.CPUSet) error {
	tasks, err := os.ReadDir("/proc/self/task")
	if err != nil {
		return unix.SchedSetaffinity(0, set)
	}
	var errs []error
	for _, task := range tasks {
		tid, err := strconv.Atoi(task.Name())
		if err != nil {
			continue
		}
		if err := unix.SchedSetaffinity(tid, set); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
