package crash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"corrfuzz/config"
	"corrfuzz/internal/engine"
	"corrfuzz/internal/utils"
	"corrfuzz/pkg/database"
	"corrfuzz/pkg/mq"
	"corrfuzz/pkg/telemetry"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ObjectiveMessage is published for every stored objective.
type ObjectiveMessage struct {
	Worker     int       `json:"worker"`
	Path       string    `json:"path"`
	Outcome    string    `json:"outcome"`
	Executions uint64    `json:"executions"`
	FoundAt    time.Time `json:"found_at"`
}

type CrashManager struct {
	db     *gorm.DB
	mq     mq.RabbitMQ
	logger *zap.Logger

	crashFolder string
	crashChan   chan engine.Objective
	wg          sync.WaitGroup
	done        chan struct{}
}

type CrashManagerParams struct {
	fx.In

	Config    *config.AppConfig
	DB        *gorm.DB    `optional:"true"`
	RabbitMQ  mq.RabbitMQ `optional:"true"`
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// CrashFolder is where worker stores its objectives.
func CrashFolder(outputDir string, worker int) string {
	return filepath.Join(outputDir, fmt.Sprintf("worker_%d", worker), "crashes")
}

func NewCrashManager(p CrashManagerParams) *CrashManager {
	c, err := New(CrashFolder(p.Config.OutputDir, p.Config.WorkerID), p.DB, p.RabbitMQ, p.Logger)
	if err != nil {
		// if we can't create the crash folder, there's no point in continueing
		p.Logger.Fatal("failed to create crash folder", zap.Error(err))
		return nil
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Stop()
			return nil
		},
	})
	return c
}

// New creates a manager writing into crashFolder. db and rabbitMQ may be nil.
func New(crashFolder string, db *gorm.DB, rabbitMQ mq.RabbitMQ, logger *zap.Logger) (*CrashManager, error) {
	if err := os.MkdirAll(crashFolder, 0755); err != nil {
		return nil, err
	}
	return &CrashManager{
		db,
		rabbitMQ,
		logger,
		crashFolder,
		make(chan engine.Objective, 1024),
		sync.WaitGroup{},
		make(chan struct{}),
	}, nil
}

func (c *CrashManager) Start() {
	c.logger.Debug("starting crash manager")
	go c.start()
}

// Stop waits for every registered channel to close, then for all pending
// objectives to be stored.
func (c *CrashManager) Stop() {
	c.logger.Info("stopping crash manager")
	c.wg.Wait() // wait until all objective channels are properly closed
	c.logger.Debug("closing crash channel")
	close(c.crashChan)
	c.logger.Debug("waiting for crash manager to finish processing")
	<-c.done
}

func (c *CrashManager) Folder() string {
	return c.crashFolder
}

func (c *CrashManager) RegisterObjectiveChan(ctx context.Context, rCh <-chan engine.Objective) {
	c.wg.Add(1)
	objTracer := telemetry.FromContext(ctx).Spawn("objective manager")
	objTracer.Start()
	go func() {
		defer c.wg.Done()
		defer objTracer.End()

		counter := 0
		for obj := range rCh {
			counter++
			c.logger.Debug("new objective received", zap.Int("worker", obj.Worker), zap.Stringer("outcome", obj.Outcome))
			c.crashChan <- obj
		}
		c.logger.Debug("objective channel closed")

		objTracer.WithAttributes(telemetry.EmptySpanAttributes().WithExtraAttribute("objectives_found", counter))
	}()
	c.logger.Debug("new objective channel registered")
}

func (c *CrashManager) start() {
	defer close(c.done)
	for obj := range c.crashChan {
		if err := c.processObjective(obj); err != nil {
			c.logger.Error("failed to process objective", zap.Error(err))
		}
	}
}

// processObjective stores a single objective, named by its md5
func (c *CrashManager) processObjective(obj engine.Objective) error {
	path, err := utils.WriteContentFile(c.crashFolder, obj.Data)
	if err != nil {
		return fmt.Errorf("failed to write objective: %w", err)
	}
	c.logger.Info("Found objective",
		zap.String("path", path),
		zap.Stringer("outcome", obj.Outcome),
		zap.Uint64("executions", obj.Executions))

	if c.db != nil {
		row := database.NewObjective(
			obj.Worker,
			path,
			obj.Outcome.String(),
			obj.Executions,
			database.Metric{
				"stdout_bytes": len(obj.Stdout),
				"stderr_bytes": len(obj.Stderr),
			},
		)
		if err := database.AddObjectives(context.Background(), c.db, []*database.Objective{row}); err != nil {
			return fmt.Errorf("failed to add objective: %w", err)
		}
	}

	if c.mq != nil {
		msg := ObjectiveMessage{obj.Worker, path, obj.Outcome.String(), obj.Executions, obj.FoundAt}
		if err := c.mq.PublishJSON(context.Background(), mq.ObjectiveQueueName, msg); err != nil {
			return fmt.Errorf("failed to publish objective: %w", err)
		}
	}
	return nil
}
