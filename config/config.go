package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// set by the launcher on every worker process it spawns
	WorkerIDEnv   = "CORRFUZZ_WORKER_ID"
	WorkerCoreEnv = "CORRFUZZ_WORKER_CORE"
	ConfigFileEnv = "CORRFUZZ_CONFIG"
)

type AppConfig struct {
	Target    TargetConfig    `yaml:"target"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Reporting ReportingConfig `yaml:"reporting"`

	OutputDir  string `yaml:"output_dir"`
	Cores      string `yaml:"cores"`
	StdoutFile string `yaml:"stdout_file"`
	StderrFile string `yaml:"stderr_file"`

	LogLevel    string `yaml:"log_level"`
	ServiceName string `yaml:"service_name"`
	OtelEnabled bool   `yaml:"otel_enabled"`
	MetricsAddr string `yaml:"metrics_addr"`
	RedisUrl    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	RabbitMQURL string `yaml:"rabbitmq_url"`

	// only meaningful inside a worker process
	WorkerID   int `yaml:"-"`
	WorkerCore int `yaml:"-"`
}

type TargetConfig struct {
	Binary         string        `yaml:"binary"`
	Args           []string      `yaml:"args"`
	ShimLibrary    string        `yaml:"shim_library"`
	GuardLibrary   string        `yaml:"guard_library"`
	Timeout        time.Duration `yaml:"timeout"`
	CrashExitCodes []int         `yaml:"crash_exit_codes"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

type StrategyConfig struct {
	Backend        string `yaml:"backend"`   // blob | tree
	SeedMode       string `yaml:"seed_mode"` // corpus | generate | both
	SeedDir        string `yaml:"seed_dir"`
	GrammarFile    string `yaml:"grammar_file"`
	GrammarCommand string `yaml:"grammar_command"`
	NumGenerated   int    `yaml:"num_generated"`
	MaxDepth       int    `yaml:"max_depth"`
}

type ReportingConfig struct {
	ReportEvery       uint64        `yaml:"report_every"`
	HistogramSize     int           `yaml:"histogram_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

func Default() *AppConfig {
	return &AppConfig{
		Target: TargetConfig{
			Binary:         "./llvm/build/bin/clang",
			Args:           []string{"-o", "/dev/null", "-xc++", "-fintegrated-cc1", "-"},
			ShimLibrary:    "./build/libcorrfuzz_shim.so",
			GuardLibrary:   "./build/libcorrfuzz_guardcount.so",
			Timeout:        time.Second,
			CrashExitCodes: []int{134, 139},
			MaxOutputBytes: 64 << 10,
		},
		Strategy: StrategyConfig{
			Backend:      "blob",
			SeedMode:     "corpus",
			SeedDir:      "valid_corpus",
			NumGenerated: 4096,
			MaxDepth:     256,
		},
		Reporting: ReportingConfig{
			ReportEvery:       100,
			HistogramSize:     32,
			HeartbeatInterval: 15 * time.Second,
		},
		OutputDir:   "./out",
		Cores:       "0",
		LogLevel:    "info",
		ServiceName: "corrfuzz",
		WorkerID:    -1,
		WorkerCore:  -1,
	}
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	godotenv.Load()

	config := Default()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := loadYaml(path, config); err != nil {
			logger.Fatal("failed to load config file", zap.String("path", path), zap.Error(err))
		}
	}

	config.Target.Binary = parseString(os.Getenv("TARGET_BINARY"), config.Target.Binary)
	config.Target.Args = parseList(os.Getenv("TARGET_ARGS"), config.Target.Args)
	config.Target.ShimLibrary = parseString(os.Getenv("SHIM_LIBRARY"), config.Target.ShimLibrary)
	config.Target.GuardLibrary = parseString(os.Getenv("GUARD_LIBRARY"), config.Target.GuardLibrary)
	config.Target.Timeout = parseDuration(os.Getenv("TIMEOUT"), config.Target.Timeout)
	config.Target.CrashExitCodes = parseInts(os.Getenv("CRASH_EXIT_CODES"), config.Target.CrashExitCodes)
	config.Target.MaxOutputBytes = parseInt(os.Getenv("MAX_OUTPUT_BYTES"), config.Target.MaxOutputBytes)

	config.Strategy.Backend = parseString(os.Getenv("BACKEND"), config.Strategy.Backend)
	config.Strategy.SeedMode = parseString(os.Getenv("SEED_MODE"), config.Strategy.SeedMode)
	config.Strategy.SeedDir = parseString(os.Getenv("SEED_DIR"), config.Strategy.SeedDir)
	config.Strategy.GrammarFile = parseString(os.Getenv("GRAMMAR_FILE"), config.Strategy.GrammarFile)
	config.Strategy.GrammarCommand = parseString(os.Getenv("GRAMMAR_COMMAND"), config.Strategy.GrammarCommand)
	config.Strategy.NumGenerated = parseInt(os.Getenv("NUM_GENERATED"), config.Strategy.NumGenerated)
	config.Strategy.MaxDepth = parseInt(os.Getenv("MAX_DEPTH"), config.Strategy.MaxDepth)

	config.Reporting.ReportEvery = uint64(parseInt(os.Getenv("REPORT_EVERY"), int(config.Reporting.ReportEvery)))
	config.Reporting.HistogramSize = parseInt(os.Getenv("HISTOGRAM_SIZE"), config.Reporting.HistogramSize)
	config.Reporting.HeartbeatInterval = parseDuration(os.Getenv("HEARTBEAT_INTERVAL"), config.Reporting.HeartbeatInterval)

	config.OutputDir = parseString(os.Getenv("OUTPUT_DIR"), config.OutputDir)
	config.Cores = parseString(os.Getenv("CORES"), config.Cores)
	config.StdoutFile = parseString(os.Getenv("STDOUT_FILE"), config.StdoutFile)
	config.StderrFile = parseString(os.Getenv("STDERR_FILE"), config.StderrFile)
	config.LogLevel = parseString(os.Getenv("LOG_LEVEL"), config.LogLevel)
	config.ServiceName = parseString(os.Getenv("SERVICE_NAME"), config.ServiceName)
	config.OtelEnabled = parseBool(os.Getenv("OTEL_ENABLED"), config.OtelEnabled)
	config.MetricsAddr = parseString(os.Getenv("METRICS_ADDR"), config.MetricsAddr)
	config.RedisUrl = parseString(os.Getenv("REDIS_URL"), config.RedisUrl)
	config.DatabaseURL = parseString(os.Getenv("DATABASE_URL"), config.DatabaseURL)
	config.RabbitMQURL = parseString(os.Getenv("RABBITMQ_URL"), config.RabbitMQURL)

	config.WorkerID = parseInt(os.Getenv(WorkerIDEnv), -1)
	config.WorkerCore = parseInt(os.Getenv(WorkerCoreEnv), -1)

	if config.Target.Binary == "" {
		logger.Fatal("TARGET_BINARY is required")
	}
	if config.Reporting.ReportEvery == 0 {
		config.Reporting.ReportEvery = 100
	}
	if config.Reporting.HistogramSize <= 0 {
		config.Reporting.HistogramSize = 32
	}

	return config
}

// IsWorker reports whether this process was spawned by the launcher.
func (c *AppConfig) IsWorker() bool {
	return c.WorkerID >= 0
}

func loadYaml(path string, config *AppConfig) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(content, config)
}

func parseString(val string, defaultVal string) string {
	if val == "" {
		return defaultVal
	}
	return val
}

func parseList(val string, defaultVal []string) []string {
	if val == "" {
		return defaultVal
	}
	return strings.Fields(val)
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		// plain integers are milliseconds
		ms, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal
		}
		return time.Duration(ms) * time.Millisecond
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseInts(val string, defaultVal []int) []int {
	if val == "" {
		return defaultVal
	}
	var ints []int
	for _, part := range strings.Split(val, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultVal
		}
		ints = append(ints, i)
	}
	return ints
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
