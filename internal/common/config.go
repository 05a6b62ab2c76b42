package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Learning    LearningConfig  `toml:"learning"`
	Dashboard   DashboardConfig `toml:"dashboard"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port      int     `toml:"port"`
	Host      string  `toml:"host"`
	RateLimit float64 `toml:"rate_limit"` // Requests per second across all clients; 0 disables
	RateBurst int     `toml:"rate_burst"`
}

type StorageConfig struct {
	Badger      BadgerConfig      `toml:"badger"`
	ObjectStore ObjectStoreConfig `toml:"objectstore"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// ObjectStoreConfig selects and configures the object store backend.
// Backend selection never leaks to callers; both backends expose the
// same ObjectStore interface.
type ObjectStoreConfig struct {
	Backend    string        `toml:"backend"`     // "filesystem" or "s3"
	Root       string        `toml:"root"`        // Filesystem backend root directory
	Bucket     string        `toml:"bucket"`      // S3 bucket name
	Region     string        `toml:"region"`      // S3 region
	Endpoint   string        `toml:"endpoint"`    // Optional S3-compatible endpoint (MinIO etc.)
	PresignTTL time.Duration `toml:"presign_ttl"` // Default presigned URL lifetime
}

type QueueConfig struct {
	PollInterval      time.Duration  `toml:"poll_interval"`      // How often executors poll for tasks
	Concurrency       int            `toml:"concurrency"`        // Number of concurrent executors
	VisibilityTimeout time.Duration  `toml:"visibility_timeout"` // Default lease duration before redelivery
	MaxReceive        int            `toml:"max_receive"`        // Max deliveries before dead-letter
	RetryBackoffBase  time.Duration  `toml:"retry_backoff_base"` // First nack redelivery delay, doubled per receive; zero redelivers immediately
	DepthCaps         map[string]int `toml:"depth_caps"`         // Per-queue high-water marks
}

// PipelineConfig carries the document processing knobs.
type PipelineConfig struct {
	ChunkSize       int           `toml:"chunk_size"`       // Pages per chunk window
	ChunkOverlap    int           `toml:"chunk_overlap"`    // Pages shared between adjacent windows
	MaxPDFSize      int64         `toml:"max_pdf_size"`     // Upload size limit in bytes
	ExtractorPool   int           `toml:"extractor_pool"`   // Parallel chunk extractions per document
	UploadTimeout   time.Duration `toml:"upload_timeout"`   // Soft time limit for pdf.validate
	ChunkTimeout    time.Duration `toml:"chunk_timeout"`    // Soft time limit for pdf.chunk
	AnalysisTimeout time.Duration `toml:"analysis_timeout"` // Soft time limit for analysis tasks
	MLTimeout       time.Duration `toml:"ml_timeout"`       // Soft time limit for ML tasks
	StepRetries     int           `toml:"step_retries"`     // Retry cap per pipeline step
	TempDir         string        `toml:"temp_dir"`         // Scratch directory for uploads
}

// LearningConfig carries the learning loop thresholds.
type LearningConfig struct {
	Enabled               bool    `toml:"enabled"`
	ConfidenceThreshold   float64 `toml:"confidence_threshold"`   // Sweep predictions below this confidence
	DisagreementThreshold float64 `toml:"disagreement_threshold"` // Member score stddev (normalized) above this
	MinFeedbackForRetrain int     `toml:"min_feedback_for_retrain"`
	MinNewSamples         int     `toml:"min_new_samples"`         // Auto-retrain condition (a)
	PerformanceFloor      float64 `toml:"performance_floor"`       // Auto-retrain condition (b)
	MaxModelAgeDays       int     `toml:"max_model_age_days"`      // Auto-retrain condition (c)
	UncertaintySchedule   string  `toml:"uncertainty_schedule"`    // Cron spec
	FeedbackBatchSchedule string  `toml:"feedback_batch_schedule"` // Cron spec
	AutoRetrainSchedule   string  `toml:"auto_retrain_schedule"`   // Cron spec
}

type DashboardConfig struct {
	CacheTTL time.Duration `toml:"cache_ttl"` // Snapshot lifetime
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with documented defaults.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:      8080,
			Host:      "localhost",
			RateLimit: 50,
			RateBurst: 100,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			ObjectStore: ObjectStoreConfig{
				Backend:    "filesystem",
				Root:       "./data/objects",
				PresignTTL: 15 * time.Minute,
			},
		},
		Queue: QueueConfig{
			PollInterval:      time.Second,
			Concurrency:       6,
			VisibilityTimeout: 5 * time.Minute,
			MaxReceive:        3,
			RetryBackoffBase:  5 * time.Second,
			DepthCaps: map[string]int{
				"pdf":           1000,
				"ml":            1000,
				"analysis":      5000,
				"notifications": 10000,
				"priority":      500,
			},
		},
		Pipeline: PipelineConfig{
			ChunkSize:       5,
			ChunkOverlap:    1,
			MaxPDFSize:      500 * 1024 * 1024,
			ExtractorPool:   4,
			UploadTimeout:   5 * time.Minute,
			ChunkTimeout:    10 * time.Minute,
			AnalysisTimeout: 20 * time.Minute,
			MLTimeout:       15 * time.Minute,
			StepRetries:     3,
			TempDir:         os.TempDir(),
		},
		Learning: LearningConfig{
			Enabled:               true,
			ConfidenceThreshold:   0.3,
			DisagreementThreshold: 0.2,
			MinFeedbackForRetrain: 20,
			MinNewSamples:         50,
			PerformanceFloor:      0.85,
			MaxModelAgeDays:       30,
			UncertaintySchedule:   "0 */6 * * *",
			FeedbackBatchSchedule: "0 */12 * * *",
			AutoRetrainSchedule:   "0 3 * * *",
		},
		Dashboard: DashboardConfig{
			CacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadConfig loads configuration from TOML files (later files override earlier
// ones) and applies ARREMATE_-prefixed environment overrides on top.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // Optional config files are skipped silently
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural invariants the pipeline depends on.
func (c *Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be positive, got %d", c.Pipeline.ChunkSize)
	}
	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap must be in [0, chunk_size), got %d", c.Pipeline.ChunkOverlap)
	}
	if c.Pipeline.MaxPDFSize <= 0 {
		return fmt.Errorf("pipeline.max_pdf_size must be positive")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive")
	}
	switch c.Storage.ObjectStore.Backend {
	case "filesystem", "s3":
	default:
		return fmt.Errorf("objectstore.backend must be \"filesystem\" or \"s3\", got %q", c.Storage.ObjectStore.Backend)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARREMATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ARREMATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ARREMATE_RATE_LIMIT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("ARREMATE_BADGER_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("ARREMATE_OBJECTSTORE_BACKEND"); v != "" {
		cfg.Storage.ObjectStore.Backend = v
	}
	if v := os.Getenv("ARREMATE_OBJECTSTORE_ROOT"); v != "" {
		cfg.Storage.ObjectStore.Root = v
	}
	if v := os.Getenv("ARREMATE_OBJECTSTORE_BUCKET"); v != "" {
		cfg.Storage.ObjectStore.Bucket = v
	}
	if v := os.Getenv("ARREMATE_OBJECTSTORE_REGION"); v != "" {
		cfg.Storage.ObjectStore.Region = v
	}
	if v := os.Getenv("ARREMATE_OBJECTSTORE_ENDPOINT"); v != "" {
		cfg.Storage.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("ARREMATE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ChunkSize = n
		}
	}
	if v := os.Getenv("ARREMATE_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ChunkOverlap = n
		}
	}
	if v := os.Getenv("ARREMATE_MAX_PDF_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pipeline.MaxPDFSize = n
		}
	}
	if v := os.Getenv("ARREMATE_EXECUTOR_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("ARREMATE_EXTRACTOR_POOL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ExtractorPool = n
		}
	}
	if v := os.Getenv("ARREMATE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dashboard.CacheTTL = d
		}
	}
	if v := os.Getenv("ARREMATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
