package domain

// Config holds the complete trialrisk configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which infrastructure backs the service
	Tier Tier `json:"tier" yaml:"tier"`

	// Pipeline locations and anomaly detection
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Anomaly  AnomalyConfig  `json:"anomaly" yaml:"anomaly"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`

	// Executive report
	Report ReportConfig `json:"report" yaml:"report"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `json:"host" yaml:"host"`
	Port         int      `json:"port" yaml:"port"`
	ReadTimeout  int      `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int      `json:"writeTimeout" yaml:"writeTimeout"` // seconds
	AllowOrigins []string `json:"allowOrigins" yaml:"allowOrigins"`
}

// PipelineConfig locates the pipeline's input and output directories.
type PipelineConfig struct {
	DataDir      string `json:"dataDir" yaml:"dataDir"`
	OutputDir    string `json:"outputDir" yaml:"outputDir"`
	WriteParquet bool   `json:"writeParquet" yaml:"writeParquet"`
}

// ReportConfig customizes the executive report.
type ReportConfig struct {
	// Guidance replaces the built-in driver guidance when non-empty.
	Guidance []GuidanceRule `json:"guidance" yaml:"guidance"`
}

// GuidanceRule attaches a line of guidance to studies matching a CEL
// expression. Expressions see risk_level, drivers (list of labels),
// drivers_text (lower-cased, comma-joined) and dqi.
type GuidanceRule struct {
	ID         string `json:"id" yaml:"id"`
	Expression string `json:"expression" yaml:"expression"`
	Text       string `json:"text" yaml:"text"`
}

// SchedulerConfig controls periodic pipeline re-runs.
type SchedulerConfig struct {
	// Cron is a six-field cron expression (with seconds). Empty disables scheduling.
	Cron string `json:"cron" yaml:"cron"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU and Go channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			AllowOrigins: []string{"*"},
		},
		Tier: TierCommunity,
		Pipeline: PipelineConfig{
			DataDir:      "data",
			OutputDir:    "outputs",
			WriteParquet: true,
		},
		Anomaly: AnomalyConfig{
			Method:    "iforest",
			Strength:  0.2,
			Threshold: 0.6,
			NumTrees:  100,
			Seed:      42,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./trialrisk.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "trialrisk",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "trialrisk",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   500,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "trialrisk-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
