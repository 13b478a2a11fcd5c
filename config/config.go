// Package config defines the HSP Mesh configuration surface and a builder-style
// loader that merges defaults, an optional YAML file, and HSP_-prefixed
// environment variables.
package config

import "time"

// Config is the complete configuration for a hspd process.
type Config struct {
	Bus         BusConfig         `yaml:"bus" env:"BUS"`
	Registry    RegistryConfig    `yaml:"registry" env:"REGISTRY"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle" env:"LIFECYCLE"`
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge" env:"KNOWLEDGE"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" env:"TELEMETRY"`
	APIServer   APIServerConfig   `yaml:"api_server" env:"API_SERVER"`
	Database    DatabaseConfig    `yaml:"database" env:"DATABASE"`
}

// BusConfig configures the message bus transport.
type BusConfig struct {
	Endpoint         string        `yaml:"endpoint" env:"ENDPOINT"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial" env:"RECONNECT_INITIAL"`
	ReconnectMax     time.Duration `yaml:"reconnect_max" env:"RECONNECT_MAX"`
	SigningEnabled   bool          `yaml:"signing_enabled" env:"SIGNING_ENABLED"`
}

// RegistryConfig configures capability advertisement bookkeeping.
type RegistryConfig struct {
	AdvertisementTTL time.Duration `yaml:"advertisement_ttl" env:"ADVERTISEMENT_TTL"`
}

// LifecycleConfig configures agent spawn/health supervision.
type LifecycleConfig struct {
	SpawnTimeout       time.Duration `yaml:"spawn_timeout" env:"SPAWN_TIMEOUT"`
	KillGrace          time.Duration `yaml:"kill_grace" env:"KILL_GRACE"`
	HealthPollInterval time.Duration `yaml:"health_poll_interval" env:"HEALTH_POLL_INTERVAL"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold" env:"UNHEALTHY_THRESHOLD"`
}

// CoordinatorConfig configures project decomposition and scheduling.
type CoordinatorConfig struct {
	InFlightCap     int           `yaml:"in_flight_cap" env:"IN_FLIGHT_CAP"`
	SubtaskDeadline time.Duration `yaml:"subtask_deadline" env:"SUBTASK_DEADLINE"`
	ProjectDeadline time.Duration `yaml:"project_deadline" env:"PROJECT_DEADLINE"`
	FailurePolicy   string        `yaml:"failure_policy" env:"FAILURE_POLICY"`
}

// KnowledgeConfig configures fact-scorecard ingestion thresholds.
type KnowledgeConfig struct {
	IngestionFloor   float64 `yaml:"ingestion_floor" env:"INGESTION_FLOOR"`
	NoveltyBonus     float64 `yaml:"novelty_bonus" env:"NOVELTY_BONUS"`
	DuplicateEpsilon float64 `yaml:"duplicate_epsilon" env:"DUPLICATE_EPSILON"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry tracing/metrics export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// APIServerConfig configures the project submission/status HTTP surface.
type APIServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig configures the GORM connection backing persistence.ProjectStore
// and persistence.FactStore. Driver selects the migration dialect
// (persistence.DialectPostgres / persistence.DialectSQLite).
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// DefaultConfig returns the configuration surface's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Endpoint:         "localhost:6379",
			ReconnectInitial: 500 * time.Millisecond,
			ReconnectMax:     30 * time.Second,
			SigningEnabled:   false,
		},
		Registry: RegistryConfig{
			AdvertisementTTL: 60 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			SpawnTimeout:       15 * time.Second,
			KillGrace:          5 * time.Second,
			HealthPollInterval: 30 * time.Second,
			UnhealthyThreshold: 3,
		},
		Coordinator: CoordinatorConfig{
			InFlightCap:     8,
			SubtaskDeadline: 30 * time.Second,
			ProjectDeadline: 300 * time.Second,
			FailurePolicy:   "best-effort",
		},
		Knowledge: KnowledgeConfig{
			IngestionFloor:   0.2,
			NoveltyBonus:     0.05,
			DuplicateEpsilon: 0.01,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "hspd",
			SampleRate:  0.1,
		},
		APIServer: APIServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "hspd.db",
		},
	}
}
