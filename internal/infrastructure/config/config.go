package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Traversal modes
const (
	TraversalDatabase = "database" // SQL traversal functions
	TraversalEngine   = "engine"   // in-process worklist over batched adjacency reads
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Traversal TraversalConfig
	Graph     GraphConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host        string
	Port        int
	MetricsPort int // Port for Prometheus metrics HTTP server
}

// StorageConfig selects the provenance store
type StorageConfig struct {
	Driver string // postgres or memory
}

// TraversalConfig controls lineage traversal
type TraversalConfig struct {
	Mode            string
	DefaultMaxDepth int // used when a request omits maxDepth
	MaxDepth        int // upper bound accepted from callers
}

// GraphConfig controls the AGE graph mirror
type GraphConfig struct {
	MirrorEnabled bool
	Name          string
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Enabled        bool
	NumCounters    int64
	MaxMemoryBytes int64 // Maximum memory usage in bytes (e.g., 104857600 = 100MB)
	BufferItems    int64
	Metrics        bool
	TTLMinutes     int // Time-to-live for cache entries in minutes
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	// Set config file name based on environment
	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")

	// The project root is optional so installed binaries still start
	if projectRoot, err := findProjectRoot(); err == nil {
		viper.AddConfigPath(projectRoot)
	}
	viper.AddConfigPath(".")

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 50051)
	viper.SetDefault("METRICS_PORT", 9090)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "provgraph")
	viper.SetDefault("DB_NAME", "provgraph_dev")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("STORAGE_DRIVER", DriverPostgres)
	viper.SetDefault("TRAVERSAL_MODE", TraversalDatabase)
	viper.SetDefault("TRAVERSAL_DEFAULT_MAX_DEPTH", 10)
	viper.SetDefault("TRAVERSAL_MAX_DEPTH", 50)
	viper.SetDefault("GRAPH_MIRROR_ENABLED", true)
	viper.SetDefault("GRAPH_NAME", "prov_graph")

	// Cache defaults
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_NUM_COUNTERS", 100000)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 100*1024*1024) // 100MB
	viper.SetDefault("CACHE_BUFFER_ITEMS", 64)
	viper.SetDefault("CACHE_METRICS", true)
	viper.SetDefault("CACHE_TTL_MINUTES", 5)

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:        viper.GetString("SERVER_HOST"),
			Port:        viper.GetInt("SERVER_PORT"),
			MetricsPort: viper.GetInt("METRICS_PORT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Storage: StorageConfig{
			Driver: viper.GetString("STORAGE_DRIVER"),
		},
		Traversal: TraversalConfig{
			Mode:            viper.GetString("TRAVERSAL_MODE"),
			DefaultMaxDepth: viper.GetInt("TRAVERSAL_DEFAULT_MAX_DEPTH"),
			MaxDepth:        viper.GetInt("TRAVERSAL_MAX_DEPTH"),
		},
		Graph: GraphConfig{
			MirrorEnabled: viper.GetBool("GRAPH_MIRROR_ENABLED"),
			Name:          viper.GetString("GRAPH_NAME"),
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			NumCounters:    viper.GetInt64("CACHE_NUM_COUNTERS"),
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			BufferItems:    viper.GetInt64("CACHE_BUFFER_ITEMS"),
			Metrics:        viper.GetBool("CACHE_METRICS"),
			TTLMinutes:     viper.GetInt("CACHE_TTL_MINUTES"),
		},
		Log: LogConfig{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		// DB_PASSWORD is required for security
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (expected %s or %s)", c.Storage.Driver, DriverPostgres, DriverMemory)
	}

	switch c.Traversal.Mode {
	case TraversalDatabase, TraversalEngine:
	default:
		return fmt.Errorf("unknown TRAVERSAL_MODE %q (expected %s or %s)", c.Traversal.Mode, TraversalDatabase, TraversalEngine)
	}

	if c.Traversal.MaxDepth < 1 {
		return fmt.Errorf("TRAVERSAL_MAX_DEPTH must be at least 1, got %d", c.Traversal.MaxDepth)
	}
	if c.Traversal.DefaultMaxDepth < 1 || c.Traversal.DefaultMaxDepth > c.Traversal.MaxDepth {
		return fmt.Errorf("TRAVERSAL_DEFAULT_MAX_DEPTH must be between 1 and %d, got %d",
			c.Traversal.MaxDepth, c.Traversal.DefaultMaxDepth)
	}
	return nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
