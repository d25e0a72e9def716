package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Settings holds all configuration for the coordinator platform. It is loaded
// once at startup and read-only afterwards.
type Settings struct {
	// Core Identity
	CoordinatorID string

	// Validation Protocol Configuration
	SolutionValidationDuration         time.Duration // window length for vote collection per submission
	SolutionValidationConsensusRatio   float64       // fraction of eligible voters that must accept
	SuccessfulSolutionSubmissionReward int64         // base reward for an accepted submission
	SolutionValidationReward           int64         // reward per validation vote cast
	RandomProblemInstancePoolSize      int           // instances sampled per agent browse request
	MinValidationTimeLeft              time.Duration // do not hand out tasks with less time remaining

	// Optimization direction applied to instances that don't declare one
	DefaultMinimize bool

	// Storage Configuration
	DatabasePath        string
	DataDir             string // root for run data
	ProblemInstancesDir string // where problem files are loaded from
	ActiveSolutionsDir  string // artifacts of submissions under validation
	BestSolutionsDir    string // artifacts of promoted best solutions
	DefaultRewardBudget int64  // budget assigned to instances registered from disk

	// Redis Configuration (events + activity timelines)
	RedisHost     string
	RedisPort     string
	RedisDB       int
	RedisPassword string
	EventsEnabled bool

	// API Configuration
	APIHost string
	APIPort int

	// Monitoring & Debugging
	MetricsEnabled bool
	MetricsPort    int
	LogLevel       string
	DebugMode      bool

	// Agent Configuration (client-side only, not enforced by the coordinator)
	MaxSolveTime     time.Duration // upper bound on one solving turn before yielding to validation duty
	CoordinatorURL   string        // base URL agents talk to
	AgentIdleBackoff time.Duration // wait between dispatch loop turns when nothing to do
}

var (
	// SettingsObj is the global settings instance
	SettingsObj *Settings
)

// LoadConfig loads configuration from environment variables
func LoadConfig() error {
	dataDir := getEnv("DATA_DIR", "./data")

	SettingsObj = &Settings{
		// Core Identity
		CoordinatorID: getEnv("COORDINATOR_ID", "coordinator-1"),

		// Validation Protocol Configuration
		SolutionValidationDuration:         time.Duration(getEnvAsInt("SOLUTION_VALIDATION_DURATION", 60)) * time.Second,
		SolutionValidationConsensusRatio:   getEnvAsFloat("SOLUTION_VALIDATION_CONSENSUS_RATIO", 0.5),
		SuccessfulSolutionSubmissionReward: int64(getEnvAsInt("SUCCESSFUL_SOLUTION_SUBMISSION_REWARD", 10)),
		SolutionValidationReward:           int64(getEnvAsInt("SOLUTION_VALIDATION_REWARD", 1)),
		RandomProblemInstancePoolSize:      getEnvAsInt("RANDOM_PROBLEM_INSTANCE_POOL_SIZE", 10),
		MinValidationTimeLeft:              time.Duration(getEnvAsInt("MIN_VALIDATION_TIME_LEFT", 15)) * time.Second,

		DefaultMinimize: strings.ToLower(getEnv("OPTIMIZATION_DIRECTION", "minimize")) != "maximize",

		// Storage Configuration
		DatabasePath:        getEnv("DATABASE_PATH", filepath.Join(dataDir, "coordinator.db")),
		DataDir:             dataDir,
		ProblemInstancesDir: getEnv("PROBLEM_INSTANCES_DIR", "./problem_instances"),
		ActiveSolutionsDir:  filepath.Join(dataDir, "active_solutions"),
		BestSolutionsDir:    filepath.Join(dataDir, "best_solutions"),
		DefaultRewardBudget: int64(getEnvAsInt("DEFAULT_REWARD_BUDGET", 100)),

		// Redis Configuration
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		EventsEnabled: getBoolEnv("EVENTS_ENABLED", false),

		// API Configuration
		APIHost: getEnv("API_HOST", "0.0.0.0"),
		APIPort: getEnvAsInt("API_PORT", 8080),

		// Monitoring & Debugging
		MetricsEnabled: getBoolEnv("METRICS_ENABLED", false),
		MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DebugMode:      getBoolEnv("DEBUG_MODE", false),

		// Agent Configuration
		MaxSolveTime:     time.Duration(getEnvAsInt("MAX_SOLVE_TIME", 30)) * time.Second,
		CoordinatorURL:   getEnv("COORDINATOR_URL", "http://localhost:8080"),
		AgentIdleBackoff: time.Duration(getEnvAsInt("AGENT_IDLE_BACKOFF_MS", 500)) * time.Millisecond,
	}

	// Configure logging
	configureLogging()

	// Validate configuration
	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Log configuration summary
	logConfigSummary()

	return nil
}

// configureLogging sets up the logger based on configuration
func configureLogging() {
	switch strings.ToLower(SettingsObj.LogLevel) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	// Override with debug mode
	if SettingsObj.DebugMode {
		log.SetLevel(log.DebugLevel)
	}

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

// validateConfig validates the loaded configuration
func validateConfig() error {
	s := SettingsObj

	if s.SolutionValidationDuration <= 0 {
		return fmt.Errorf("SOLUTION_VALIDATION_DURATION must be positive")
	}
	if s.SolutionValidationConsensusRatio < 0 || s.SolutionValidationConsensusRatio > 1 {
		return fmt.Errorf("SOLUTION_VALIDATION_CONSENSUS_RATIO must be in [0,1], got %f", s.SolutionValidationConsensusRatio)
	}
	if s.RandomProblemInstancePoolSize <= 0 {
		return fmt.Errorf("RANDOM_PROBLEM_INSTANCE_POOL_SIZE must be positive")
	}
	if s.SuccessfulSolutionSubmissionReward < 0 || s.SolutionValidationReward < 0 {
		return fmt.Errorf("rewards must not be negative")
	}
	if s.MinValidationTimeLeft >= s.SolutionValidationDuration {
		log.Warn("MIN_VALIDATION_TIME_LEFT >= SOLUTION_VALIDATION_DURATION - validation tasks will never be handed out")
	}

	return nil
}

// logConfigSummary logs a summary of the configuration
func logConfigSummary() {
	s := SettingsObj

	log.Info("=== Configuration Loaded ===")
	log.Infof("Coordinator ID: %s", s.CoordinatorID)
	log.Infof("Validation window: %v, consensus ratio: %.2f", s.SolutionValidationDuration, s.SolutionValidationConsensusRatio)
	log.Infof("Rewards: submission=%d, validation=%d", s.SuccessfulSolutionSubmissionReward, s.SolutionValidationReward)
	log.Infof("Database: %s", s.DatabasePath)
	log.Infof("Problem instances: %s (default budget %d)", s.ProblemInstancesDir, s.DefaultRewardBudget)
	if s.EventsEnabled {
		log.Infof("Redis: %s:%s (DB %d)", s.RedisHost, s.RedisPort, s.RedisDB)
	}
	log.Infof("API: %s:%d", s.APIHost, s.APIPort)
	if s.MetricsEnabled {
		log.Infof("Metrics: port %d", s.MetricsPort)
	}
	log.Info("============================")
}

// RedisAddr returns the host:port address of the configured Redis instance.
func (s *Settings) RedisAddr() string {
	return fmt.Sprintf("%s:%s", s.RedisHost, s.RedisPort)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		value = strings.ToLower(value)
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}
