// Package config loads the agent's settings from environment
// variables (with an optional best-effort .env file), mirroring the
// reference fleet telemetry service's config.Load().
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the agent needs to start.
type Config struct {
	VIN string

	SourcePath string
	DataDir    string

	BufferDir string

	IngestHost string

	SampleInterval time.Duration
	StatsEvery     int

	HTTPAddr string

	Debug bool
}

// Load parses CLI flags and environment variables into a Config.
// flag values passed via args take precedence over the corresponding
// environment variable. A missing .env file is not an error — Load
// always attempts to load one best-effort.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("tesgazer-edge", flag.ContinueOnError)
	vinFlag := fs.String("vin", "", "vehicle identification number (overrides VEHICLE_VIN)")
	sourceFlag := fs.String("source", "", "path to the sample source file (overrides SOURCE_PATH)")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parsing flags: %w", err)
	}

	vin := *vinFlag
	if vin == "" {
		vin = getEnv("VEHICLE_VIN", "")
	}
	if vin == "" {
		return nil, fmt.Errorf("config: VIN is required (set -vin or VEHICLE_VIN)")
	}

	sourcePath := *sourceFlag
	if sourcePath == "" {
		sourcePath = getEnv("SOURCE_PATH", "")
	}

	cfg := &Config{
		VIN:            vin,
		SourcePath:     sourcePath,
		DataDir:        getEnv("TESGAZER_DATA_DIR", ""),
		BufferDir:      getEnv("BUFFER_DIR", "./buffer"),
		IngestHost:     getEnv("INGEST_HOST", "http://localhost:9090"),
		SampleInterval: getEnvDuration("SAMPLE_INTERVAL", 100*time.Millisecond),
		StatsEvery:     getEnvInt("STATS_EVERY", 50),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8090"),
		Debug:          getEnvBool("DEBUG", false),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
