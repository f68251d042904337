package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresVIN(t *testing.T) {
	t.Setenv("VEHICLE_VIN", "")
	_, err := Load(nil)
	require.Error(t, err)
}

func TestLoad_FlagTakesPrecedenceOverEnv(t *testing.T) {
	t.Setenv("VEHICLE_VIN", "ENVVIN")
	t.Setenv("SOURCE_PATH", "env/path.jsonl")

	cfg, err := Load([]string{"-vin", "FLAGVIN", "-source", "flag/path.jsonl"})
	require.NoError(t, err)
	assert.Equal(t, "FLAGVIN", cfg.VIN)
	assert.Equal(t, "flag/path.jsonl", cfg.SourcePath)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VEHICLE_VIN", "DEFAULTVIN")
	t.Setenv("SOURCE_PATH", "")
	t.Setenv("BUFFER_DIR", "")
	t.Setenv("INGEST_HOST", "")
	t.Setenv("SAMPLE_INTERVAL", "")
	t.Setenv("STATS_EVERY", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DEBUG", "")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "./buffer", cfg.BufferDir)
	assert.Equal(t, "http://localhost:9090", cfg.IngestHost)
	assert.Equal(t, 100*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 50, cfg.StatsEvery)
	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.False(t, cfg.Debug)
}
