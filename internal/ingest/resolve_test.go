package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
}

func TestResolvePath_ExplicitAlwaysWins(t *testing.T) {
	got, err := ResolvePath("explicit/path.jsonl", "VIN123", "")
	require.NoError(t, err)
	assert.Equal(t, "explicit/path.jsonl", got)
}

func TestResolvePath_PrefersVINSpecificOverSharedFallback(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	touch(t, filepath.Join("data", "VIN123.jsonl"))
	touch(t, filepath.Join("data", "samples.jsonl"))

	got, err := ResolvePath("", "VIN123", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "VIN123.jsonl"), got)
}

func TestResolvePath_DataDirCandidateIsLastResort(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	dataDir := filepath.Join(dir, "external")
	touch(t, filepath.Join("data", "samples.jsonl"))
	touch(t, filepath.Join(dataDir, "VIN123.jsonl"))

	// Both "./data/samples.jsonl" and "$dataDir/VIN123.jsonl" exist; the
	// shared fallback under ./data must still be preferred since the
	// data-dir candidate is searched last.
	got, err := ResolvePath("", "VIN123", dataDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "samples.jsonl"), got)
}

func TestResolvePath_FallsBackToDataDirWhenNothingElseExists(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	dataDir := filepath.Join(dir, "external")
	touch(t, filepath.Join(dataDir, "VIN123.jsonl"))

	got, err := ResolvePath("", "VIN123", dataDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "VIN123.jsonl"), got)
}

func TestResolvePath_ReturnsErrorWhenNoCandidateExists(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	_, err = ResolvePath("", "VIN123", "")
	assert.Error(t, err)
}
