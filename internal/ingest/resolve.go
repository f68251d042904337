package ingest

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolvePath finds the sample source file for vin. explicit, when
// non-empty, always wins (set via the -source flag or SOURCE_PATH).
// Otherwise it searches a fixed candidate list, preferring a
// VIN-specific file over the shared fallback.
func ResolvePath(explicit, vin, dataDir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	candidates := []string{
		filepath.Join("data", vin+".jsonl"),
		filepath.Join("data", "samples.jsonl"),
	}
	if dataDir != "" {
		candidates = append(candidates, filepath.Join(dataDir, vin+".jsonl"))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	return "", fmt.Errorf("ingest: no sample source found for VIN %s (searched %v)", vin, candidates)
}
