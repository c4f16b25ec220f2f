// Package config loads JSON-with-comments run configuration for the
// logdb-stress tool, the way this codebase's own CLI tools load their
// config: explicit flags as the baseline, overridden by whichever fields a
// hujson file sets.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// StressRun describes a logdb-stress run. Zero values mean "use the flag
// or built-in default"; a loaded file only overrides fields it sets.
type StressRun struct {
	// Threads is the number of concurrent writer goroutines.
	Threads int `json:"threads,omitempty"`

	// Count is the number of Put calls each writer goroutine performs.
	Count int `json:"count,omitempty"`

	// Sync forces an fsync after every committed write.
	Sync bool `json:"sync,omitempty"`

	// SectionSize overrides the database's section size, for exercising
	// small-section edge cases under load.
	SectionSize uint32 `json:"sectionSize,omitempty"`

	// KeyPrefix and KeySuffix bracket every generated key, mirroring
	// LOGDB_STRESS_KEY_PREFIX / LOGDB_STRESS_KEY_SUFFIX.
	KeyPrefix string `json:"keyPrefix,omitempty"`
	KeySuffix string `json:"keySuffix,omitempty"`
}

// Load reads a hujson (JSON with comments and trailing commas) run
// configuration file.
func Load(path string) (StressRun, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StressRun{}, fmt.Errorf("read config: %w", err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return StressRun{}, fmt.Errorf("parse config: %w", err)
	}

	var run StressRun
	if err := json.Unmarshal(std, &run); err != nil {
		return StressRun{}, fmt.Errorf("decode config: %w", err)
	}

	return run, nil
}
