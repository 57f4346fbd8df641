package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config is the CLI-facing configuration loaded from file.
type Config struct {
	DataPath        string  `json:"dataPath"`
	CommitPath      string  `json:"commitPath"`
	CommitBackend   string  `json:"commitBackend"` // "file" or "pebble"
	MemorySizeBits  uint    `json:"memorySizeBits"`
	PageSizeBits    uint    `json:"pageSizeBits"`
	SegmentSizeBits uint    `json:"segmentSizeBits"`
	MutableFraction float64 `json:"mutableFraction"`
	LogLevel        string  `json:"logLevel"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		CommitBackend:   "file",
		MemorySizeBits:  25,
		PageSizeBits:    22,
		SegmentSizeBits: 30,
		MutableFraction: 0.9,
		LogLevel:        "info",
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".json", "":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, errors.New("config: only JSON files are supported")
	}
	return cfg, nil
}
