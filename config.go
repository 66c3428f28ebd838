package nodedb

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// MetadataFormat selects how Store persists its metadata document.
type MetadataFormat string

const (
	// MetadataFormatBinary is the compact, checksummed format produced by
	// internal/allocator.Encode. This is the default and the only format
	// Store can reopen; MetadataFormatYAML is write-only, for humans.
	MetadataFormatBinary MetadataFormat = "binary"

	// MetadataFormatYAML additionally dumps a human-readable snapshot
	// alongside the binary metadata file, for humans to read.
	MetadataFormatYAML MetadataFormat = "yaml"
)

// Config holds the options needed to open a Store.
type Config struct {
	ValuesPath   string `json:"values_path"`   //nolint:tagliatelle // snake_case for config file
	MetadataPath string `json:"metadata_path"` //nolint:tagliatelle // snake_case for config file

	// AutoFlushMetadata, when true, persists the metadata document after
	// every Set/Remove rather than only on Close. Off by default: per
	// spec, metadata persistence after every mutation is recommended, not
	// mandated, and flushing on every call trades latency for a smaller
	// crash window.
	AutoFlushMetadata bool `json:"auto_flush_metadata,omitempty"` //nolint:tagliatelle

	// MetadataFormat additionally controls whether a YAML snapshot is
	// written next to the binary metadata file.
	MetadataFormat MetadataFormat `json:"metadata_format,omitempty"` //nolint:tagliatelle
}

// DefaultConfig returns the default configuration: binary metadata next
// to "values.db" named "values.db.meta", no auto-flush.
func DefaultConfig() Config {
	return Config{
		ValuesPath:     "values.db",
		MetadataPath:   "values.db.meta",
		MetadataFormat: MetadataFormatBinary,
	}
}

// LoadConfig reads a JSONC config file (comments and trailing commas
// allowed, per the teacher's own .tk.json convention) at path, merges it
// over [DefaultConfig], and validates it. A missing file yields the
// defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled, same as the teacher's config loader
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("%w: reading %s: %w", errConfigInvalid, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: invalid JSONC: %w", errConfigInvalid, path, err)
	}

	var overlay Config
	if err := json.Unmarshal(standardized, &overlay); err != nil {
		return Config{}, fmt.Errorf("%w: %s: invalid JSON: %w", errConfigInvalid, path, err)
	}

	mergeConfig(&cfg, overlay)

	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, err)
	}

	return cfg, nil
}

func mergeConfig(base *Config, overlay Config) {
	if overlay.ValuesPath != "" {
		base.ValuesPath = overlay.ValuesPath
	}

	if overlay.MetadataPath != "" {
		base.MetadataPath = overlay.MetadataPath
	}

	if overlay.MetadataFormat != "" {
		base.MetadataFormat = overlay.MetadataFormat
	}

	base.AutoFlushMetadata = base.AutoFlushMetadata || overlay.AutoFlushMetadata
}

func validateConfig(cfg Config) error {
	if cfg.ValuesPath == "" {
		return fmt.Errorf("values_path cannot be empty")
	}

	if cfg.MetadataPath == "" {
		return fmt.Errorf("metadata_path cannot be empty")
	}

	switch cfg.MetadataFormat {
	case MetadataFormatBinary, MetadataFormatYAML:
	default:
		return fmt.Errorf("unknown metadata_format: %q", cfg.MetadataFormat)
	}

	return nil
}
