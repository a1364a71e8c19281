// Package config resolves a pkg/config.Config from a file on disk,
// picking the decoder by extension so operators can ship whichever
// format they're most comfortable with.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	pkgconfig "github.com/goran-ethernal/chainwatch/pkg/config"
	"gopkg.in/yaml.v3"
)

type decodeFunc func([]byte, any) error

var decodersByExt = map[string]decodeFunc{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
}

// LoadFromFile reads path and decodes it into a Config, choosing YAML,
// JSON, or TOML based on the file extension.
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".toml" {
		return LoadFromTOML(path)
	}

	decode, ok := decodersByExt[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finalize(&cfg)
}

// LoadFromYAML loads configuration from a YAML file directly, bypassing
// the extension dispatch in LoadFromFile.
func LoadFromYAML(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return finalize(&cfg)
}

// LoadFromJSON loads configuration from a JSON file directly, bypassing
// the extension dispatch in LoadFromFile.
func LoadFromJSON(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	return finalize(&cfg)
}

// LoadFromTOML loads configuration from a TOML file. TOML gets its own
// path rather than a []byte decodeFunc because toml.DecodeFile reads
// the file itself.
func LoadFromTOML(path string) (*pkgconfig.Config, error) {
	var cfg pkgconfig.Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	return finalize(&cfg)
}

// finalize fills in default values and rejects configs that fail
// validation, so every loader path returns a config that's ready to use.
func finalize(cfg *pkgconfig.Config) (*pkgconfig.Config, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
