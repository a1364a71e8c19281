package config

import (
	"testing"

	"github.com/goran-ethernal/chainwatch/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	validateConfig(t, cfg, "YAML")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}

	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to load TOML config: %v", err)
	}

	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to auto-load YAML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected YAML")
}

func TestLoadFromFile_JSON(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to auto-load JSON config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected JSON")
}

func TestLoadFromFile_TOML(t *testing.T) {
	cfg, err := LoadFromFile("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to auto-load TOML config: %v", err)
	}

	validateConfig(t, cfg, "auto-detected TOML")
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.Contains(t, err.Error(), "unsupported config file format")
}

// validateConfig checks that the loaded config has expected values.
func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	require.NotEmpty(t, cfg.RPC.Endpoint, "[%s] rpc.endpoint should not be empty", format)
	require.NotZero(t, cfg.RPC.MaxLogRange, "[%s] rpc.max_log_range should have default value applied", format)

	require.NotEmpty(t, cfg.DB.Path, "[%s] db.path should not be empty", format)
	require.NotEmpty(t, cfg.DB.JournalMode, "[%s] db.journal_mode should have default value", format)
	require.NotEmpty(t, cfg.DB.Synchronous, "[%s] db.synchronous should have default value", format)

	require.NotEmpty(t, cfg.Emitters, "[%s] there should be at least one emitter configured", format)

	for i, e := range cfg.Emitters {
		require.NotEmpty(t, e.Name, "[%s] emitters[%d].name should not be empty", format, i)
		require.NotEmpty(t, e.ContractAddress, "[%s] emitters[%d].contract_address should not be empty", format, i)
		require.NotZero(t, e.BatchSize, "[%s] emitters[%d].batch_size should have default value", format, i)
		require.NotEmpty(t, e.StartingBlock, "[%s] emitters[%d].starting_block should have default value", format, i)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &config.Config{
		RPC: config.RPCConfig{Endpoint: "https://test.example"},
		DB:  config.DatabaseConfig{Path: "./test.db"},
		Emitters: []config.EmitterConfig{
			{
				Name:            "test",
				ContractAddress: "0x1234",
				Events:          []string{"Transfer(address,address,uint256)"},
			},
		},
	}

	cfg.ApplyDefaults()

	if cfg.RPC.MaxLogRange != 10000 {
		t.Errorf("expected default max_log_range=10000, got %d", cfg.RPC.MaxLogRange)
	}

	if cfg.DB.JournalMode != "WAL" {
		t.Errorf("expected default journal_mode=WAL, got %s", cfg.DB.JournalMode)
	}

	if cfg.DB.Synchronous != "NORMAL" {
		t.Errorf("expected default synchronous=NORMAL, got %s", cfg.DB.Synchronous)
	}

	if cfg.DB.BusyTimeout != 5000 {
		t.Errorf("expected default busy_timeout=5000, got %d", cfg.DB.BusyTimeout)
	}

	if cfg.DB.MaxOpenConnections != 10 {
		t.Errorf("expected default max_open_connections=10, got %d", cfg.DB.MaxOpenConnections)
	}

	if len(cfg.Emitters) > 0 {
		if cfg.Emitters[0].BatchSize != 120 {
			t.Errorf("expected default batch_size=120, got %d", cfg.Emitters[0].BatchSize)
		}
		if cfg.Emitters[0].StartingBlock != "genesis" {
			t.Errorf("expected default starting_block=genesis, got %s", cfg.Emitters[0].StartingBlock)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: &config.Config{
				RPC: config.RPCConfig{Endpoint: "https://test.example"},
				DB:  config.DatabaseConfig{Path: "./test.db"},
				Emitters: []config.EmitterConfig{
					{
						Name:            "test",
						ContractAddress: "0x1234",
						Events:          []string{"Transfer(address,address,uint256)"},
					},
				},
			},
			wantErr: false,
		},
		{
			name: "missing rpc endpoint",
			cfg: &config.Config{
				DB: config.DatabaseConfig{Path: "./test.db"},
				Emitters: []config.EmitterConfig{
					{
						Name:            "test",
						ContractAddress: "0x1234",
						Events:          []string{"Transfer(address,address,uint256)"},
					},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid starting block",
			cfg: &config.Config{
				RPC: config.RPCConfig{Endpoint: "https://test.example"},
				DB:  config.DatabaseConfig{Path: "./test.db"},
				Emitters: []config.EmitterConfig{
					{
						Name:            "test",
						ContractAddress: "0x1234",
						Events:          []string{"Transfer(address,address,uint256)"},
						StartingBlock:   "not-a-block",
					},
				},
			},
			wantErr: true,
		},
		{
			name: "no emitters",
			cfg: &config.Config{
				RPC:      config.RPCConfig{Endpoint: "https://test.example"},
				DB:       config.DatabaseConfig{Path: "./test.db"},
				Emitters: []config.EmitterConfig{},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
