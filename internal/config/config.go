package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Settings struct {
		// DataDirectory is the root of the ERP data files (DBF tables)
		DataDirectory string `json:"data_directory"`
		// CompanyID identifies the company whose ledger is reconciled
		CompanyID string `json:"company_id"`
		// DefaultAccount is the account code preselected for reconciliation
		DefaultAccount string `json:"default_account"`
		LogLevel       string `json:"log_level"`
	} `json:"settings"`
}

var globalConfig *Config

// GetConfig returns the global configuration instance
func GetConfig() *Config {
	if globalConfig == nil {
		config, err := LoadConfig()
		if err != nil {
			config = &Config{}
			config.Settings.LogLevel = "info"
		}
		globalConfig = config
	}
	return globalConfig
}

// LoadConfig loads configuration from the config file
func LoadConfig() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// If config file doesn't exist, create default one
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := &Config{}
		defaultConfig.Settings.LogLevel = "info"
		if err := SaveConfig(defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(config *Config) error {
	configPath, err := getConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	globalConfig = config
	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	appConfigDir := filepath.Join(configDir, "BankRec")
	return filepath.Join(appConfigDir, "config.json"), nil
}
