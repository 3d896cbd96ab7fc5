package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"qschat/chat"
)

// Version information
const (
	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

// Defaults for the chat application.
const (
	DefaultListenPort = 23456
	DefaultInboundDir = "received_files"
	DefaultKEMBackend = chat.BackendKyber
	DefaultLogLevel   = int(LogLevelInfo)
)

// Config holds runtime configuration, loaded from ~/.qschat/config when
// present.
type Config struct {
	ListenPort         int    `json:"listen_port"`
	KEMBackend         string `json:"kem_backend"`
	InboundDir         string `json:"inbound_dir"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds"`
	LogLevel           int    `json:"log_level"`
	LogFile            string `json:"log_file,omitempty"`
}

// NewDefaultConfig creates configuration with default values. Idle peers are
// not reaped by default; set idle_timeout_seconds to change that.
func NewDefaultConfig() *Config {
	return &Config{
		ListenPort:         DefaultListenPort,
		KEMBackend:         DefaultKEMBackend,
		InboundDir:         DefaultInboundDir,
		IdleTimeoutSeconds: 0,
		LogLevel:           DefaultLogLevel,
	}
}

// ValidateConfig validates the configuration for consistency.
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if config.ListenPort < 1 || config.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port: %d", config.ListenPort)
	}
	switch config.KEMBackend {
	case "", chat.BackendKyber, chat.BackendX25519:
	default:
		return fmt.Errorf("unknown KEM backend: %q", config.KEMBackend)
	}
	if config.InboundDir == "" {
		return fmt.Errorf("inbound directory cannot be empty")
	}
	if config.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("idle timeout cannot be negative: %d", config.IdleTimeoutSeconds)
	}
	if config.LogLevel < int(LogLevelSilent) || config.LogLevel > int(LogLevelDebug) {
		return fmt.Errorf("invalid log level: %d", config.LogLevel)
	}
	return nil
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".qschat", "config"), nil
}

// loadConfig reads ~/.qschat/config, falling back to defaults when the file
// does not exist.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return NewDefaultConfig(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := NewDefaultConfig()
	if err := json.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// createDefaultConfigFile writes the default configuration to
// ~/.qschat/config, refusing to clobber an existing file.
func createDefaultConfigFile() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	raw, err := json.MarshalIndent(NewDefaultConfig(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0600)
}
