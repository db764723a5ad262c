// Package config holds the agent configuration file and the HTTP server
// settings derived from it.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the agent configuration file.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Stores lists object store URIs; reads fall back in order.
	Stores []string `yaml:"stores"`

	Attestation AttestationConfig `yaml:"attestation"`

	// StrictCertificate makes a missing birth certificate fail chip
	// certificate generation.
	StrictCertificate bool `yaml:"strict_certificate"`

	Sealing SealingConfig `yaml:"sealing"`

	Server ServerKeysConfig `yaml:"server"`
}

type AttestationConfig struct {
	// Type is one of software, tdx, nitro, remote, dummy.
	Type string `yaml:"type"`
	// RemoteAddress is the quote service of the remote type.
	RemoteAddress string `yaml:"remote_address"`
	// ImplementationID is embedded in software tokens, hex.
	ImplementationID string `yaml:"implementation_id"`
}

type SealingConfig struct {
	// MasterKey seals persisted keys, hex. Empty with Threshold set means
	// the key is recovered from admin shares at runtime.
	MasterKey string `yaml:"master_key"`
	// Threshold is the number of admin shares needed to unseal.
	Threshold int `yaml:"threshold"`
	// AdminKeysFile is a JSON file listing the admins allowed to submit
	// shares: {"admins": [{"id": ..., "pubkey": PEM}]}.
	AdminKeysFile string `yaml:"admin_keys_file"`
}

// ServerKeysConfig overrides the provisioning server public keys, hex X||Y.
type ServerKeysConfig struct {
	PublicKey    string `yaml:"public_key"`
	DoSPublicKey string `yaml:"dos_public_key"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr:  "127.0.0.1:8080",
		MetricsAddr: "127.0.0.1:8090",
		Stores:      []string{"sqlite:///var/lib/secure-element-agent/objects.db"},
		Attestation: AttestationConfig{
			Type: "software",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be checked by their consumers early.
func (c *Config) Validate() error {
	if len(c.Stores) == 0 {
		return errors.New("at least one store is required")
	}
	if c.Sealing.MasterKey != "" && c.Sealing.Threshold > 0 {
		return errors.New("sealing master_key and threshold are exclusive")
	}
	if c.Sealing.Threshold > 0 && c.Sealing.AdminKeysFile == "" {
		return errors.New("sealing threshold requires admin_keys_file")
	}
	for name, v := range map[string]string{
		"sealing.master_key":            c.Sealing.MasterKey,
		"attestation.implementation_id": c.Attestation.ImplementationID,
		"server.public_key":             c.Server.PublicKey,
		"server.dos_public_key":         c.Server.DoSPublicKey,
	} {
		if _, err := hex.DecodeString(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Bytes decodes a hex field validated by Validate.
func Bytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
