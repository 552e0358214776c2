// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	Port       int    `yaml:"port"`
	StorageDir string `yaml:"storageDir"`
	HomeDir    string `yaml:"homeDir"`

	// Ticks per second.
	TickRate int `yaml:"tickRate"`

	// Playback engine names.
	Players []string `yaml:"players"`

	// Start playback with the first take when no take is bound.
	DefaultToFirstBuffer *bool `yaml:"defaultToFirstBuffer"`

	// Basic auth is disabled if the hash is empty.
	AdminUser         string `yaml:"adminUser"`
	AdminPasswordHash string `yaml:"adminPasswordHash"`

	ConfigDir string `yaml:"-"`
}

// Config errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrInvalidTickRate = errors.New("invalid tick rate")
	ErrInvalidPlayer   = errors.New("invalid player name")
)

const maxTickRate = 1000

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == 0 {
		env.Port = 2020
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.HomeDir, "storage")
	}
	if env.TickRate == 0 {
		env.TickRate = 60
	}
	if len(env.Players) == 0 {
		env.Players = []string{"main"}
	}
	if env.DefaultToFirstBuffer == nil {
		defaultToFirst := true
		env.DefaultToFirstBuffer = &defaultToFirst
	}
	if env.AdminUser == "" {
		env.AdminUser = "admin"
	}

	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("homeDir '%v': %w", env.HomeDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}
	if env.TickRate < 0 || env.TickRate > maxTickRate {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTickRate, env.TickRate)
	}

	seen := make(map[string]struct{})
	for _, name := range env.Players {
		if name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidPlayer)
		}
		if _, exist := seen[name]; exist {
			return nil, fmt.Errorf("%w: duplicate name: %v", ErrInvalidPlayer, name)
		}
		seen[name] = struct{}{}
	}

	return &env, nil
}

// TakesDBPath returns path to the take database.
func (env ConfigEnv) TakesDBPath() string {
	return filepath.Join(env.StorageDir, "takes.db")
}

// LogDBPath returns path to the log database.
func (env ConfigEnv) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.StorageDir, 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create storage directory: %v: %w", env.StorageDir, err)
	}
	return nil
}
