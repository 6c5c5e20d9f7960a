// config_file.go: YAML configuration files and multi-source loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package leakdumper

import (
	"os"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// fileConfig mirrors Config in its on-disk YAML form. Pointers distinguish
// "absent" from "zero" so absent keys keep their defaults.
type fileConfig struct {
	InitialGraceMs *int64           `yaml:"initial_grace_ms,omitempty"`
	MinLifeMs      *int64           `yaml:"min_life_ms,omitempty"`
	DetectFiles    *bool            `yaml:"detect_files,omitempty"`
	DetectFilters  *bool            `yaml:"detect_filters,omitempty"`
	DumpStream     *string          `yaml:"dump_stream,omitempty"`
	Audit          *fileAuditConfig `yaml:"audit,omitempty"`
}

type fileAuditConfig struct {
	Enabled       *bool   `yaml:"enabled,omitempty"`
	OutputFile    *string `yaml:"output_file,omitempty"`
	MinLevel      *string `yaml:"min_level,omitempty"`
	BufferSize    *int    `yaml:"buffer_size,omitempty"`
	FlushInterval *string `yaml:"flush_interval,omitempty"`
}

// LoadConfigFile reads a YAML configuration file on top of the defaults
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read config file").
			WithContext("path", path)
	}

	config := DefaultConfig()
	if err := applyYAML(config, data); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to parse config file").
			WithContext("path", path)
	}
	return config, nil
}

// LoadConfigMultiSource loads configuration with precedence:
// 1. Environment variables (highest priority)
// 2. Configuration file, when configFile is not empty
// 3. Default values (lowest priority)
func LoadConfigMultiSource(configFile string) (*Config, error) {
	config := DefaultConfig()
	if configFile != "" {
		fromFile, err := LoadConfigFile(configFile)
		if err != nil {
			return nil, err
		}
		config = fromFile
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyYAML overrides config with the keys present in data
func applyYAML(config *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.InitialGraceMs != nil {
		config.InitialGrace = time.Duration(*fc.InitialGraceMs) * time.Millisecond
	}
	if fc.MinLifeMs != nil {
		config.MinLife = time.Duration(*fc.MinLifeMs) * time.Millisecond
	}
	if fc.DetectFiles != nil {
		config.DetectFiles = *fc.DetectFiles
	}
	if fc.DetectFilters != nil {
		config.DetectFilters = *fc.DetectFilters
	}
	if fc.DumpStream != nil {
		config.DumpStream = ParseDumpStream(*fc.DumpStream)
	}

	if fc.Audit == nil {
		return nil
	}
	audit := fc.Audit
	if audit.Enabled != nil {
		config.Audit.Enabled = *audit.Enabled
	}
	if audit.OutputFile != nil {
		config.Audit.OutputFile = *audit.OutputFile
	}
	if audit.MinLevel != nil {
		level, err := parseAuditLevel(*audit.MinLevel)
		if err != nil {
			return err
		}
		config.Audit.MinLevel = level
	}
	if audit.BufferSize != nil {
		config.Audit.BufferSize = *audit.BufferSize
	}
	if audit.FlushInterval != nil {
		interval, err := time.ParseDuration(*audit.FlushInterval)
		if err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "invalid audit flush_interval").
				WithContext("value", *audit.FlushInterval)
		}
		config.Audit.FlushInterval = interval
	}
	return nil
}

// ToYAML renders the effective configuration in the same shape LoadConfigFile reads
func (c *Config) ToYAML() ([]byte, error) {
	grace := c.InitialGrace.Milliseconds()
	minLife := c.MinLife.Milliseconds()
	stream := c.DumpStream.String()
	level := c.Audit.MinLevel.String()
	flush := c.Audit.FlushInterval.String()

	fc := fileConfig{
		InitialGraceMs: &grace,
		MinLifeMs:      &minLife,
		DetectFiles:    &c.DetectFiles,
		DetectFilters:  &c.DetectFilters,
		DumpStream:     &stream,
		Audit: &fileAuditConfig{
			Enabled:       &c.Audit.Enabled,
			OutputFile:    &c.Audit.OutputFile,
			MinLevel:      &level,
			BufferSize:    &c.Audit.BufferSize,
			FlushInterval: &flush,
		},
	}
	return yaml.Marshal(&fc)
}
