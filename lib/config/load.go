// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/ghodss/yaml"
)

// DefaultYAML is the default configuration. User config is loaded on
// top of it, so every default can be overridden.
var DefaultYAML = []byte(`
Region: us-east-1
ScratchPrefix: tmp/
LogPrefix: logs/
PoolName: default
PoolWait: 0s
PollInterval: 30s
LockTTL: 10m
LockSyncWait: 5s
AMIVersion: 2.4.2
InstanceType: m1.medium
NumInstances: 1
Cleanup: ALL
CleanupOnFailure: NONE
`)

// Load reads YAML config from rdr, applies it over the defaults, and
// validates the result.
func Load(rdr io.Reader) (*Config, error) {
	buf, err := ioutil.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(DefaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("loading default config: %v", err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile loads and validates the config file at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return cfg, nil
}
