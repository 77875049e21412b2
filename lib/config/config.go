// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package config defines the job runner's configuration file format
// and derives the cluster layout and pool requirements from it.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yuanfeng0905/mrjob/lib/pool"
	"github.com/yuanfeng0905/mrjob/lib/runner"
	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// InstanceConfig configures one role's instance group. A blank or
// zero bid price means on-demand instances.
type InstanceConfig struct {
	Type     string
	Count    int
	BidPrice string
}

type Config struct {
	Region          string
	EMREndpoint     string
	S3Endpoint      string
	S3UsePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string

	// ScratchBucket holds lock keys, scratch data, and logs.
	ScratchBucket   string
	ScratchPrefix   string
	LogPrefix       string
	LocalScratchDir string

	PoolClusters bool
	PoolName     string
	// PoolWait bounds how long to keep polling for a joinable
	// cluster before creating a fresh one. Zero checks once.
	PoolWait     mrjob.Duration
	PollInterval mrjob.Duration
	LockTTL      mrjob.Duration
	LockSyncWait mrjob.Duration

	// ClusterID runs the job on the given cluster, skipping pool
	// matching and cluster creation.
	ClusterID    string
	AMIVersion   string
	InstanceType string
	// NumInstances is the total cluster size: one master plus
	// NumInstances-1 core instances of InstanceType. Ignored for
	// roles configured explicitly below.
	NumInstances   int
	MasterInstance InstanceConfig
	CoreInstance   InstanceConfig
	TaskInstance   InstanceConfig

	AdditionalInfo   string
	BootstrapActions []mrjob.BootstrapAction
	// IdleTimeout adds a bootstrap action that makes the cluster
	// terminate itself after sitting idle this long. The action is
	// excluded from the pool fingerprint.
	IdleTimeout       mrjob.Duration
	IdleTimeoutScript string
	// RunnerVersion overrides the build version recorded in pool
	// tags, forcing or breaking pool compatibility.
	RunnerVersion string

	ActionOnFailure  string
	Cleanup          string
	CleanupOnFailure string

	Steps []mrjob.StepSpec
}

// Validate rejects configurations that would otherwise fail after
// remote work has already started.
func (cfg *Config) Validate() error {
	if _, err := runner.ParseCleanupMode(cfg.Cleanup); err != nil {
		return fmt.Errorf("Cleanup: %v", err)
	}
	if _, err := runner.ParseCleanupMode(cfg.CleanupOnFailure); err != nil {
		return fmt.Errorf("CleanupOnFailure: %v", err)
	}
	if cfg.NumInstances < 1 {
		return fmt.Errorf("NumInstances must be at least 1, got %d", cfg.NumInstances)
	}
	for _, role := range []struct {
		name string
		ic   *InstanceConfig
	}{
		{"MasterInstance", &cfg.MasterInstance},
		{"CoreInstance", &cfg.CoreInstance},
		{"TaskInstance", &cfg.TaskInstance},
	} {
		normalized, err := normalizeBidPrice(role.ic.BidPrice)
		if err != nil {
			return fmt.Errorf("%s.BidPrice: %v", role.name, err)
		}
		role.ic.BidPrice = normalized
	}
	switch mrjob.ActionOnFailure(cfg.ActionOnFailure) {
	case "", mrjob.ActionTerminateCluster, mrjob.ActionCancelAndWait:
	default:
		return fmt.Errorf("unrecognized ActionOnFailure %q", cfg.ActionOnFailure)
	}
	if cfg.PoolClusters && cfg.ScratchBucket == "" {
		return fmt.Errorf("cluster pooling requires ScratchBucket for lock keys")
	}
	if cfg.IdleTimeout > 0 && cfg.IdleTimeoutScript == "" {
		return fmt.Errorf("IdleTimeout requires IdleTimeoutScript")
	}
	return nil
}

// normalizeBidPrice validates a configured bid price. Blank and zero
// both mean on-demand and normalize to blank; anything else must be a
// positive decimal, kept as a string for the cluster API.
func normalizeBidPrice(bid string) (string, error) {
	bid = strings.TrimSpace(bid)
	if bid == "" {
		return "", nil
	}
	price, err := strconv.ParseFloat(bid, 64)
	if err != nil {
		return "", fmt.Errorf("not a decimal number: %q", bid)
	}
	if price < 0 {
		return "", fmt.Errorf("negative bid price: %q", bid)
	}
	if price == 0 {
		return "", nil
	}
	return bid, nil
}

// masterType resolves the master's instance type: an explicit
// MasterInstance.Type wins, a single-instance cluster puts everything
// on its master, and otherwise the master gets the smallest default.
func (cfg *Config) masterType() string {
	if cfg.MasterInstance.Type != "" {
		return cfg.MasterInstance.Type
	}
	if cfg.NumInstances == 1 && cfg.CoreInstance.Count == 0 && cfg.TaskInstance.Count == 0 {
		return cfg.InstanceType
	}
	return "m1.medium"
}

// coreInstance resolves the core role: explicit config wins, else
// NumInstances-1 instances of InstanceType.
func (cfg *Config) coreInstance() InstanceConfig {
	if cfg.CoreInstance.Count > 0 {
		return cfg.CoreInstance
	}
	if cfg.NumInstances > 1 {
		return InstanceConfig{Type: cfg.InstanceType, Count: cfg.NumInstances - 1}
	}
	return InstanceConfig{}
}

// InstanceGroups resolves the configured cluster layout.
func (cfg *Config) InstanceGroups() []mrjob.InstanceGroup {
	groups := []mrjob.InstanceGroup{
		group(mrjob.RoleMaster, InstanceConfig{
			Type:     cfg.masterType(),
			Count:    1,
			BidPrice: cfg.MasterInstance.BidPrice,
		}),
	}
	if core := cfg.coreInstance(); core.Count > 0 {
		groups = append(groups, group(mrjob.RoleCore, core))
	}
	if cfg.TaskInstance.Count > 0 {
		groups = append(groups, group(mrjob.RoleTask, cfg.TaskInstance))
	}
	return groups
}

func group(role mrjob.InstanceRole, ic InstanceConfig) mrjob.InstanceGroup {
	market := mrjob.MarketOnDemand
	if ic.BidPrice != "" {
		market = mrjob.MarketSpot
	}
	return mrjob.InstanceGroup{
		Role:     role,
		Type:     ic.Type,
		Count:    ic.Count,
		Market:   market,
		BidPrice: ic.BidPrice,
	}
}

// Requirements builds the job's pool requirements. buildVersion is
// the running binary's version, used unless RunnerVersion overrides
// it.
func (cfg *Config) Requirements(numSteps int, buildVersion string) pool.JobRequirements {
	version := cfg.RunnerVersion
	if version == "" {
		version = buildVersion
	}
	core := cfg.coreInstance()
	return pool.JobRequirements{
		PoolName:      cfg.PoolName,
		RunnerVersion: version,
		AMIVersion:    cfg.AMIVersion,
		Fingerprint:   pool.Fingerprint(cfg.bootstrapActions(), cfg.AdditionalInfo),
		Master: pool.InstanceReq{
			Type:     cfg.masterType(),
			Count:    1,
			BidPrice: cfg.MasterInstance.BidPrice,
		},
		Core: pool.InstanceReq{
			Type:     core.Type,
			Count:    core.Count,
			BidPrice: core.BidPrice,
		},
		Task: pool.InstanceReq{
			Type:     cfg.TaskInstance.Type,
			Count:    cfg.TaskInstance.Count,
			BidPrice: cfg.TaskInstance.BidPrice,
		},
		NumSteps: numSteps,
	}
}

// ClusterSpec builds the creation request for a new cluster.
func (cfg *Config) ClusterSpec(name string) mrjob.ClusterSpec {
	spec := mrjob.ClusterSpec{
		Name:             name,
		AMIVersion:       cfg.AMIVersion,
		InstanceGroups:   cfg.InstanceGroups(),
		BootstrapActions: cfg.bootstrapActions(),
		AdditionalInfo:   cfg.AdditionalInfo,
	}
	if cfg.ScratchBucket != "" && cfg.LogPrefix != "" {
		spec.LogURI = fmt.Sprintf("s3://%s/%s", cfg.ScratchBucket, cfg.LogPrefix)
	}
	return spec
}

// bootstrapActions returns the configured actions plus the idle
// self-termination action, if enabled.
func (cfg *Config) bootstrapActions() []mrjob.BootstrapAction {
	actions := append([]mrjob.BootstrapAction(nil), cfg.BootstrapActions...)
	if cfg.IdleTimeout > 0 {
		actions = append(actions, mrjob.BootstrapAction{
			Name:       pool.IdleTimeoutActionName,
			ScriptPath: cfg.IdleTimeoutScript,
			Args:       []string{strconv.Itoa(int(cfg.IdleTimeout.Duration().Seconds()))},
		})
	}
	return actions
}

// LockPrefix is the object-store prefix for cluster lock keys.
func (cfg *Config) LockPrefix() string {
	return cfg.ScratchPrefix + "locks/"
}
