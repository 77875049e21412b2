// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package mrjob provides the types shared between the job runner, the
// pooling scheduler, and the cluster service drivers.
package mrjob

import (
	"time"
)

// ClusterID is the remote service's identifier for a cluster.
type ClusterID string

// StepID is the remote service's identifier for a submitted step.
type StepID string

// MaxStepsPerCluster is the remote service's hard ceiling on the
// number of steps submitted to one cluster over its lifetime.
const MaxStepsPerCluster = 256

// ClusterState is the lifecycle state reported by the remote service.
type ClusterState string

const (
	ClusterStateStarting             ClusterState = "STARTING"
	ClusterStateBootstrapping        ClusterState = "BOOTSTRAPPING"
	ClusterStateWaiting              ClusterState = "WAITING"
	ClusterStateRunning              ClusterState = "RUNNING"
	ClusterStateTerminating          ClusterState = "TERMINATING"
	ClusterStateTerminated           ClusterState = "TERMINATED"
	ClusterStateTerminatedWithErrors ClusterState = "TERMINATED_WITH_ERRORS"
)

// Terminal returns true if no further state transition can occur.
func (s ClusterState) Terminal() bool {
	return s == ClusterStateTerminated || s == ClusterStateTerminatedWithErrors
}

// StepState is the execution state of one submitted step.
type StepState string

const (
	StepStatePending     StepState = "PENDING"
	StepStateRunning     StepState = "RUNNING"
	StepStateCompleted   StepState = "COMPLETED"
	StepStateCancelled   StepState = "CANCELLED"
	StepStateFailed      StepState = "FAILED"
	StepStateInterrupted StepState = "INTERRUPTED"
)

// Terminal returns true if the step will make no further progress.
func (s StepState) Terminal() bool {
	switch s {
	case StepStateCompleted, StepStateCancelled, StepStateFailed, StepStateInterrupted:
		return true
	default:
		return false
	}
}

// ActionOnFailure tells the remote service what to do with a cluster
// when a submitted step fails.
type ActionOnFailure string

const (
	ActionTerminateCluster ActionOnFailure = "TERMINATE_CLUSTER"
	ActionCancelAndWait    ActionOnFailure = "CANCEL_AND_WAIT"
)

// InstanceRole identifies an instance group's function in a cluster.
type InstanceRole string

const (
	RoleMaster InstanceRole = "MASTER"
	RoleCore   InstanceRole = "CORE"
	RoleTask   InstanceRole = "TASK"
)

// InstanceMarket is the purchasing model of an instance group.
type InstanceMarket string

const (
	MarketOnDemand InstanceMarket = "ON_DEMAND"
	MarketSpot     InstanceMarket = "SPOT"
)

// InstanceGroup describes one homogeneous group of instances in a
// cluster, as provisioned by the remote service.
type InstanceGroup struct {
	Role     InstanceRole
	Type     string
	Count    int
	Market   InstanceMarket
	BidPrice string // dollars; empty for on-demand groups
}

// StepRecord is the remote service's view of one submitted step.
// EndedAt is zero while the step has not recorded an end time.
type StepRecord struct {
	ID      StepID
	Name    string
	State   StepState
	EndedAt time.Time
}

// Tag keys attached to every cluster this runner creates. Together
// they decide whether a cluster is eligible for reuse by another job.
const (
	TagPoolName      = "mrjob-pool-name"
	TagFingerprint   = "mrjob-pool-fingerprint"
	TagRunnerVersion = "mrjob-version"
)

// ClusterTags is the string metadata attached to a cluster at creation
// time.
type ClusterTags map[string]string

// ClusterRecord mirrors the remote service's state for one cluster.
// It is owned by the remote service; callers observe it via polling
// and never mutate it directly.
type ClusterRecord struct {
	ID             ClusterID
	Name           string
	State          ClusterState
	CreatedAt      time.Time
	AMIVersion     string
	AutoTerminate  bool
	Tags           ClusterTags
	InstanceGroups []InstanceGroup
	Steps          []StepRecord
}

// Group returns the cluster's instance group with the given role, or
// nil if the cluster has none.
func (cr *ClusterRecord) Group(role InstanceRole) *InstanceGroup {
	for i := range cr.InstanceGroups {
		if cr.InstanceGroups[i].Role == role {
			return &cr.InstanceGroups[i]
		}
	}
	return nil
}

// WorkerGroups returns the cluster's non-master instance groups.
func (cr *ClusterRecord) WorkerGroups() []InstanceGroup {
	var groups []InstanceGroup
	for _, ig := range cr.InstanceGroups {
		if ig.Role != RoleMaster {
			groups = append(groups, ig)
		}
	}
	return groups
}

// Idle returns true if the cluster is waiting with no step pending or
// running, i.e. a new job could start on it immediately.
func (cr *ClusterRecord) Idle() bool {
	if cr.State != ClusterStateWaiting {
		return false
	}
	for _, st := range cr.Steps {
		if !st.State.Terminal() {
			return false
		}
	}
	return true
}

// BootstrapAction is a script the remote service runs on each node
// while provisioning a cluster.
type BootstrapAction struct {
	Name       string
	ScriptPath string
	Args       []string
}

// ClusterSpec is a request to create a new cluster.
type ClusterSpec struct {
	Name             string
	AMIVersion       string
	InstanceGroups   []InstanceGroup
	Tags             ClusterTags
	BootstrapActions []BootstrapAction
	AdditionalInfo   string
	LogURI           string
	// KeepAlive leaves the cluster waiting for more steps instead
	// of terminating when its step queue drains.
	KeepAlive bool
}

// StepSpec is a request to submit one step to a cluster.
type StepSpec struct {
	Name            string
	Jar             string
	Args            []string
	ActionOnFailure ActionOnFailure
}
