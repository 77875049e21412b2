// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"strings"

	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// Matches reports whether the given idle cluster can run a job with
// the given requirements. It is a pure predicate: "no" is a normal
// result, never an error.
func Matches(req JobRequirements, record *mrjob.ClusterRecord) bool {
	if !record.Idle() {
		return false
	}
	if record.Tags[mrjob.TagPoolName] != req.PoolName {
		return false
	}
	if record.Tags[mrjob.TagRunnerVersion] != req.RunnerVersion {
		return false
	}
	if record.Tags[mrjob.TagFingerprint] != req.Fingerprint {
		return false
	}
	if !versionSatisfies(req.AMIVersion, record.AMIVersion) {
		return false
	}
	// The service refuses steps beyond its lifetime ceiling, and
	// finished steps still count against it.
	if len(record.Steps)+req.NumSteps > mrjob.MaxStepsPerCluster {
		return false
	}
	master := record.Group(mrjob.RoleMaster)
	if master == nil || !masterSatisfies(req.Master, *master) {
		return false
	}
	return workersSatisfy(req, record)
}

// versionSatisfies reports whether a cluster's platform version meets
// the required version: empty accepts anything, otherwise an exact
// match or a dot-separated prefix ("2.0" accepts "2.0.6").
func versionSatisfies(want, have string) bool {
	if want == "" || want == have {
		return true
	}
	return strings.HasPrefix(have, want+".")
}

// masterSatisfies reports whether the cluster's master instance can
// stand in for the requirement's master. A weak master cannot be made
// up for by worker surplus, so this is a per-instance comparison.
func masterSatisfies(req InstanceReq, got mrjob.InstanceGroup) bool {
	if !bidSatisfies(req.BidPrice, got) {
		return false
	}
	reqUnits, reqKnown := unitsFor(req.Type)
	gotUnits, gotKnown := unitsFor(got.Type)
	if !reqKnown || !gotKnown {
		// No cross-type comparison for types missing from the
		// capacity table.
		return got.Type == req.Type
	}
	return gotUnits >= reqUnits
}

// workersSatisfy compares the cluster's aggregate non-master capacity
// against the requirement's. More, smaller instances may substitute
// for fewer, larger ones as long as the total capacity holds and each
// required role's bid price is dominated.
func workersSatisfy(req JobRequirements, record *mrjob.ClusterRecord) bool {
	for _, pair := range []struct {
		req  InstanceReq
		role mrjob.InstanceRole
	}{{req.Core, mrjob.RoleCore}, {req.Task, mrjob.RoleTask}} {
		if pair.req.Count == 0 || pair.req.BidPrice == "" {
			continue
		}
		group := record.Group(pair.role)
		if group == nil {
			// The cluster role absorbing this capacity is
			// core when it has no matching group.
			group = record.Group(mrjob.RoleCore)
		}
		if group == nil || !bidSatisfies(pair.req.BidPrice, *group) {
			return false
		}
	}

	reqUnits := 0.0
	reqCount := 0
	reqType := ""
	uniformReq := true
	unknown := false
	for _, r := range []InstanceReq{req.Core, req.Task} {
		if r.Count == 0 {
			continue
		}
		reqCount += r.Count
		if reqType == "" {
			reqType = r.Type
		} else if reqType != r.Type {
			uniformReq = false
		}
		if units, ok := unitsFor(r.Type); ok {
			reqUnits += units * float64(r.Count)
		} else {
			unknown = true
		}
	}
	if reqCount == 0 {
		// Single-instance job: the master check was enough.
		return true
	}

	gotUnits := 0.0
	gotCount := 0
	uniformGot := true
	for _, group := range record.WorkerGroups() {
		gotCount += group.Count
		if group.Type != reqType {
			uniformGot = false
		}
		if units, ok := unitsFor(group.Type); ok {
			gotUnits += units * float64(group.Count)
		} else {
			unknown = true
		}
	}

	if unknown {
		// A type missing from the capacity table might have any
		// amount of CPU and memory, so only an identical setup
		// with at least as many instances is acceptable.
		return uniformReq && uniformGot && gotCount >= reqCount
	}
	return gotUnits >= reqUnits
}

// bidSatisfies reports whether a cluster instance group's market and
// bid price satisfy a requirement's bid price. No required bid
// (on-demand) is satisfied by either market; a required bid is only
// satisfied by a spot group bidding at least as much.
func bidSatisfies(reqBid string, got mrjob.InstanceGroup) bool {
	if reqBid == "" {
		return true
	}
	want, ok := parseBid(reqBid)
	if !ok {
		return false
	}
	if got.Market != mrjob.MarketSpot {
		return false
	}
	have, ok := parseBid(got.BidPrice)
	if !ok {
		return false
	}
	return have >= want
}
