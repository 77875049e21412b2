// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package pool decides whether a job can reuse an idle cluster that
// another job left behind, and claims one candidate at a time via a
// lock key in the object store.
package pool

import (
	"strconv"
)

// DefaultPoolName is used when a job enables pooling without naming a
// pool.
const DefaultPoolName = "default"

// InstanceReq is a job's requirement for one instance role: the type
// and count it would provision if it created its own cluster, plus
// the spot bid price if any (empty = on-demand).
type InstanceReq struct {
	Type     string
	Count    int
	BidPrice string
}

// JobRequirements captures everything about a job that decides which
// clusters it can share. Built once per job and immutable afterwards.
type JobRequirements struct {
	// PoolName the job wants to join (DefaultPoolName if the job
	// did not name one).
	PoolName string
	// RunnerVersion must match the candidate cluster's version
	// tag exactly; clusters made by other builds are never joined.
	RunnerVersion string
	// AMIVersion is the required platform version: exact
	// ("2.0.6"), a dot-separated prefix ("2.0"), or empty to
	// accept anything.
	AMIVersion string
	// Fingerprint of the job's bootstrap configuration; see
	// Fingerprint().
	Fingerprint string

	Master InstanceReq
	Core   InstanceReq
	Task   InstanceReq

	// NumSteps the job will submit.
	NumSteps int
}

// parseBid returns the dollar value of a bid-price string. Empty
// means on-demand (no bid). A malformed or non-positive bid is a
// configuration error; config validation rejects those before any
// requirement is built, so here it just reports !ok.
func parseBid(bid string) (float64, bool) {
	if bid == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(bid, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
