// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"fmt"
	"strings"
)

// Cleanup mode tokens accepted in a comma-separated cleanup spec.
const (
	CleanupAll           = "ALL"
	CleanupJob           = "JOB"
	CleanupCluster       = "CLUSTER"
	CleanupLogs          = "LOGS"
	CleanupScratch       = "SCRATCH"
	CleanupRemoteScratch = "REMOTE_SCRATCH"
	CleanupLocalScratch  = "LOCAL_SCRATCH"
	CleanupNone          = "NONE"
)

// CleanupFlags is a resolved cleanup spec: which teardown actions run
// after a job ends.
type CleanupFlags struct {
	// Job kills the job's own remote work if it is still running.
	// Only meaningful on the failure branch, and only on a
	// cluster this job owns, where stopping the work means
	// terminating the cluster.
	Job bool
	// Cluster terminates the job's own cluster. Never applies to
	// pooled or explicitly attached clusters, regardless of mode.
	Cluster bool
	// Logs deletes the job's cluster's log subdirectory from the
	// object store.
	Logs bool
	// RemoteScratch deletes the job's scratch prefix from the
	// object store.
	RemoteScratch bool
	// LocalScratch deletes the job's local scratch directory.
	LocalScratch bool
}

// ParseCleanupMode resolves a comma-separated cleanup spec into flags.
// ALL expands to LOCAL_SCRATCH+REMOTE_SCRATCH+LOGS, SCRATCH to
// LOCAL_SCRATCH+REMOTE_SCRATCH. NONE cannot be combined with any other
// token. Unrecognized tokens are configuration errors.
func ParseCleanupMode(mode string) (CleanupFlags, error) {
	var flags CleanupFlags
	tokens := strings.Split(mode, ",")
	none := false
	for _, token := range tokens {
		switch strings.TrimSpace(token) {
		case CleanupAll:
			flags.LocalScratch = true
			flags.RemoteScratch = true
			flags.Logs = true
		case CleanupJob:
			flags.Job = true
		case CleanupCluster:
			flags.Cluster = true
		case CleanupLogs:
			flags.Logs = true
		case CleanupScratch:
			flags.LocalScratch = true
			flags.RemoteScratch = true
		case CleanupRemoteScratch:
			flags.RemoteScratch = true
		case CleanupLocalScratch:
			flags.LocalScratch = true
		case CleanupNone:
			none = true
		case "":
			return CleanupFlags{}, fmt.Errorf("empty token in cleanup mode %q", mode)
		default:
			return CleanupFlags{}, fmt.Errorf("unrecognized cleanup mode %q", strings.TrimSpace(token))
		}
	}
	if none && len(tokens) > 1 {
		return CleanupFlags{}, fmt.Errorf("cleanup mode NONE cannot be combined with other modes in %q", mode)
	}
	return flags, nil
}
