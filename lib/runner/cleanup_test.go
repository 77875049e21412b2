// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&CleanupSuite{})

type CleanupSuite struct{}

func (*CleanupSuite) TestParse(c *check.C) {
	for mode, want := range map[string]CleanupFlags{
		"NONE":           {},
		"ALL":            {LocalScratch: true, RemoteScratch: true, Logs: true},
		"SCRATCH":        {LocalScratch: true, RemoteScratch: true},
		"LOCAL_SCRATCH":  {LocalScratch: true},
		"REMOTE_SCRATCH": {RemoteScratch: true},
		"LOGS":           {Logs: true},
		"JOB":            {Job: true},
		"CLUSTER":        {Cluster: true},
		"JOB,CLUSTER":    {Job: true, Cluster: true},
		"ALL,JOB":        {LocalScratch: true, RemoteScratch: true, Logs: true, Job: true},
		"LOGS, SCRATCH":  {Logs: true, LocalScratch: true, RemoteScratch: true},
	} {
		flags, err := ParseCleanupMode(mode)
		c.Check(err, check.IsNil, check.Commentf("mode %q", mode))
		c.Check(flags, check.Equals, want, check.Commentf("mode %q", mode))
	}
}

func (*CleanupSuite) TestParseErrors(c *check.C) {
	for _, mode := range []string{
		"",
		"GARBAGE",
		"NONE,LOGS",
		"LOGS,NONE",
		"ALL,",
		"logs",
	} {
		_, err := ParseCleanupMode(mode)
		c.Check(err, check.NotNil, check.Commentf("mode %q", mode))
	}
}
