// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"time"

	check "gopkg.in/check.v1"

	"github.com/yuanfeng0905/mrjob/lib/cloud/test"
	"github.com/yuanfeng0905/mrjob/lib/pool"
	"github.com/yuanfeng0905/mrjob/sdk/go/ctxlog"
	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

var _ = check.Suite(&RunnerSuite{})

type RunnerSuite struct {
	ctx    context.Context
	api    *test.StubAPI
	store  *test.StubStore
	runner *Runner
	sleeps int
}

const runnerTestVersion = "0.4.2"

var runnerTestFingerprint = pool.Fingerprint(nil, "")

func (s *RunnerSuite) SetUpTest(c *check.C) {
	s.ctx = context.Background()
	s.api = &test.StubAPI{}
	s.store = &test.StubStore{}
	s.sleeps = 0
	req := pool.JobRequirements{
		PoolName:      pool.DefaultPoolName,
		RunnerVersion: runnerTestVersion,
		Fingerprint:   runnerTestFingerprint,
		Master:        pool.InstanceReq{Type: "m1.medium", Count: 1},
		NumSteps:      2,
	}
	s.runner = &Runner{
		API:   s.api,
		Store: s.store,
		Acquirer: &pool.Acquirer{
			API: s.api,
			Locker: &pool.Locker{
				Store:  s.store,
				Logger: ctxlog.TestLogger(c),
			},
			LockPrefix: "scratch/locks/",
			ClaimantID: "test-claimant",
			Logger:     ctxlog.TestLogger(c),
		},
		Logger:       ctxlog.TestLogger(c),
		JobName:      "mr_two_step_job",
		Requirements: req,
		Spec: mrjob.ClusterSpec{
			AMIVersion: "2.4.2",
			InstanceGroups: []mrjob.InstanceGroup{
				{Role: mrjob.RoleMaster, Type: "m1.medium", Count: 1, Market: mrjob.MarketOnDemand},
			},
		},
		Steps: []mrjob.StepSpec{
			{Name: "step 1", Jar: "s3://walrus/jobs/steps.jar"},
			{Name: "step 2", Jar: "s3://walrus/jobs/steps.jar"},
		},
		Cleanup:             "ALL",
		CleanupOnFailure:    "NONE",
		RemoteScratchPrefix: "scratch/run1/",
		LogPrefix:           "logs/",
		sleep:               func(time.Duration) { s.sleeps++ },
	}
}

// addPooledCluster injects an idle cluster the default requirements
// are compatible with.
func (s *RunnerSuite) addPooledCluster(id string) mrjob.ClusterID {
	return s.api.AddCluster(mrjob.ClusterRecord{
		ID:         mrjob.ClusterID(id),
		State:      mrjob.ClusterStateWaiting,
		CreatedAt:  time.Now().Add(-time.Hour),
		AMIVersion: "2.4.2",
		Tags: mrjob.ClusterTags{
			mrjob.TagPoolName:      pool.DefaultPoolName,
			mrjob.TagRunnerVersion: runnerTestVersion,
			mrjob.TagFingerprint:   runnerTestFingerprint,
		},
		InstanceGroups: []mrjob.InstanceGroup{
			{Role: mrjob.RoleMaster, Type: "m1.medium", Count: 1, Market: mrjob.MarketOnDemand},
		},
	})
}

func (s *RunnerSuite) TestCreateAndRunToCompletion(c *check.C) {
	// The stub hands out ids in creation order, so this job's
	// cluster will be j-STUB0001 and its logs live under
	// logs/j-STUB0001/.
	c.Assert(s.store.Put(s.ctx, "scratch/run1/part-00000", []byte("data")), check.IsNil)
	c.Assert(s.store.Put(s.ctx, "logs/j-STUB0001/steps/1/syslog", []byte("log")), check.IsNil)

	c.Assert(s.runner.Run(s.ctx), check.IsNil)

	record, ok := s.api.Cluster(s.runner.Cluster())
	c.Assert(ok, check.Equals, true)
	c.Check(record.Name, check.Equals, "mr_two_step_job")
	// A non-pooled cluster is not kept alive after its steps drain.
	c.Check(record.State, check.Equals, mrjob.ClusterStateTerminated)
	c.Assert(record.Steps, check.HasLen, 2)
	for _, step := range record.Steps {
		c.Check(step.State, check.Equals, mrjob.StepStateCompleted)
	}

	// Cleanup ALL removes scratch and this cluster's logs.
	scratch, err := s.store.List(s.ctx, "scratch/run1/")
	c.Check(err, check.IsNil)
	c.Check(scratch, check.HasLen, 0)
	logs, err := s.store.List(s.ctx, "logs/")
	c.Check(err, check.IsNil)
	c.Check(logs, check.HasLen, 0)
}

func (s *RunnerSuite) TestLogCleanupSparesOtherClusters(c *check.C) {
	// Clusters share one log prefix, each writing under its own
	// subdirectory. Cleaning up this job's logs must not touch
	// the neighbors'.
	c.Assert(s.store.Put(s.ctx, "logs/j-SOMEONEELSE/steps/1/syslog", []byte("theirs")), check.IsNil)
	c.Assert(s.store.Put(s.ctx, "logs/j-STUB0001/steps/1/syslog", []byte("ours")), check.IsNil)
	s.runner.Cleanup = "LOGS"

	c.Assert(s.runner.Run(s.ctx), check.IsNil)
	c.Check(s.runner.Cluster(), check.Equals, mrjob.ClusterID("j-STUB0001"))

	ours, err := s.store.List(s.ctx, "logs/j-STUB0001/")
	c.Check(err, check.IsNil)
	c.Check(ours, check.HasLen, 0)
	theirs, err := s.store.List(s.ctx, "logs/j-SOMEONEELSE/")
	c.Check(err, check.IsNil)
	c.Check(theirs, check.HasLen, 1)
}

func (s *RunnerSuite) TestCreateDoesNotMutateSpecTags(c *check.C) {
	s.runner.Spec.Tags = mrjob.ClusterTags{"team": "data"}
	s.runner.PoolClusters = true

	c.Assert(s.runner.Run(s.ctx), check.IsNil)

	// The created cluster carries both the caller's tags and the
	// pool tags, but the caller's map gains nothing.
	record, ok := s.api.Cluster(s.runner.Cluster())
	c.Assert(ok, check.Equals, true)
	c.Check(record.Tags["team"], check.Equals, "data")
	c.Check(record.Tags[mrjob.TagPoolName], check.Equals, pool.DefaultPoolName)
	c.Check(s.runner.Spec.Tags, check.DeepEquals, mrjob.ClusterTags{"team": "data"})
}

func (s *RunnerSuite) TestJoinPooledCluster(c *check.C) {
	id := s.addPooledCluster("j-POOLED")
	s.runner.PoolClusters = true

	c.Assert(s.runner.Run(s.ctx), check.IsNil)
	c.Check(s.runner.Cluster(), check.Equals, id)

	// The cluster was locked, ran our steps, and stays alive for
	// the next job.
	data, _, err := s.store.Get(s.ctx, "scratch/locks/j-POOLED")
	c.Check(err, check.IsNil)
	c.Check(string(data), check.Equals, "test-claimant")
	record, ok := s.api.Cluster(id)
	c.Assert(ok, check.Equals, true)
	c.Check(record.State, check.Equals, mrjob.ClusterStateWaiting)
	c.Check(record.Steps, check.HasLen, 2)
}

func (s *RunnerSuite) TestCreatePooledClusterWhenFingerprintDiffers(c *check.C) {
	id := s.addPooledCluster("j-OTHER")
	other, ok := s.api.Cluster(id)
	c.Assert(ok, check.Equals, true)
	other.Tags[mrjob.TagFingerprint] = pool.Fingerprint(nil, `{"different": true}`)
	s.api.AddCluster(other)
	s.runner.PoolClusters = true

	c.Assert(s.runner.Run(s.ctx), check.IsNil)
	c.Check(s.runner.Cluster(), check.Not(check.Equals), id)

	// The new cluster carries our pool tags and stays joinable.
	record, ok := s.api.Cluster(s.runner.Cluster())
	c.Assert(ok, check.Equals, true)
	c.Check(record.Tags[mrjob.TagPoolName], check.Equals, pool.DefaultPoolName)
	c.Check(record.Tags[mrjob.TagFingerprint], check.Equals, runnerTestFingerprint)
	c.Check(record.Tags[mrjob.TagRunnerVersion], check.Equals, runnerTestVersion)
	c.Check(record.State, check.Equals, mrjob.ClusterStateWaiting)
}

func (s *RunnerSuite) TestBadCleanupModeRejectedBeforeAnyRemoteCall(c *check.C) {
	for field, mode := range map[*string]string{
		&s.runner.Cleanup:          "NONE,LOGS",
		&s.runner.CleanupOnFailure: "GARBAGE",
	} {
		saved := *field
		*field = mode
		err := s.runner.Run(s.ctx)
		c.Check(err, check.NotNil, check.Commentf("mode %q", mode))
		*field = saved
	}
	_, ok := s.api.Cluster("j-STUB0001")
	c.Check(ok, check.Equals, false)
	c.Check(s.store.Puts(), check.Equals, 0)
}

func (s *RunnerSuite) TestStepFailureKillsOwnCluster(c *check.C) {
	s.api.StepFailures = map[string]bool{"step 1": true}

	err := s.runner.Run(s.ctx)
	c.Assert(err, check.ErrorMatches, `cluster j-STUB0001: step .* \(step 1\) failed`)

	// The default action on failure for a throwaway cluster is to
	// terminate it; the remaining step is cancelled.
	record, ok := s.api.Cluster(s.runner.Cluster())
	c.Assert(ok, check.Equals, true)
	c.Check(record.State, check.Equals, mrjob.ClusterStateTerminatedWithErrors)
	c.Assert(record.Steps, check.HasLen, 2)
	c.Check(record.Steps[0].State, check.Equals, mrjob.StepStateFailed)
	c.Check(record.Steps[1].State, check.Equals, mrjob.StepStateCancelled)
}

func (s *RunnerSuite) TestStepFailureNeverKillsPooledCluster(c *check.C) {
	id := s.addPooledCluster("j-POOLED")
	s.runner.PoolClusters = true
	s.api.StepFailures = map[string]bool{"step 1": true}
	// Even a cleanup spec that asks for cluster teardown must not
	// touch a cluster this job does not exclusively own.
	s.runner.CleanupOnFailure = "ALL,JOB,CLUSTER"

	err := s.runner.Run(s.ctx)
	c.Assert(err, check.NotNil)
	c.Check(s.runner.Cluster(), check.Equals, id)

	record, ok := s.api.Cluster(id)
	c.Assert(ok, check.Equals, true)
	c.Check(record.State, check.Equals, mrjob.ClusterStateWaiting)
}

func (s *RunnerSuite) TestExplicitAttach(c *check.C) {
	// Attaching bypasses pool matching entirely, so even a cluster
	// from another pool with another fingerprint accepts the job.
	id := s.addPooledCluster("j-EXPLICIT")
	record, ok := s.api.Cluster(id)
	c.Assert(ok, check.Equals, true)
	record.Tags[mrjob.TagPoolName] = "pool1"
	record.Tags[mrjob.TagFingerprint] = "nonsense"
	s.api.AddCluster(record)
	s.runner.ClusterID = id

	c.Assert(s.runner.Run(s.ctx), check.IsNil)
	c.Check(s.runner.Cluster(), check.Equals, id)

	// No lock is taken and the cluster survives the job.
	_, _, err := s.store.Get(s.ctx, "scratch/locks/j-EXPLICIT")
	c.Check(err, check.NotNil)
	record, ok = s.api.Cluster(id)
	c.Assert(ok, check.Equals, true)
	c.Check(record.State, check.Equals, mrjob.ClusterStateWaiting)
}

func (s *RunnerSuite) TestAttachToTerminatedClusterFails(c *check.C) {
	id := s.addPooledCluster("j-DEAD")
	c.Assert(s.api.TerminateCluster(s.ctx, id), check.IsNil)
	s.runner.ClusterID = id

	err := s.runner.Run(s.ctx)
	c.Check(err, check.ErrorMatches, `cluster j-DEAD is already TERMINATED`)
}

func (s *RunnerSuite) TestStepCeiling(c *check.C) {
	id := s.addPooledCluster("j-FULL")
	record, ok := s.api.Cluster(id)
	c.Assert(ok, check.Equals, true)
	ended := time.Now().Add(-time.Hour)
	for i := 0; i < mrjob.MaxStepsPerCluster-1; i++ {
		record.Steps = append(record.Steps, mrjob.StepRecord{
			ID:      mrjob.StepID(fmt.Sprintf("s-OLD%04d", i)),
			State:   mrjob.StepStateCompleted,
			EndedAt: ended,
		})
	}
	s.api.AddCluster(record)
	s.runner.PoolClusters = true

	// A two-step job overflows the 256-step lifetime ceiling and
	// gets a fresh cluster instead.
	c.Assert(s.runner.Run(s.ctx), check.IsNil)
	c.Check(s.runner.Cluster(), check.Not(check.Equals), id)
}

func (s *RunnerSuite) TestStepCeilingOneStepStillFits(c *check.C) {
	id := s.addPooledCluster("j-FULL")
	record, ok := s.api.Cluster(id)
	c.Assert(ok, check.Equals, true)
	ended := time.Now().Add(-time.Hour)
	for i := 0; i < mrjob.MaxStepsPerCluster-1; i++ {
		record.Steps = append(record.Steps, mrjob.StepRecord{
			ID:      mrjob.StepID(fmt.Sprintf("s-OLD%04d", i)),
			State:   mrjob.StepStateCompleted,
			EndedAt: ended,
		})
	}
	s.api.AddCluster(record)
	s.runner.PoolClusters = true
	s.runner.Steps = s.runner.Steps[:1]
	s.runner.Requirements.NumSteps = 1

	c.Assert(s.runner.Run(s.ctx), check.IsNil)
	c.Check(s.runner.Cluster(), check.Equals, id)
}
