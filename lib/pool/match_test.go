// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"fmt"
	"time"

	check "gopkg.in/check.v1"

	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

var _ = check.Suite(&MatchSuite{})

type MatchSuite struct{}

const (
	testRunnerVersion = "0.4.2"
	testAMIVersion    = "2.4.2"
)

var testFingerprint = Fingerprint(nil, "")

// jobReq builds the requirements of a job that would provision n
// instances of the given type: one master plus n-1 core workers, with
// the master falling back to the smallest default type, the way the
// config layer derives requirements from an instance count.
func jobReq(instanceType string, n int) JobRequirements {
	req := JobRequirements{
		PoolName:      DefaultPoolName,
		RunnerVersion: testRunnerVersion,
		Fingerprint:   testFingerprint,
		NumSteps:      2,
	}
	if n <= 1 {
		req.Master = InstanceReq{Type: instanceType, Count: 1}
	} else {
		req.Master = InstanceReq{Type: "m1.medium", Count: 1}
		req.Core = InstanceReq{Type: instanceType, Count: n - 1}
	}
	return req
}

// idleCluster builds the record of an idle pooled cluster provisioned
// with n instances of the given type, mirroring jobReq's layout.
func idleCluster(instanceType string, n int) mrjob.ClusterRecord {
	record := mrjob.ClusterRecord{
		ID:         mrjob.ClusterID(fmt.Sprintf("j-%s-%d", instanceType, n)),
		State:      mrjob.ClusterStateWaiting,
		CreatedAt:  time.Now().Add(-10 * time.Minute),
		AMIVersion: testAMIVersion,
		Tags: mrjob.ClusterTags{
			mrjob.TagPoolName:      DefaultPoolName,
			mrjob.TagRunnerVersion: testRunnerVersion,
			mrjob.TagFingerprint:   testFingerprint,
		},
	}
	if n <= 1 {
		record.InstanceGroups = []mrjob.InstanceGroup{
			{Role: mrjob.RoleMaster, Type: instanceType, Count: 1, Market: mrjob.MarketOnDemand},
		}
	} else {
		record.InstanceGroups = []mrjob.InstanceGroup{
			{Role: mrjob.RoleMaster, Type: "m1.medium", Count: 1, Market: mrjob.MarketOnDemand},
			{Role: mrjob.RoleCore, Type: instanceType, Count: n - 1, Market: mrjob.MarketOnDemand},
		}
	}
	return record
}

func (*MatchSuite) TestJoinIdenticalSetup(c *check.C) {
	cluster := idleCluster("m2.4xlarge", 20)
	c.Check(Matches(jobReq("m2.4xlarge", 20), &cluster), check.Equals, true)
}

func (*MatchSuite) TestJoinMoreOfSameType(c *check.C) {
	cluster := idleCluster("m2.4xlarge", 20)
	c.Check(Matches(jobReq("m2.4xlarge", 5), &cluster), check.Equals, true)
}

func (*MatchSuite) TestJoinBiggerInstances(c *check.C) {
	cluster := idleCluster("m2.4xlarge", 20)
	c.Check(Matches(jobReq("m1.medium", 20), &cluster), check.Equals, true)
}

func (*MatchSuite) TestJoinEnoughAggregateCapacity(c *check.C) {
	// 2 c1.xlarge workers carry more capacity than 9 m1.medium
	// workers, even though the cluster has fewer instances.
	cluster := idleCluster("c1.xlarge", 3)
	c.Check(Matches(jobReq("m1.medium", 10), &cluster), check.Equals, true)
}

func (*MatchSuite) TestDontJoinTooLittleAggregateCapacity(c *check.C) {
	// One c1.xlarge worker (20 units) against one m2.4xlarge
	// required (26 units).
	cluster := idleCluster("c1.xlarge", 2)
	c.Check(Matches(jobReq("m2.4xlarge", 2), &cluster), check.Equals, false)
}

func (*MatchSuite) TestMasterMustBeBigEnough(c *check.C) {
	// The cluster's workers are big, but a single-instance job
	// needs its master to be big, and worker surplus cannot make
	// up for the cluster's small master.
	cluster := idleCluster("c1.xlarge", 10)
	c.Check(Matches(jobReq("c1.xlarge", 1), &cluster), check.Equals, false)
}

func (*MatchSuite) TestSubstitutability(c *check.C) {
	// Equal aggregate worker capacity in different compositions
	// gives the same verdict as the canonical single-type case.
	req := jobReq("m1.medium", 9) // 8 workers, 16 units
	canonical := idleCluster("m1.medium", 9)
	manySmall := idleCluster("m1.small", 17) // 16 workers, 16 units
	fewLarge := idleCluster("m1.large", 5)   // 4 workers, 16 units
	c.Check(Matches(req, &canonical), check.Equals, true)
	c.Check(Matches(req, &manySmall), check.Equals, Matches(req, &canonical))
	c.Check(Matches(req, &fewLarge), check.Equals, Matches(req, &canonical))

	short := idleCluster("m1.small", 16) // 15 workers, 15 units
	c.Check(Matches(req, &short), check.Equals, false)
}

func (*MatchSuite) TestUnknownTypeIdenticalSetup(c *check.C) {
	cluster := idleCluster("a1.sauce", 10)
	c.Check(Matches(jobReq("a1.sauce", 10), &cluster), check.Equals, true)
}

func (*MatchSuite) TestUnknownTypeMoreInstances(c *check.C) {
	cluster := idleCluster("a1.sauce", 20)
	c.Check(Matches(jobReq("a1.sauce", 10), &cluster), check.Equals, true)
}

func (*MatchSuite) TestUnknownTypeFewerInstances(c *check.C) {
	cluster := idleCluster("a1.sauce", 5)
	c.Check(Matches(jobReq("a1.sauce", 10), &cluster), check.Equals, false)
}

func (*MatchSuite) TestUnknownTypeNeverCrossCompared(c *check.C) {
	// For all we know, an unlisted type has more capacity than
	// anything in the table.
	cluster := idleCluster("m2.4xlarge", 100)
	c.Check(Matches(jobReq("a1.sauce", 2), &cluster), check.Equals, false)
}

func withMasterBid(record mrjob.ClusterRecord, bid string) mrjob.ClusterRecord {
	record.InstanceGroups[0].Market = mrjob.MarketSpot
	record.InstanceGroups[0].BidPrice = bid
	return record
}

func (*MatchSuite) TestBidPriceEqual(c *check.C) {
	cluster := withMasterBid(idleCluster("m1.medium", 1), "0.25")
	req := jobReq("m1.medium", 1)
	req.Master.BidPrice = "0.25"
	c.Check(Matches(req, &cluster), check.Equals, true)
}

func (*MatchSuite) TestBidPriceHigherIsRoomToSpare(c *check.C) {
	cluster := withMasterBid(idleCluster("m1.medium", 1), "25.00")
	req := jobReq("m1.medium", 1)
	req.Master.BidPrice = "0.25"
	c.Check(Matches(req, &cluster), check.Equals, true)
}

func (*MatchSuite) TestBidPriceLowerFails(c *check.C) {
	cluster := withMasterBid(idleCluster("m1.medium", 100), "0.25")
	req := jobReq("m1.medium", 1)
	req.Master.BidPrice = "25.00"
	c.Check(Matches(req, &cluster), check.Equals, false)
}

func (*MatchSuite) TestOnDemandRequirementAcceptsEitherMarket(c *check.C) {
	onDemand := idleCluster("m1.medium", 1)
	spot := withMasterBid(idleCluster("m1.medium", 1), "25.00")
	req := jobReq("m1.medium", 1)
	c.Check(Matches(req, &onDemand), check.Equals, true)
	c.Check(Matches(req, &spot), check.Equals, true)
}

func (*MatchSuite) TestSpotRequirementRejectsOnDemand(c *check.C) {
	cluster := idleCluster("m1.medium", 1)
	req := jobReq("m1.medium", 1)
	req.Master.BidPrice = "0.05"
	c.Check(Matches(req, &cluster), check.Equals, false)
}

func (*MatchSuite) TestMixedRolesAndBids(c *check.C) {
	cluster := idleCluster("m1.medium", 3)
	cluster.InstanceGroups[1].Market = mrjob.MarketSpot
	cluster.InstanceGroups[1].BidPrice = "0.25"
	cluster.InstanceGroups = append(cluster.InstanceGroups, mrjob.InstanceGroup{
		Role: mrjob.RoleTask, Type: "c1.xlarge", Count: 3,
		Market: mrjob.MarketSpot, BidPrice: "25.00",
	})

	req := JobRequirements{
		PoolName:      DefaultPoolName,
		RunnerVersion: testRunnerVersion,
		Fingerprint:   testFingerprint,
		Master:        InstanceReq{Type: "m1.medium", Count: 1},
		Core:          InstanceReq{Type: "m1.medium", Count: 2, BidPrice: "0.10"},
		// More task instances than the cluster has, but smaller.
		Task:     InstanceReq{Type: "m1.medium", Count: 10, BidPrice: "22.00"},
		NumSteps: 2,
	}
	c.Check(Matches(req, &cluster), check.Equals, true)
}

func (*MatchSuite) TestWrongPoolName(c *check.C) {
	cluster := idleCluster("m1.medium", 1)
	cluster.Tags[mrjob.TagPoolName] = "pool1"
	c.Check(Matches(jobReq("m1.medium", 1), &cluster), check.Equals, false)
}

func (*MatchSuite) TestWrongRunnerVersion(c *check.C) {
	cluster := idleCluster("m1.medium", 1)
	cluster.Tags[mrjob.TagRunnerVersion] = "OVER NINE THOUSAAAAAND"
	c.Check(Matches(jobReq("m1.medium", 1), &cluster), check.Equals, false)
}

func (*MatchSuite) TestWrongFingerprint(c *check.C) {
	cluster := idleCluster("m1.medium", 1)
	cluster.Tags[mrjob.TagFingerprint] = Fingerprint(nil, `{"tomatoes": "actually a fruit!"}`)
	c.Check(Matches(jobReq("m1.medium", 1), &cluster), check.Equals, false)
}

func (*MatchSuite) TestAMIVersionPrefix(c *check.C) {
	for want, ok := range map[string]bool{
		"":        true,
		"2.4.2":   true,
		"2.4":     true,
		"2":       true,
		"2.0":     false,
		"2.4.2.1": false,
	} {
		req := jobReq("m1.medium", 1)
		req.AMIVersion = want
		cluster := idleCluster("m1.medium", 1)
		c.Check(Matches(req, &cluster), check.Equals, ok,
			check.Commentf("requirement %q against cluster %q", want, testAMIVersion))
	}
}

func (*MatchSuite) TestStepCeiling(c *check.C) {
	cluster := idleCluster("m1.medium", 1)
	for i := 0; i < 255; i++ {
		cluster.Steps = append(cluster.Steps, mrjob.StepRecord{
			ID:      mrjob.StepID(fmt.Sprintf("s-%04d", i)),
			State:   mrjob.StepStateCompleted,
			EndedAt: time.Now().Add(-time.Hour),
		})
	}
	twoSteps := jobReq("m1.medium", 1)
	c.Check(Matches(twoSteps, &cluster), check.Equals, false)

	oneStep := jobReq("m1.medium", 1)
	oneStep.NumSteps = 1
	c.Check(Matches(oneStep, &cluster), check.Equals, true)
}

func (*MatchSuite) TestDontJoinClusterWithPendingSteps(c *check.C) {
	cluster := idleCluster("m1.medium", 1)
	cluster.Steps = []mrjob.StepRecord{{ID: "s-1", State: mrjob.StepStatePending}}
	c.Check(Matches(jobReq("m1.medium", 1), &cluster), check.Equals, false)
}

func (*MatchSuite) TestJoinClusterWithCancelledSteps(c *check.C) {
	cluster := idleCluster("m1.medium", 1)
	cluster.Steps = []mrjob.StepRecord{
		{ID: "s-1", State: mrjob.StepStateFailed, EndedAt: time.Now().Add(-time.Hour)},
		// step 2 never ran, so it has no end time
		{ID: "s-2", State: mrjob.StepStateCancelled},
	}
	c.Check(Matches(jobReq("m1.medium", 1), &cluster), check.Equals, true)
}

func (*MatchSuite) TestDontJoinBusyCluster(c *check.C) {
	cluster := idleCluster("m1.medium", 1)
	cluster.State = mrjob.ClusterStateRunning
	c.Check(Matches(jobReq("m1.medium", 1), &cluster), check.Equals, false)
}

func (*MatchSuite) TestFingerprintIgnoresIdleTimeoutAction(c *check.C) {
	plain := []mrjob.BootstrapAction{
		{Name: "action 0", ScriptPath: "s3://walrus/scripts/ohnoes.sh"},
	}
	withIdle := append(plain, mrjob.BootstrapAction{
		Name:       IdleTimeoutActionName,
		ScriptPath: "s3://walrus/scripts/terminate_idle.sh",
		Args:       []string{"1800", "300"},
	})
	c.Check(Fingerprint(withIdle, ""), check.Equals, Fingerprint(plain, ""))
}

func (*MatchSuite) TestFingerprintSensitivity(c *check.C) {
	a := []mrjob.BootstrapAction{{Name: "action 0", ScriptPath: "s3://walrus/a.sh"}}
	b := []mrjob.BootstrapAction{{Name: "action 0", ScriptPath: "s3://walrus/b.sh"}}
	c.Check(Fingerprint(a, "") == Fingerprint(b, ""), check.Equals, false)
	c.Check(Fingerprint(a, "") == Fingerprint(a, `{"x":1}`), check.Equals, false)
	c.Check(Fingerprint(a, ""), check.Equals, Fingerprint(a, ""))
}
