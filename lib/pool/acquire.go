// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yuanfeng0905/mrjob/lib/cloud"
	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

const defaultPollInterval = 30 * time.Second

// An Acquirer polls the cluster service for idle clusters compatible
// with a job's requirements and claims one via the lock protocol.
type Acquirer struct {
	API    cloud.ClusterAPI
	Locker *Locker
	// LockPrefix is prepended to a candidate's cluster id to form
	// its lock key.
	LockPrefix string
	// ClaimantID is the id written into lock keys this job claims.
	ClaimantID string
	// MaxWait bounds the whole search. Zero means exactly one
	// pass over the current candidates, with no sleeping.
	MaxWait time.Duration
	// PollInterval is the sleep between passes.
	PollInterval time.Duration
	Logger       logrus.FieldLogger
	Registry     *prometheus.Registry

	timeNow func() time.Time
	sleep   func(time.Duration)

	setupOnce sync.Once

	mLockAttempts prometheus.Counter
	mLockLost     prometheus.Counter
	mPolls        prometheus.Counter
}

func (acq *Acquirer) setup() {
	if acq.timeNow == nil {
		acq.timeNow = time.Now
	}
	if acq.sleep == nil {
		acq.sleep = time.Sleep
	}
	if acq.PollInterval <= 0 {
		acq.PollInterval = defaultPollInterval
	}
	reg := acq.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	acq.mLockAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mrjob",
		Subsystem: "pool",
		Name:      "lock_attempts_total",
		Help:      "Number of cluster lock acquisitions attempted.",
	})
	reg.MustRegister(acq.mLockAttempts)
	acq.mLockLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mrjob",
		Subsystem: "pool",
		Name:      "lock_contention_total",
		Help:      "Number of cluster lock acquisitions lost to another claimant.",
	})
	reg.MustRegister(acq.mLockLost)
	acq.mPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mrjob",
		Subsystem: "pool",
		Name:      "candidate_polls_total",
		Help:      "Number of passes over the candidate cluster list.",
	})
	reg.MustRegister(acq.mPolls)
}

// Acquire returns the id of a compatible idle cluster this job now
// owns, or "" if none could be claimed before MaxWait elapsed. An
// empty id is a normal outcome (the caller creates a fresh cluster);
// only remote service failures surface as errors.
func (acq *Acquirer) Acquire(ctx context.Context, req JobRequirements) (mrjob.ClusterID, error) {
	acq.setupOnce.Do(acq.setup)

	deadline := acq.timeNow().Add(acq.MaxWait)
	exclude := map[mrjob.ClusterID]bool{}
	for {
		acq.mPolls.Inc()
		records, err := acq.API.ListClusters(ctx)
		if err != nil {
			return "", err
		}
		var compatible []mrjob.ClusterRecord
		for i := range records {
			if Matches(req, &records[i]) {
				compatible = append(compatible, records[i])
			}
		}
		// A failed lock means contention, not absence: try the
		// next candidate immediately instead of sleeping.
		for _, candidate := range Rank(compatible, exclude, acq.timeNow()) {
			acq.mLockAttempts.Inc()
			ok, err := acq.Locker.Acquire(ctx, acq.LockPrefix+string(candidate.ID), acq.ClaimantID)
			if err != nil {
				return "", err
			}
			if ok {
				acq.Logger.WithFields(logrus.Fields{
					"ClusterID": candidate.ID,
					"PoolName":  req.PoolName,
				}).Info("claimed idle cluster")
				return candidate.ID, nil
			}
			acq.mLockLost.Inc()
			exclude[candidate.ID] = true
		}
		if acq.MaxWait <= 0 || !acq.timeNow().Before(deadline) {
			acq.Logger.WithField("PoolName", req.PoolName).Info("no claimable cluster in pool")
			return "", nil
		}
		acq.sleep(acq.PollInterval)
	}
}
