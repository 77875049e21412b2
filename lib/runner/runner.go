// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package runner drives a job through its cluster lifecycle: claim an
// idle pooled cluster or create a fresh one, submit the job's steps,
// poll until they finish, and apply the configured cleanup policy.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yuanfeng0905/mrjob/lib/cloud"
	"github.com/yuanfeng0905/mrjob/lib/pool"
	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

const defaultStatusPollInterval = 30 * time.Second

// jobState is the runner's own progress marker, logged on every
// transition. The cluster's state machine belongs to the remote
// service; this one is local.
type jobState string

const (
	stateUnstarted      jobState = "unstarted"
	stateAcquiring      jobState = "acquiring"
	stateLaunched       jobState = "launched"
	stateStepsSubmitted jobState = "steps submitted"
	statePolling        jobState = "polling"
	stateDone           jobState = "done"
	stateFailed         jobState = "failed"
)

// A Runner owns one job's cluster lifecycle. Fields are set once
// before Run and not mutated afterwards.
type Runner struct {
	API   cloud.ClusterAPI
	Store cloud.ObjectStore
	// Acquirer claims idle pooled clusters. Required when
	// PoolClusters is set.
	Acquirer *pool.Acquirer
	Logger   logrus.FieldLogger
	Registry *prometheus.Registry

	JobName      string
	Requirements pool.JobRequirements
	// Spec describes the cluster to create when no pooled cluster
	// is claimed and no explicit cluster id is given.
	Spec  mrjob.ClusterSpec
	Steps []mrjob.StepSpec

	PoolClusters bool
	// ClusterID attaches to an existing cluster directly,
	// bypassing matching, selection, and locking.
	ClusterID mrjob.ClusterID
	// ActionOnFailure overrides the default action attached to
	// submitted steps.
	ActionOnFailure mrjob.ActionOnFailure
	PollInterval    time.Duration

	// Cleanup and CleanupOnFailure are comma-separated cleanup
	// specs (see ParseCleanupMode), resolved before any remote
	// call is made.
	Cleanup          string
	CleanupOnFailure string

	RemoteScratchPrefix string
	// LogPrefix is where the remote service writes cluster logs,
	// one subdirectory per cluster. The LOGS cleanup action
	// deletes only this job's cluster's subdirectory; other
	// clusters' logs under the same prefix are left alone.
	LogPrefix       string
	LocalScratchDir string

	sleep func(time.Duration)

	setupOnce    sync.Once
	mStatusPolls prometheus.Counter

	state     jobState
	clusterID mrjob.ClusterID
	// created is true when this job launched the cluster; shared
	// is true when the cluster is pooled or explicitly attached.
	// Only a created, non-shared cluster may ever be terminated.
	created bool
	shared  bool
	stepIDs []mrjob.StepID
}

func (r *Runner) setup() {
	if r.sleep == nil {
		r.sleep = time.Sleep
	}
	if r.PollInterval <= 0 {
		r.PollInterval = defaultStatusPollInterval
	}
	r.state = stateUnstarted
	reg := r.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r.mStatusPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mrjob",
		Subsystem: "runner",
		Name:      "status_polls_total",
		Help:      "Number of cluster status polls while waiting for steps.",
	})
	reg.MustRegister(r.mStatusPolls)
}

func (r *Runner) setState(state jobState) {
	r.Logger.WithFields(logrus.Fields{
		"From": r.state,
		"To":   state,
	}).Debug("job state change")
	r.state = state
}

// Run takes the job from unstarted to done or failed. The cleanup
// specs are validated before anything touches the remote service, so
// a bad mode string never leaves half-run work behind.
func (r *Runner) Run(ctx context.Context) error {
	r.setupOnce.Do(r.setup)

	onSuccess, err := ParseCleanupMode(r.Cleanup)
	if err != nil {
		return err
	}
	onFailure, err := ParseCleanupMode(r.CleanupOnFailure)
	if err != nil {
		return err
	}
	if len(r.Steps) == 0 {
		return errors.New("job has no steps")
	}
	if len(r.Steps) > mrjob.MaxStepsPerCluster {
		return fmt.Errorf("job has %d steps, more than the service maximum of %d", len(r.Steps), mrjob.MaxStepsPerCluster)
	}
	if r.PoolClusters && r.ClusterID == "" && r.Acquirer == nil {
		return errors.New("cluster pooling enabled without an acquirer")
	}

	r.setState(stateAcquiring)
	if err := r.acquireOrCreate(ctx); err != nil {
		return err
	}
	r.setState(stateLaunched)

	if err := r.runSteps(ctx); err != nil {
		r.setState(stateFailed)
		r.cleanup(ctx, onFailure, true)
		return err
	}
	r.setState(stateDone)
	r.cleanup(ctx, onSuccess, false)
	return nil
}

// Cluster returns the id of the cluster the job ran on, or "" before
// one has been acquired or created.
func (r *Runner) Cluster() mrjob.ClusterID {
	return r.clusterID
}

// acquireOrCreate decides which cluster runs the job: the explicitly
// given one, an idle pooled one, or a newly created one.
func (r *Runner) acquireOrCreate(ctx context.Context) error {
	if r.ClusterID != "" {
		record, err := r.API.DescribeCluster(ctx, r.ClusterID)
		if err != nil {
			return err
		}
		if record.State.Terminal() {
			return fmt.Errorf("cluster %s is already %s", r.ClusterID, record.State)
		}
		r.Logger.WithField("ClusterID", r.ClusterID).Info("attaching to cluster")
		r.clusterID = r.ClusterID
		r.shared = true
		return nil
	}

	if r.PoolClusters {
		id, err := r.Acquirer.Acquire(ctx, r.Requirements)
		if err != nil {
			return err
		}
		if id != "" {
			r.clusterID = id
			r.shared = true
			return nil
		}
	}

	spec := r.Spec
	if spec.Name == "" {
		spec.Name = r.JobName
	}
	if r.PoolClusters {
		// Tag the new cluster so future jobs with the same
		// requirements can join it, and keep it alive once our
		// steps drain.
		spec.KeepAlive = true
		// spec is a shallow copy of r.Spec; don't write pool
		// tags into the caller's map.
		tags := mrjob.ClusterTags{}
		for k, v := range spec.Tags {
			tags[k] = v
		}
		spec.Tags = tags
		spec.Tags[mrjob.TagPoolName] = r.Requirements.PoolName
		spec.Tags[mrjob.TagFingerprint] = r.Requirements.Fingerprint
		spec.Tags[mrjob.TagRunnerVersion] = r.Requirements.RunnerVersion
		r.shared = true
	}
	id, err := r.API.CreateCluster(ctx, spec)
	if err != nil {
		return err
	}
	r.Logger.WithFields(logrus.Fields{
		"ClusterID": id,
		"Pooled":    r.PoolClusters,
	}).Info("created cluster")
	r.clusterID = id
	r.created = true
	return nil
}

// actionOnFailure picks the action attached to submitted steps: a
// job's own throwaway cluster should die with a failed step, but a
// shared cluster must survive it.
func (r *Runner) actionOnFailure() mrjob.ActionOnFailure {
	if r.ActionOnFailure != "" {
		return r.ActionOnFailure
	}
	if r.created && !r.shared {
		return mrjob.ActionTerminateCluster
	}
	return mrjob.ActionCancelAndWait
}

// runSteps submits the job's steps and polls until they all complete,
// one fails, or the cluster dies underneath them. A failed step is
// reported immediately, without waiting out the remaining steps.
func (r *Runner) runSteps(ctx context.Context) error {
	action := r.actionOnFailure()
	steps := make([]mrjob.StepSpec, len(r.Steps))
	copy(steps, r.Steps)
	for i := range steps {
		if steps[i].ActionOnFailure == "" {
			steps[i].ActionOnFailure = action
		}
	}
	ids, err := r.API.AddSteps(ctx, r.clusterID, steps)
	if err != nil {
		return err
	}
	r.stepIDs = ids
	r.setState(stateStepsSubmitted)
	r.Logger.WithFields(logrus.Fields{
		"ClusterID": r.clusterID,
		"Steps":     len(ids),
	}).Info("submitted steps")

	r.setState(statePolling)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mStatusPolls.Inc()
		record, err := r.API.DescribeCluster(ctx, r.clusterID)
		if err != nil {
			return err
		}
		finished := 0
		for _, stepID := range r.stepIDs {
			step, ok := findStep(record.Steps, stepID)
			if !ok {
				return fmt.Errorf("cluster %s no longer reports step %s", r.clusterID, stepID)
			}
			switch step.State {
			case mrjob.StepStateCompleted:
				finished++
			case mrjob.StepStateFailed:
				return fmt.Errorf("cluster %s: step %s (%s) failed", r.clusterID, step.ID, step.Name)
			case mrjob.StepStateCancelled, mrjob.StepStateInterrupted:
				return fmt.Errorf("cluster %s: step %s (%s) was %s", r.clusterID, step.ID, step.Name, step.State)
			}
		}
		if finished == len(r.stepIDs) {
			r.Logger.WithField("ClusterID", r.clusterID).Info("all steps completed")
			return nil
		}
		if record.State.Terminal() {
			return fmt.Errorf("cluster %s reached %s with %d of %d steps finished",
				r.clusterID, record.State, finished, len(r.stepIDs))
		}
		r.sleep(r.PollInterval)
	}
}

func findStep(steps []mrjob.StepRecord, id mrjob.StepID) (mrjob.StepRecord, bool) {
	for _, step := range steps {
		if step.ID == id {
			return step, true
		}
	}
	return mrjob.StepRecord{}, false
}

// cleanup applies the resolved cleanup flags. Failures here are
// logged, not returned: the job's own outcome is already decided.
func (r *Runner) cleanup(ctx context.Context, flags CleanupFlags, failed bool) {
	logger := r.Logger.WithField("ClusterID", r.clusterID)
	owned := r.created && !r.shared

	if failed && flags.Job {
		if owned {
			// The service offers no way to kill a running
			// step short of terminating its cluster, so on
			// a throwaway cluster JOB degenerates to
			// termination. On a shared cluster the steps
			// were submitted with CANCEL_AND_WAIT, which
			// already stops the remaining work.
			r.terminate(ctx, logger)
		} else {
			logger.Debug("not killing remote job on a shared cluster")
		}
	}
	if flags.Cluster {
		if owned {
			r.terminate(ctx, logger)
		} else {
			logger.Debug("not terminating a shared cluster")
		}
	}
	if flags.RemoteScratch && r.RemoteScratchPrefix != "" {
		if n, err := r.Store.DeletePrefix(ctx, r.RemoteScratchPrefix); err != nil {
			logger.WithError(err).Warn("error deleting remote scratch")
		} else {
			logger.WithField("Objects", n).Info("deleted remote scratch")
		}
	}
	if flags.Logs && r.LogPrefix != "" && r.clusterID != "" {
		if n, err := r.Store.DeletePrefix(ctx, r.LogPrefix+string(r.clusterID)+"/"); err != nil {
			logger.WithError(err).Warn("error deleting logs")
		} else {
			logger.WithField("Objects", n).Info("deleted logs")
		}
	}
	if flags.LocalScratch && r.LocalScratchDir != "" {
		if err := os.RemoveAll(r.LocalScratchDir); err != nil {
			logger.WithError(err).Warn("error deleting local scratch")
		}
	}
}

// terminate tears down the job's own cluster if it is still alive.
func (r *Runner) terminate(ctx context.Context, logger logrus.FieldLogger) {
	record, err := r.API.DescribeCluster(ctx, r.clusterID)
	if err != nil {
		logger.WithError(err).Warn("error checking cluster before terminating")
		return
	}
	if record.State.Terminal() {
		return
	}
	if err := r.API.TerminateCluster(ctx, r.clusterID); err != nil {
		logger.WithError(err).Warn("error terminating cluster")
		return
	}
	logger.Info("terminated cluster")
}
