// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/yuanfeng0905/mrjob/lib/cloud"
	"github.com/yuanfeng0905/mrjob/lib/cloud/emr"
	"github.com/yuanfeng0905/mrjob/lib/cloud/s3"
	"github.com/yuanfeng0905/mrjob/lib/cmd"
	"github.com/yuanfeng0905/mrjob/lib/config"
	"github.com/yuanfeng0905/mrjob/lib/pool"
	"github.com/yuanfeng0905/mrjob/lib/runner"
	"github.com/yuanfeng0905/mrjob/sdk/go/ctxlog"
	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// runCommand runs the configured job to completion and prints the id
// of the cluster it ran on.
type runCommand struct{}

func (runCommand) RunCommand(prog string, args []string, _ io.Reader, stdout, stderr io.Writer) int {
	var (
		flags      flag.FlagSet
		configPath = flags.String("config", "mrjob.yml", "`path` of the job configuration file")
		jobName    = flags.String("job-name", "", "job `name` (defaults to the config Steps' first name)")
		clusterID  = flags.String("cluster-id", "", "run on the given cluster, skipping pooling and creation")
		poolName   = flags.String("pool-name", "", "override the configured pool name")
		logLevel   = flags.String("log-level", "info", "logging `level` (debug, info, warn, error)")
	)
	if ok, code := cmd.ParseFlags(&flags, prog, args, "", stderr); !ok {
		return code
	}
	logger := ctxlog.New(stderr, "text", *logLevel)
	ctx := ctxlog.Context(context.Background(), logger)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Error(err)
		return 2
	}
	if *clusterID != "" {
		cfg.ClusterID = *clusterID
	}
	if *poolName != "" {
		cfg.PoolName = *poolName
	}
	name := *jobName
	if name == "" && len(cfg.Steps) > 0 {
		name = cfg.Steps[0].Name
	}

	r, err := buildRunner(ctx, cfg, logger, name)
	if err != nil {
		logger.Error(err)
		return 1
	}
	if err := r.Run(ctx); err != nil {
		logger.WithError(err).Error("job failed")
		return 1
	}
	fmt.Fprintln(stdout, r.Cluster())
	return 0
}

// buildRunner wires the remote clients and the acquisition machinery
// for one job.
func buildRunner(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, jobName string) (*runner.Runner, error) {
	api, store, err := buildClients(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	claimant := ksuid.New().String()
	return &runner.Runner{
		API:   api,
		Store: store,
		Acquirer: &pool.Acquirer{
			API: api,
			Locker: &pool.Locker{
				Store:    store,
				TTL:      cfg.LockTTL.Duration(),
				SyncWait: cfg.LockSyncWait.Duration(),
				Logger:   logger,
			},
			LockPrefix:   cfg.LockPrefix(),
			ClaimantID:   claimant,
			MaxWait:      cfg.PoolWait.Duration(),
			PollInterval: cfg.PollInterval.Duration(),
			Logger:       logger,
		},
		Logger:              logger,
		JobName:             jobName,
		Requirements:        cfg.Requirements(len(cfg.Steps), version),
		Spec:                cfg.ClusterSpec(jobName),
		Steps:               cfg.Steps,
		PoolClusters:        cfg.PoolClusters,
		ClusterID:           mrjob.ClusterID(cfg.ClusterID),
		ActionOnFailure:     mrjob.ActionOnFailure(cfg.ActionOnFailure),
		PollInterval:        cfg.PollInterval.Duration(),
		Cleanup:             cfg.Cleanup,
		CleanupOnFailure:    cfg.CleanupOnFailure,
		RemoteScratchPrefix: cfg.ScratchPrefix + claimant + "/",
		LogPrefix:           cfg.LogPrefix,
		LocalScratchDir:     cfg.LocalScratchDir,
	}, nil
}

func buildClients(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (cloud.ClusterAPI, cloud.ObjectStore, error) {
	api, err := emr.New(emr.Config{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
		Endpoint:        cfg.EMREndpoint,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := s3.New(ctx, s3.Config{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
		Bucket:          cfg.ScratchBucket,
		Endpoint:        cfg.S3Endpoint,
		UsePathStyle:    cfg.S3UsePathStyle,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return api, store, nil
}
