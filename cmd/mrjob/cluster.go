// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/yuanfeng0905/mrjob/lib/cmd"
	"github.com/yuanfeng0905/mrjob/lib/config"
	"github.com/yuanfeng0905/mrjob/sdk/go/ctxlog"
	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// runClusterCommand creates an idle pooled cluster and prints its id,
// so a fleet of clusters can be provisioned ahead of the jobs that
// will join them.
type runClusterCommand struct{}

func (runClusterCommand) RunCommand(prog string, args []string, _ io.Reader, stdout, stderr io.Writer) int {
	var (
		flags      flag.FlagSet
		configPath = flags.String("config", "mrjob.yml", "`path` of the job configuration file")
		name       = flags.String("name", "mrjob pooled cluster", "cluster `name`")
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
	api, _, err := buildClients(ctx, cfg, logger)
	if err != nil {
		logger.Error(err)
		return 1
	}

	req := cfg.Requirements(0, version)
	spec := cfg.ClusterSpec(*name)
	spec.KeepAlive = true
	spec.Tags = mrjob.ClusterTags{
		mrjob.TagPoolName:      req.PoolName,
		mrjob.TagFingerprint:   req.Fingerprint,
		mrjob.TagRunnerVersion: req.RunnerVersion,
	}
	id, err := api.CreateCluster(ctx, spec)
	if err != nil {
		logger.WithError(err).Error("error creating cluster")
		return 1
	}
	logger.WithFields(logrus.Fields{
		"ClusterID": id,
		"PoolName":  req.PoolName,
	}).Info("created pooled cluster")
	fmt.Fprintln(stdout, id)
	return 0
}

// terminateClusterCommand terminates the given cluster.
type terminateClusterCommand struct{}

func (terminateClusterCommand) RunCommand(prog string, args []string, _ io.Reader, stdout, stderr io.Writer) int {
	var (
		flags      flag.FlagSet
		configPath = flags.String("config", "mrjob.yml", "`path` of the job configuration file")
		logLevel   = flags.String("log-level", "info", "logging `level` (debug, info, warn, error)")
	)
	if ok, code := cmd.ParseFlags(&flags, prog, args, "cluster-id", stderr); !ok {
		return code
	}
	if flags.NArg() != 1 {
		fmt.Fprintf(stderr, "usage: %s [options] cluster-id\n", prog)
		return 2
	}
	logger := ctxlog.New(stderr, "text", *logLevel)
	ctx := ctxlog.Context(context.Background(), logger)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Error(err)
		return 2
	}
	api, _, err := buildClients(ctx, cfg, logger)
	if err != nil {
		logger.Error(err)
		return 1
	}
	id := mrjob.ClusterID(flags.Arg(0))
	if err := api.TerminateCluster(ctx, id); err != nil {
		logger.WithError(err).Error("error terminating cluster")
		return 1
	}
	logger.WithField("ClusterID", id).Info("terminated cluster")
	return 0
}
