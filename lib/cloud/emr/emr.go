// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package emr implements the cloud.ClusterAPI interface against
// Amazon Elastic MapReduce.
package emr

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/emr"
	"github.com/sirupsen/logrus"

	"github.com/yuanfeng0905/mrjob/lib/cloud"
	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// Config is the connection configuration for an EMR region endpoint.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	// Endpoint overrides the SDK's default EMR endpoint. Used in
	// tests.
	Endpoint string
}

// emrInterface is the subset of the EMR SDK client the driver uses,
// so tests can substitute a stub.
type emrInterface interface {
	RunJobFlowWithContext(aws.Context, *emr.RunJobFlowInput, ...request.Option) (*emr.RunJobFlowOutput, error)
	ListClustersWithContext(aws.Context, *emr.ListClustersInput, ...request.Option) (*emr.ListClustersOutput, error)
	DescribeClusterWithContext(aws.Context, *emr.DescribeClusterInput, ...request.Option) (*emr.DescribeClusterOutput, error)
	ListInstanceGroupsWithContext(aws.Context, *emr.ListInstanceGroupsInput, ...request.Option) (*emr.ListInstanceGroupsOutput, error)
	ListStepsWithContext(aws.Context, *emr.ListStepsInput, ...request.Option) (*emr.ListStepsOutput, error)
	AddJobFlowStepsWithContext(aws.Context, *emr.AddJobFlowStepsInput, ...request.Option) (*emr.AddJobFlowStepsOutput, error)
	DescribeStepWithContext(aws.Context, *emr.DescribeStepInput, ...request.Option) (*emr.DescribeStepOutput, error)
	TerminateJobFlowsWithContext(aws.Context, *emr.TerminateJobFlowsInput, ...request.Option) (*emr.TerminateJobFlowsOutput, error)
}

type clusterAPI struct {
	config Config
	logger logrus.FieldLogger
	client emrInterface
}

// New returns a cloud.ClusterAPI backed by EMR.
func New(config Config, logger logrus.FieldLogger) (cloud.ClusterAPI, error) {
	awsConfig := aws.NewConfig().WithRegion(config.Region)
	if config.AccessKeyID != "" {
		awsConfig = awsConfig.WithCredentials(credentials.NewStaticCredentials(
			config.AccessKeyID, config.SecretAccessKey, ""))
	}
	if config.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(config.Endpoint)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}
	return &clusterAPI{
		config: config,
		logger: logger,
		client: emr.New(sess),
	}, nil
}

func (api *clusterAPI) CreateCluster(ctx context.Context, spec mrjob.ClusterSpec) (mrjob.ClusterID, error) {
	var groups []*emr.InstanceGroupConfig
	for _, ig := range spec.InstanceGroups {
		gc := &emr.InstanceGroupConfig{
			InstanceRole:  aws.String(string(ig.Role)),
			InstanceType:  aws.String(ig.Type),
			InstanceCount: aws.Int64(int64(ig.Count)),
			Market:        aws.String(string(ig.Market)),
		}
		if ig.BidPrice != "" {
			gc.BidPrice = aws.String(ig.BidPrice)
		}
		groups = append(groups, gc)
	}

	var actions []*emr.BootstrapActionConfig
	for _, ba := range spec.BootstrapActions {
		actions = append(actions, &emr.BootstrapActionConfig{
			Name: aws.String(ba.Name),
			ScriptBootstrapAction: &emr.ScriptBootstrapActionConfig{
				Path: aws.String(ba.ScriptPath),
				Args: aws.StringSlice(ba.Args),
			},
		})
	}

	var tags []*emr.Tag
	for k, v := range spec.Tags {
		tags = append(tags, &emr.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	rjf := &emr.RunJobFlowInput{
		Name:              aws.String(spec.Name),
		BootstrapActions:  actions,
		Tags:              tags,
		VisibleToAllUsers: aws.Bool(true),
		Instances: &emr.JobFlowInstancesConfig{
			InstanceGroups:              groups,
			KeepJobFlowAliveWhenNoSteps: aws.Bool(spec.KeepAlive),
			TerminationProtected:        aws.Bool(false),
		},
	}
	if spec.AMIVersion != "" {
		rjf.AmiVersion = aws.String(spec.AMIVersion)
	}
	if spec.AdditionalInfo != "" {
		rjf.AdditionalInfo = aws.String(spec.AdditionalInfo)
	}
	if spec.LogURI != "" {
		rjf.LogUri = aws.String(spec.LogURI)
	}

	resp, err := api.client.RunJobFlowWithContext(ctx, rjf)
	if err != nil {
		return "", err
	}
	api.logger.WithField("ClusterID", *resp.JobFlowId).Info("created cluster")
	return mrjob.ClusterID(*resp.JobFlowId), nil
}

// Cluster states worth listing when looking for pool candidates or
// polling a job. Terminal clusters are never interesting.
var liveClusterStates = aws.StringSlice([]string{
	"STARTING", "BOOTSTRAPPING", "RUNNING", "WAITING",
})

func (api *clusterAPI) ListClusters(ctx context.Context) ([]mrjob.ClusterRecord, error) {
	var records []mrjob.ClusterRecord
	input := &emr.ListClustersInput{ClusterStates: liveClusterStates}
	for {
		page, err := api.client.ListClustersWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, summary := range page.Clusters {
			record, err := api.DescribeCluster(ctx, mrjob.ClusterID(*summary.Id))
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		if page.Marker == nil {
			return records, nil
		}
		input.Marker = page.Marker
	}
}

func (api *clusterAPI) DescribeCluster(ctx context.Context, id mrjob.ClusterID) (mrjob.ClusterRecord, error) {
	resp, err := api.client.DescribeClusterWithContext(ctx, &emr.DescribeClusterInput{
		ClusterId: aws.String(string(id)),
	})
	if err != nil {
		return mrjob.ClusterRecord{}, err
	}
	cl := resp.Cluster

	record := mrjob.ClusterRecord{
		ID:            mrjob.ClusterID(aws.StringValue(cl.Id)),
		Name:          aws.StringValue(cl.Name),
		State:         mrjob.ClusterState(aws.StringValue(cl.Status.State)),
		AutoTerminate: aws.BoolValue(cl.AutoTerminate),
		Tags:          mrjob.ClusterTags{},
	}
	if cl.Status.Timeline != nil {
		record.CreatedAt = aws.TimeValue(cl.Status.Timeline.CreationDateTime)
	}
	if v := aws.StringValue(cl.RunningAmiVersion); v != "" {
		record.AMIVersion = v
	} else {
		record.AMIVersion = aws.StringValue(cl.RequestedAmiVersion)
	}
	for _, tag := range cl.Tags {
		record.Tags[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
	}

	record.InstanceGroups, err = api.listInstanceGroups(ctx, id)
	if err != nil {
		return mrjob.ClusterRecord{}, err
	}
	record.Steps, err = api.listSteps(ctx, id)
	if err != nil {
		return mrjob.ClusterRecord{}, err
	}
	return record, nil
}

func (api *clusterAPI) listInstanceGroups(ctx context.Context, id mrjob.ClusterID) ([]mrjob.InstanceGroup, error) {
	var groups []mrjob.InstanceGroup
	input := &emr.ListInstanceGroupsInput{ClusterId: aws.String(string(id))}
	for {
		page, err := api.client.ListInstanceGroupsWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, ig := range page.InstanceGroups {
			groups = append(groups, mrjob.InstanceGroup{
				Role:     mrjob.InstanceRole(aws.StringValue(ig.InstanceGroupType)),
				Type:     aws.StringValue(ig.InstanceType),
				Count:    int(aws.Int64Value(ig.RequestedInstanceCount)),
				Market:   mrjob.InstanceMarket(aws.StringValue(ig.Market)),
				BidPrice: aws.StringValue(ig.BidPrice),
			})
		}
		if page.Marker == nil {
			return groups, nil
		}
		input.Marker = page.Marker
	}
}

func (api *clusterAPI) listSteps(ctx context.Context, id mrjob.ClusterID) ([]mrjob.StepRecord, error) {
	// The service returns steps newest first; the runner wants
	// submission order.
	var reversed []mrjob.StepRecord
	input := &emr.ListStepsInput{ClusterId: aws.String(string(id))}
	for {
		page, err := api.client.ListStepsWithContext(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, st := range page.Steps {
			reversed = append(reversed, stepRecord(aws.StringValue(st.Id), aws.StringValue(st.Name), st.Status))
		}
		if page.Marker == nil {
			break
		}
		input.Marker = page.Marker
	}
	steps := make([]mrjob.StepRecord, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		steps = append(steps, reversed[i])
	}
	return steps, nil
}

func (api *clusterAPI) AddSteps(ctx context.Context, id mrjob.ClusterID, steps []mrjob.StepSpec) ([]mrjob.StepID, error) {
	var configs []*emr.StepConfig
	for _, spec := range steps {
		configs = append(configs, &emr.StepConfig{
			Name:            aws.String(spec.Name),
			ActionOnFailure: aws.String(string(spec.ActionOnFailure)),
			HadoopJarStep: &emr.HadoopJarStepConfig{
				Jar:  aws.String(spec.Jar),
				Args: aws.StringSlice(spec.Args),
			},
		})
	}
	resp, err := api.client.AddJobFlowStepsWithContext(ctx, &emr.AddJobFlowStepsInput{
		JobFlowId: aws.String(string(id)),
		Steps:     configs,
	})
	if err != nil {
		return nil, err
	}
	var ids []mrjob.StepID
	for _, sid := range resp.StepIds {
		ids = append(ids, mrjob.StepID(aws.StringValue(sid)))
	}
	return ids, nil
}

func (api *clusterAPI) DescribeStep(ctx context.Context, id mrjob.ClusterID, stepID mrjob.StepID) (mrjob.StepRecord, error) {
	resp, err := api.client.DescribeStepWithContext(ctx, &emr.DescribeStepInput{
		ClusterId: aws.String(string(id)),
		StepId:    aws.String(string(stepID)),
	})
	if err != nil {
		return mrjob.StepRecord{}, err
	}
	return stepRecord(aws.StringValue(resp.Step.Id), aws.StringValue(resp.Step.Name), resp.Step.Status), nil
}

func (api *clusterAPI) TerminateCluster(ctx context.Context, id mrjob.ClusterID) error {
	api.logger.WithField("ClusterID", id).Info("terminating cluster")
	_, err := api.client.TerminateJobFlowsWithContext(ctx, &emr.TerminateJobFlowsInput{
		JobFlowIds: aws.StringSlice([]string{string(id)}),
	})
	return err
}

func stepRecord(id, name string, status *emr.StepStatus) mrjob.StepRecord {
	record := mrjob.StepRecord{
		ID:   mrjob.StepID(id),
		Name: name,
	}
	if status != nil {
		record.State = mrjob.StepState(aws.StringValue(status.State))
		if status.Timeline != nil && status.Timeline.EndDateTime != nil {
			record.EndedAt = *status.Timeline.EndDateTime
		}
	}
	return record
}
