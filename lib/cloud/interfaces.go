// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package cloud defines the contracts between the job runner and the
// remote services it coordinates: an elastic cluster service and an
// object store.
package cloud

import (
	"context"
	"errors"
	"time"

	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// ErrNotExist is returned by ObjectStore.Get for keys that do not
// exist.
var ErrNotExist = errors.New("object does not exist")

// A ClusterAPI manages clusters hosted by an elastic compute service
// like EMR.
//
// All methods are goroutine safe.
type ClusterAPI interface {
	// Create a new cluster and return its id. The service owns
	// the cluster record from here on; callers observe it via
	// ListClusters/DescribeCluster.
	CreateCluster(ctx context.Context, spec mrjob.ClusterSpec) (mrjob.ClusterID, error)

	// Return all clusters in non-terminal states, with tags,
	// instance groups, and step lists populated.
	ListClusters(ctx context.Context) ([]mrjob.ClusterRecord, error)

	// Return the current record for one cluster.
	DescribeCluster(ctx context.Context, id mrjob.ClusterID) (mrjob.ClusterRecord, error)

	// Submit steps to a cluster, returning the service's step
	// ids in submission order.
	AddSteps(ctx context.Context, id mrjob.ClusterID, steps []mrjob.StepSpec) ([]mrjob.StepID, error)

	// Return the current status of one step.
	DescribeStep(ctx context.Context, id mrjob.ClusterID, stepID mrjob.StepID) (mrjob.StepRecord, error)

	// Shut the cluster down. Destructive; callers must check
	// ownership first.
	TerminateCluster(ctx context.Context, id mrjob.ClusterID) error
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// An ObjectStore is an eventually consistent key/blob store like S3:
// writes may race, a read after a write may return stale data, and
// there is no atomic create-if-absent.
//
// All methods are goroutine safe.
type ObjectStore interface {
	// Get returns the object's content and last-modified time,
	// or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, time.Time, error)

	// Put stores the object. An existing object with the same
	// key is overwritten without warning.
	Put(ctx context.Context, key string, data []byte) error

	// List returns info for all objects whose key starts with
	// prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// DeletePrefix deletes all objects whose key starts with
	// prefix and returns the number deleted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
