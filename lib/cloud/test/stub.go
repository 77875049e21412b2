// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package test provides stub implementations of the cloud interfaces.
// The stub cluster service plays out a scripted version of the real
// service's behavior: clusters are provisioned instantly, and each
// DescribeCluster call advances submitted steps by one tick, the way
// a real cluster would make progress between polls.
package test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yuanfeng0905/mrjob/lib/cloud"
	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// StubAPI implements cloud.ClusterAPI in memory.
type StubAPI struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// StepFailures names steps that fail instead of completing.
	StepFailures map[string]bool
	// FrozenClusters do not make step progress when described.
	FrozenClusters map[mrjob.ClusterID]bool

	mtx      sync.Mutex
	clusters map[mrjob.ClusterID]*stubCluster
	nextID   int
}

type stubCluster struct {
	record  mrjob.ClusterRecord
	spec    mrjob.ClusterSpec
	actions map[mrjob.StepID]mrjob.ActionOnFailure
}

func (sapi *StubAPI) now() time.Time {
	if sapi.Clock != nil {
		return sapi.Clock()
	}
	return time.Now()
}

// AddCluster injects a cluster record directly, bypassing
// CreateCluster. Useful for building pool fixtures.
func (sapi *StubAPI) AddCluster(record mrjob.ClusterRecord) mrjob.ClusterID {
	sapi.mtx.Lock()
	defer sapi.mtx.Unlock()
	if record.ID == "" {
		sapi.nextID++
		record.ID = mrjob.ClusterID(fmt.Sprintf("j-STUB%04d", sapi.nextID))
	}
	if sapi.clusters == nil {
		sapi.clusters = map[mrjob.ClusterID]*stubCluster{}
	}
	sapi.clusters[record.ID] = &stubCluster{record: record, spec: mrjob.ClusterSpec{KeepAlive: true}}
	return record.ID
}

// CreateCluster implements cloud.ClusterAPI. The new cluster skips
// provisioning and reports WAITING immediately.
func (sapi *StubAPI) CreateCluster(_ context.Context, spec mrjob.ClusterSpec) (mrjob.ClusterID, error) {
	sapi.mtx.Lock()
	defer sapi.mtx.Unlock()
	sapi.nextID++
	id := mrjob.ClusterID(fmt.Sprintf("j-STUB%04d", sapi.nextID))
	tags := mrjob.ClusterTags{}
	for k, v := range spec.Tags {
		tags[k] = v
	}
	if sapi.clusters == nil {
		sapi.clusters = map[mrjob.ClusterID]*stubCluster{}
	}
	sapi.clusters[id] = &stubCluster{
		record: mrjob.ClusterRecord{
			ID:             id,
			Name:           spec.Name,
			State:          mrjob.ClusterStateWaiting,
			CreatedAt:      sapi.now(),
			AMIVersion:     spec.AMIVersion,
			AutoTerminate:  !spec.KeepAlive,
			Tags:           tags,
			InstanceGroups: append([]mrjob.InstanceGroup(nil), spec.InstanceGroups...),
		},
		spec: spec,
	}
	return id, nil
}

// ListClusters implements cloud.ClusterAPI. Listing does not advance
// step progress.
func (sapi *StubAPI) ListClusters(context.Context) ([]mrjob.ClusterRecord, error) {
	sapi.mtx.Lock()
	defer sapi.mtx.Unlock()
	var records []mrjob.ClusterRecord
	for _, sc := range sapi.clusters {
		if !sc.record.State.Terminal() {
			records = append(records, copyRecord(sc.record))
		}
	}
	return records, nil
}

// DescribeCluster implements cloud.ClusterAPI and advances the
// cluster's steps by one tick.
func (sapi *StubAPI) DescribeCluster(_ context.Context, id mrjob.ClusterID) (mrjob.ClusterRecord, error) {
	sapi.mtx.Lock()
	defer sapi.mtx.Unlock()
	sc, ok := sapi.clusters[id]
	if !ok {
		return mrjob.ClusterRecord{}, fmt.Errorf("stub: no such cluster %q", id)
	}
	if !sapi.FrozenClusters[id] {
		sapi.tick(sc)
	}
	return copyRecord(sc.record), nil
}

// AddSteps implements cloud.ClusterAPI.
func (sapi *StubAPI) AddSteps(_ context.Context, id mrjob.ClusterID, steps []mrjob.StepSpec) ([]mrjob.StepID, error) {
	sapi.mtx.Lock()
	defer sapi.mtx.Unlock()
	sc, ok := sapi.clusters[id]
	if !ok {
		return nil, fmt.Errorf("stub: no such cluster %q", id)
	}
	if len(sc.record.Steps)+len(steps) > mrjob.MaxStepsPerCluster {
		return nil, fmt.Errorf("stub: cluster %q exceeds maximum of %d steps", id, mrjob.MaxStepsPerCluster)
	}
	if sc.actions == nil {
		sc.actions = map[mrjob.StepID]mrjob.ActionOnFailure{}
	}
	var ids []mrjob.StepID
	for _, spec := range steps {
		stepID := mrjob.StepID(fmt.Sprintf("s-%s-%04d", id, len(sc.record.Steps)))
		sc.record.Steps = append(sc.record.Steps, mrjob.StepRecord{
			ID:    stepID,
			Name:  spec.Name,
			State: mrjob.StepStatePending,
		})
		sc.actions[stepID] = spec.ActionOnFailure
		ids = append(ids, stepID)
	}
	if sc.record.State == mrjob.ClusterStateWaiting {
		sc.record.State = mrjob.ClusterStateRunning
	}
	return ids, nil
}

// DescribeStep implements cloud.ClusterAPI.
func (sapi *StubAPI) DescribeStep(_ context.Context, id mrjob.ClusterID, stepID mrjob.StepID) (mrjob.StepRecord, error) {
	sapi.mtx.Lock()
	defer sapi.mtx.Unlock()
	sc, ok := sapi.clusters[id]
	if !ok {
		return mrjob.StepRecord{}, fmt.Errorf("stub: no such cluster %q", id)
	}
	for _, st := range sc.record.Steps {
		if st.ID == stepID {
			return st, nil
		}
	}
	return mrjob.StepRecord{}, fmt.Errorf("stub: no such step %q", stepID)
}

// TerminateCluster implements cloud.ClusterAPI.
func (sapi *StubAPI) TerminateCluster(_ context.Context, id mrjob.ClusterID) error {
	sapi.mtx.Lock()
	defer sapi.mtx.Unlock()
	sc, ok := sapi.clusters[id]
	if !ok {
		return fmt.Errorf("stub: no such cluster %q", id)
	}
	sc.record.State = mrjob.ClusterStateTerminated
	for i := range sc.record.Steps {
		if !sc.record.Steps[i].State.Terminal() {
			sc.record.Steps[i].State = mrjob.StepStateCancelled
		}
	}
	return nil
}

// Cluster returns the stub's current record for a cluster, for test
// assertions.
func (sapi *StubAPI) Cluster(id mrjob.ClusterID) (mrjob.ClusterRecord, bool) {
	sapi.mtx.Lock()
	defer sapi.mtx.Unlock()
	sc, ok := sapi.clusters[id]
	if !ok {
		return mrjob.ClusterRecord{}, false
	}
	return copyRecord(sc.record), true
}

// tick advances the cluster's oldest unfinished step one state.
func (sapi *StubAPI) tick(sc *stubCluster) {
	for i := range sc.record.Steps {
		st := &sc.record.Steps[i]
		switch st.State {
		case mrjob.StepStatePending:
			st.State = mrjob.StepStateRunning
			return
		case mrjob.StepStateRunning:
			if sapi.StepFailures[st.Name] {
				st.State = mrjob.StepStateFailed
				st.EndedAt = sapi.now()
				sapi.failRemainingSteps(sc, i)
				return
			}
			st.State = mrjob.StepStateCompleted
			st.EndedAt = sapi.now()
			if i == len(sc.record.Steps)-1 {
				sapi.drainCluster(sc)
			}
			return
		}
	}
}

// failRemainingSteps applies the failed step's action-on-failure to
// the cluster and cancels the steps behind it. Cancelled steps never
// get an end time.
func (sapi *StubAPI) failRemainingSteps(sc *stubCluster, failed int) {
	for i := failed + 1; i < len(sc.record.Steps); i++ {
		if !sc.record.Steps[i].State.Terminal() {
			sc.record.Steps[i].State = mrjob.StepStateCancelled
		}
	}
	if sc.actions[sc.record.Steps[failed].ID] == mrjob.ActionTerminateCluster {
		sc.record.State = mrjob.ClusterStateTerminatedWithErrors
	} else {
		sc.record.State = mrjob.ClusterStateWaiting
	}
}

func (sapi *StubAPI) drainCluster(sc *stubCluster) {
	if sc.spec.KeepAlive {
		sc.record.State = mrjob.ClusterStateWaiting
	} else {
		sc.record.State = mrjob.ClusterStateTerminated
	}
}

func copyRecord(record mrjob.ClusterRecord) mrjob.ClusterRecord {
	out := record
	out.Tags = mrjob.ClusterTags{}
	for k, v := range record.Tags {
		out.Tags[k] = v
	}
	out.InstanceGroups = append([]mrjob.InstanceGroup(nil), record.InstanceGroups...)
	out.Steps = append([]mrjob.StepRecord(nil), record.Steps...)
	return out
}

// StubStore implements cloud.ObjectStore in memory.
type StubStore struct {
	// Clock returns the time recorded as LastModified on Put.
	// Defaults to time.Now.
	Clock func() time.Time

	mtx     sync.Mutex
	objects map[string]stubObject
	puts    int
}

type stubObject struct {
	data         []byte
	lastModified time.Time
}

func (store *StubStore) now() time.Time {
	if store.Clock != nil {
		return store.Clock()
	}
	return time.Now()
}

// Get implements cloud.ObjectStore.
func (store *StubStore) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	store.mtx.Lock()
	defer store.mtx.Unlock()
	obj, ok := store.objects[key]
	if !ok {
		return nil, time.Time{}, cloud.ErrNotExist
	}
	return append([]byte(nil), obj.data...), obj.lastModified, nil
}

// Put implements cloud.ObjectStore.
func (store *StubStore) Put(_ context.Context, key string, data []byte) error {
	store.mtx.Lock()
	defer store.mtx.Unlock()
	if store.objects == nil {
		store.objects = map[string]stubObject{}
	}
	store.objects[key] = stubObject{data: append([]byte(nil), data...), lastModified: store.now()}
	store.puts++
	return nil
}

// List implements cloud.ObjectStore.
func (store *StubStore) List(_ context.Context, prefix string) ([]cloud.ObjectInfo, error) {
	store.mtx.Lock()
	defer store.mtx.Unlock()
	var infos []cloud.ObjectInfo
	for key, obj := range store.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			infos = append(infos, cloud.ObjectInfo{
				Key:          key,
				Size:         int64(len(obj.data)),
				LastModified: obj.lastModified,
			})
		}
	}
	return infos, nil
}

// DeletePrefix implements cloud.ObjectStore.
func (store *StubStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	store.mtx.Lock()
	defer store.mtx.Unlock()
	deleted := 0
	for key := range store.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(store.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

// Touch overrides an object's LastModified time, simulating an object
// written in the past.
func (store *StubStore) Touch(key string, t time.Time) {
	store.mtx.Lock()
	defer store.mtx.Unlock()
	obj, ok := store.objects[key]
	if !ok {
		return
	}
	obj.lastModified = t
	store.objects[key] = obj
}

// Puts returns the number of Put calls so far.
func (store *StubStore) Puts() int {
	store.mtx.Lock()
	defer store.mtx.Unlock()
	return store.puts
}
