// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yuanfeng0905/mrjob/lib/cloud"
)

// A Locker claims cluster lock keys in an eventually consistent
// object store. The store has no atomic create-if-absent and a read
// after a write may be stale, so a claim takes two steps:
//
// Step 1: read the key. If it is absent, or present but older than
// TTL, write the claimant's id and proceed; if it is present and
// fresh, another live claimant holds it, so fail immediately.
//
// Step 2: after SyncWait, read the key back. If the content is still
// the claimant's id, the claim is confirmed. If it differs, another
// claimant's step-1 write raced in between and the loser must not
// proceed as owner.
//
// Both claimants may pass step 1, but only one passes step 2, because
// the last write wins. Neither step retries internally; retry policy
// belongs to the caller.
type Locker struct {
	Store cloud.ObjectStore
	// TTL after which an existing lock is considered abandoned
	// and eligible for reclaim. Zero means locks never expire.
	TTL time.Duration
	// SyncWait is how long to wait between the step-1 write and
	// the step-2 confirmation read, giving racing writes time to
	// become visible.
	SyncWait time.Duration
	Logger   logrus.FieldLogger

	timeNow func() time.Time
	sleep   func(time.Duration)
}

// Acquire attempts to claim key for claimant. A false return with nil
// error means the lock is held by someone else: a normal negative
// result, not a failure.
func (lk *Locker) Acquire(ctx context.Context, key, claimant string) (bool, error) {
	ok, err := lk.claim(ctx, key, claimant)
	if err != nil || !ok {
		return false, err
	}
	if lk.SyncWait > 0 {
		lk.pause(lk.SyncWait)
	}
	return lk.confirm(ctx, key, claimant)
}

// claim is step 1: write the claimant's id if the key is absent or
// expired.
func (lk *Locker) claim(ctx context.Context, key, claimant string) (bool, error) {
	_, lastModified, err := lk.Store.Get(ctx, key)
	switch {
	case err == cloud.ErrNotExist:
	case err != nil:
		return false, err
	case lk.TTL > 0 && lk.now().Sub(lastModified) > lk.TTL:
		lk.Logger.WithFields(logrus.Fields{
			"Key": key,
			"Age": lk.now().Sub(lastModified),
		}).Info("reclaiming expired lock")
	default:
		return false, nil
	}
	return true, lk.Store.Put(ctx, key, []byte(claimant))
}

// confirm is step 2: read the key back and check the claim stuck.
func (lk *Locker) confirm(ctx context.Context, key, claimant string) (bool, error) {
	data, _, err := lk.Store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if string(data) != claimant {
		lk.Logger.WithFields(logrus.Fields{
			"Key":    key,
			"Holder": string(data),
		}).Debug("lost lock race")
		return false, nil
	}
	return true, nil
}

func (lk *Locker) now() time.Time {
	if lk.timeNow != nil {
		return lk.timeNow()
	}
	return time.Now()
}

func (lk *Locker) pause(d time.Duration) {
	if lk.sleep != nil {
		lk.sleep(d)
	} else {
		time.Sleep(d)
	}
}
