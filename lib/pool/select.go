// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"sort"
	"time"

	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// Rank orders matcher-approved clusters by acquisition preference:
// oldest creation time first, so older clusters keep draining instead
// of idling, then fewest accumulated capacity-hours, so the job lands
// on the cluster that has cost the least so far. Clusters in exclude
// (already tried and lost this run) are dropped.
func Rank(records []mrjob.ClusterRecord, exclude map[mrjob.ClusterID]bool, now time.Time) []mrjob.ClusterRecord {
	var ranked []mrjob.ClusterRecord
	for _, record := range records {
		if !exclude[record.ID] {
			ranked = append(ranked, record)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return capacityHours(a, now) < capacityHours(b, now)
	})
	return ranked
}
