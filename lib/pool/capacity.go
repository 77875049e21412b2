// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"time"

	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// computeUnits maps an instance type to its normalized compute
// capacity (CPU count weighted by memory). The values are product
// catalog data for the cluster service's instance offerings; types
// missing from the table are treated as unknown and never compared
// against other types.
var computeUnits = map[string]float64{
	"t1.micro":    1,
	"m1.small":    1,
	"m1.medium":   2,
	"m1.large":    4,
	"m1.xlarge":   8,
	"m2.xlarge":   6.5,
	"m2.2xlarge":  13,
	"m2.4xlarge":  26,
	"m3.xlarge":   13,
	"m3.2xlarge":  26,
	"c1.medium":   5,
	"c1.xlarge":   20,
	"c3.large":    7,
	"c3.xlarge":   14,
	"c3.2xlarge":  28,
	"c3.4xlarge":  55,
	"c3.8xlarge":  108,
	"cc2.8xlarge": 88,
	"cr1.8xlarge": 88,
	"cg1.4xlarge": 33.5,
	"g2.2xlarge":  26,
	"hi1.4xlarge": 35,
	"hs1.8xlarge": 35,
	"i2.xlarge":   14,
	"i2.2xlarge":  27,
	"i2.4xlarge":  53,
	"i2.8xlarge":  104,
}

// unitsFor returns the compute capacity of one instance of the given
// type, and whether the type appears in the reference table.
func unitsFor(instanceType string) (float64, bool) {
	units, ok := computeUnits[instanceType]
	return units, ok
}

// capacityHours estimates the compute capacity a cluster has already
// accumulated: the sum over instance groups of count × units × age.
// Unknown instance types count one unit each, so clusters made of
// unlisted types still sort deterministically.
func capacityHours(record *mrjob.ClusterRecord, now time.Time) float64 {
	age := now.Sub(record.CreatedAt).Hours()
	if age < 0 {
		age = 0
	}
	total := 0.0
	for _, group := range record.InstanceGroups {
		units, ok := unitsFor(group.Type)
		if !ok {
			units = 1
		}
		total += units * float64(group.Count) * age
	}
	return total
}
