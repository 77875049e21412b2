// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/yuanfeng0905/mrjob/sdk/go/mrjob"
)

// IdleTimeoutActionName is the name of the bootstrap action that
// installs a cluster-side idle self-termination script. It is a
// cluster-specific extra: two pools differing only by it are still
// the same pool, so Fingerprint skips it.
const IdleTimeoutActionName = "idle timeout"

// Fingerprint summarizes the configuration inputs that determine
// whether two jobs can share a cluster: the bootstrap actions (name,
// script, args) and the additional-info blob passed to the cluster
// service at creation time.
func Fingerprint(actions []mrjob.BootstrapAction, additionalInfo string) string {
	type entry struct {
		Name   string   `json:"name"`
		Script string   `json:"script"`
		Args   []string `json:"args"`
	}
	var entries []entry
	for _, action := range actions {
		if action.Name == IdleTimeoutActionName {
			continue
		}
		entries = append(entries, entry{
			Name:   action.Name,
			Script: action.ScriptPath,
			Args:   action.Args,
		})
	}
	buf, err := json.Marshal(struct {
		Actions        []entry `json:"actions"`
		AdditionalInfo string  `json:"additional_info"`
	}{entries, additionalInfo})
	if err != nil {
		// Marshalling strings and slices of strings cannot fail.
		panic(err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(buf))
}
