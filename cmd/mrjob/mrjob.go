// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Command mrjob runs multi-step batch jobs on pooled elastic
// clusters.
package main

import (
	"os"

	"github.com/yuanfeng0905/mrjob/lib/cmd"
)

// version is set by the build with -ldflags "-X main.version=...".
var version = "dev"

var handler = cmd.Multi(map[string]cmd.Handler{
	"version":   cmd.Version(version),
	"-version":  cmd.Version(version),
	"--version": cmd.Version(version),

	"run":               runCommand{},
	"run-cluster":       runClusterCommand{},
	"terminate-cluster": terminateClusterCommand{},
})

func main() {
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
