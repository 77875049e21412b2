// Copyright (C) The Mrjob Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package cmd helps define reusable functions that can be exposed as
// [subcommands of] command line programs.
package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// A Handler is a process that can be invoked from a command line.
type Handler interface {
	RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int

// RunCommand implements Handler.
func (f HandlerFunc) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return f(prog, args, stdin, stdout, stderr)
}

// Version is a Handler that prints the given version string.
func Version(version string) Handler {
	return HandlerFunc(func(prog string, args []string, _ io.Reader, stdout, _ io.Writer) int {
		prog = strings.TrimSuffix(prog, " -version")
		prog = strings.TrimSuffix(prog, " --version")
		prog = strings.TrimSuffix(prog, " version")
		fmt.Fprintf(stdout, "%s %s\n", prog, version)
		return 0
	})
}

// Multi returns a Handler that looks up its first argument in m, and
// invokes the resulting Handler with the remaining args.
//
// Example:
//
//	os.Exit(Multi(map[string]Handler{
//	        "foobar": HandlerFunc(func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
//	                fmt.Println(args[0])
//	                return 2
//	        }),
//	}).RunCommand("/usr/bin/multi", []string{"foobar", "baz"}, os.Stdin, os.Stdout, os.Stderr))
//
// ...prints "baz" and exits 2.
func Multi(m map[string]Handler) Handler {
	return HandlerFunc(func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
		if len(args) < 1 {
			fmt.Fprintf(stderr, "usage: %s command [args]\n", prog)
			multiUsage(stderr, m)
			return 2
		}
		_, basename := filepathSplit(prog)
		if cmd, ok := m[basename]; ok {
			return cmd.RunCommand(prog, args, stdin, stdout, stderr)
		} else if cmd, ok = m[args[0]]; ok {
			return cmd.RunCommand(prog+" "+args[0], args[1:], stdin, stdout, stderr)
		} else {
			fmt.Fprintf(stderr, "%s: unrecognized command %q\n", prog, args[0])
			multiUsage(stderr, m)
			return 2
		}
	})
}

func filepathSplit(path string) (dir, base string) {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i+1], path[i+1:]
	}
	return "", path
}

func multiUsage(stderr io.Writer, m map[string]Handler) {
	var subcommands []string
	for sc := range m {
		if strings.HasPrefix(sc, "-") {
			// Some subcommands have alternate versions
			// like "--version" for compatibility. Don't
			// clutter the subcommand summary with those.
			continue
		}
		subcommands = append(subcommands, sc)
	}
	sort.Strings(subcommands)
	fmt.Fprintf(stderr, "\nAvailable commands:\n")
	for _, sc := range subcommands {
		fmt.Fprintf(stderr, "    %s\n", sc)
	}
}
