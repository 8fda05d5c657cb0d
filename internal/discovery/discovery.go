// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package discovery detects agent CLI sessions that are already running
// as OS processes. Detection is process-based ("<cli> --resume <id>" on
// a live process) rather than inferred from on-disk session directories,
// which are not cleaned up on crash and cause false positives.
package discovery

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// ResumeIDFromArgs extracts the session id from an agent CLI argument
// list of the form [... "--resume" "<id>" ...]. Only UUID-shaped ids
// (32+ chars containing '-') are accepted.
func ResumeIDFromArgs(args []string) (string, bool) {
	for i, arg := range args {
		if arg != "--resume" || i+1 >= len(args) {
			continue
		}
		id := args[i+1]
		if len(id) >= 32 && strings.Contains(id, "-") {
			return id, true
		}
	}
	return "", false
}

// cmdlineArgs reads a process's argument list from /proc. Returns nil on
// platforms without procfs or when the process has already exited.
func cmdlineArgs(pid int) []string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil || len(data) == 0 {
		return nil
	}
	raw := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	return raw
}

// RunningResumeIDs returns the set of runner session ids with a live
// "<executable> --resume <id>" process. Errors enumerating processes
// yield an empty set; callers treat absence as "not known running".
func RunningResumeIDs(executable string) map[string]bool {
	running := make(map[string]bool)
	procs, err := ps.Processes()
	if err != nil {
		return running
	}
	for _, p := range procs {
		if p.Executable() != executable {
			continue
		}
		if id, ok := ResumeIDFromArgs(cmdlineArgs(p.Pid())); ok {
			running[id] = true
		}
	}
	return running
}

// IsSessionRunning reports whether a specific runner session id has a
// live process for the given executable.
func IsSessionRunning(executable, resumeID string) bool {
	return RunningResumeIDs(executable)[resumeID]
}
