// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import (
	"bufio"
	"os"
	"strings"
)

// configPaths lists the routing-table files consulted in order; the
// first file with a line matching the process name wins, and a file
// without such a line passes the lookup on to the next one.
var configPaths = []string{
	"/etc/sky1/wsi-routing.conf",
	"/usr/share/cix-gpu/wsi-routing.conf",
}

// maxConfigLine is the maximum length of a routing-table line this
// package will read, per spec §6.
const maxConfigLine = 512

// parsePresenterName maps a routing-table presenter token to a Kind.
// It returns KindNone, false for anything else.
func parsePresenterName(s string) (Kind, bool) {
	switch s {
	case "bypass":
		return KindBypass, true
	case "dri3":
		return KindDRI3, true
	case "shm":
		return KindSHM, true
	default:
		return KindNone, false
	}
}

// lookupConfigOverride scans configPaths in order for a line whose
// first column matches procName, and returns the preferred Kind from
// the first match. It returns KindNone, false if no file has a match.
func lookupConfigOverride(procName string) (Kind, bool) {
	for _, path := range configPaths {
		if kind, ok := scanConfigFile(path, procName); ok {
			return kind, true
		}
	}
	return KindNone, false
}

// scanConfigFile scans a single routing-table file for procName.
func scanConfigFile(path, procName string) (Kind, bool) {
	f, err := os.Open(path)
	if err != nil {
		return KindNone, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, maxConfigLine), maxConfigLine)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		app, pres := fields[0], fields[1]
		if len(app) > 255 || len(pres) > 63 {
			continue
		}
		if app != procName {
			continue
		}
		if kind, ok := parsePresenterName(pres); ok {
			return kind, true
		}
		return KindNone, false
	}
	return KindNone, false
}

// processShortName reads the calling process's short name from
// /proc/self/comm, per spec §6.
func processShortName() (string, error) {
	data, err := os.ReadFile("/proc/self/comm")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}
