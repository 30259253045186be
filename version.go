// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"runtime"
	"strings"
	"time"
)

// APIVersion is the protocol version implemented by this gateway. Clients
// send theirs in the PXF-API-VERSION header.
const APIVersion = "16"

var Version string
var Commit string
var BuildTime string
var GoVersion string = runtime.Version()

// VersionInfo describes the build for the version endpoint and the CLI.
func VersionInfo() string {
	suffix := " v0.x"
	if Version != "" {
		suffix = " " + Version
	}
	buildTime := BuildTime
	if buildTime != "" {
		if t, err := time.Parse("2006-01-02T15:04:05+0000", BuildTime); err == nil {
			buildTime = t.Local().Format("Jan _2 2006 3:04PM")
		}
	}
	switch {
	case Commit != "" && buildTime != "":
		suffix += " (" + buildTime + ", " + Commit + ")"
	case Commit != "":
		suffix += " (" + Commit + ")"
	case buildTime != "":
		suffix += " (" + buildTime + ")"
	}
	return "FeatureBase Gateway" + suffix + " " + GoVersion + ", API v" + APIVersion
}

// VersionChecker decides whether a client protocol version can be served.
type VersionChecker interface {
	IsCompatible(server, client string) bool
}

// MajorVersionChecker accepts clients whose major version component equals
// the server's.
type MajorVersionChecker struct{}

func (MajorVersionChecker) IsCompatible(server, client string) bool {
	return major(server) == major(client)
}

func major(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
