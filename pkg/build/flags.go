// SPDX-License-Identifier: MIT
//
// Package build provides functionality to manage and retrieve build information
// for a Go application. It allows embedding metadata such as the application
// name, build timestamp, Git commit hash, and semantic version into the binary
// at compile time using linker flags, for example:
//
//	go build -ldflags "-X micscope/pkg/build.buildName=micscope -X micscope/pkg/build.buildVersion=0.2.0"
//
// Development builds without ldflags run with "dev" values.
package build

import (
	"errors"
	"fmt"
)

// Description is the one-line summary shown by the CLI.
const Description = "Live microphone spectrum analyzer"

const devValue = "dev"

type ldFlags struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String formats the flags for a version banner.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Dev reports whether any field fell back to the development value.
func (f *ldFlags) Dev() bool {
	return f.Version == devValue || f.Commit == devValue
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:    "micscope",
		Time:    devValue,
		Commit:  devValue,
		Version: devValue,
	}
)

// Initialize copies build information from the ldflags variables into the
// build flags. Every missing flag is reported in one joined error; the
// fields that were set are still copied and the missing ones keep their
// development defaults, so callers may log the error and carry on.
func Initialize() error {
	var errs []error
	set := func(dst *string, value, name string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			return
		}
		*dst = value
	}

	set(&buildFlags.Name, buildName, "BuildName")
	set(&buildFlags.Time, buildTime, "BuildTime")
	set(&buildFlags.Commit, buildCommit, "BuildCommit")
	set(&buildFlags.Version, buildVersion, "BuildVersion")

	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
