package buildtime

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var version string

//go:embed revision
var revision string

func init() {
	version = strings.TrimSpace(version)
	revision = strings.TrimSpace(revision)
}

// version of the importer executor and importctl.
func VERSION() string {
	return version
}

func GIT_REVISION() string {
	return revision
}

func VersionString() string {
	return version + " (commit: " + revision + ")"
}

// UserAgent names this build to data portals and config remotes.
//
//	importexec/v0.1.0 (+commit)
func UserAgent() string {
	return "importexec/" + version + " (+" + revision + ")"
}
