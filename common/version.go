// Package common holds process-wide helpers shared by the agent binaries:
// logger construction and build metadata.
package common

// PackageName is used as the metrics namespace and default log service tag.
const PackageName = "sea"

// Version is overridden at build time with
// -ldflags "-X github.com/ruteri/secure-element-agent/common.Version=..."
var Version = "dev"
