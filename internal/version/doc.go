// Package version holds the build metadata of sdk-workload.
//
// Version, Commit and BuildTime are set with -ldflags at release time; local
// builds keep the development defaults. The package also attaches the
// `version` subcommand to the CLI.
package version
