// Package common holds helpers shared by the workload commands.
//
// It wires the engine from settings and guards a workload root against
// concurrent writers with a marker file.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
