// Package resolver expands workloads into the packs they need, using the
// manifests in effect for one feature band and the current platform.
package resolver
