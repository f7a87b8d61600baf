// Package manifests decides which manifest versions a feature band should
// move to, from a rollback file, a workload set or the newest versions a feed
// advertises.
package manifests
