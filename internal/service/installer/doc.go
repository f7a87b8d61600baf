// Package installer installs workload packs, manifests and workload sets
// inside transactions, so a failed operation leaves the workload root as it
// found it.
package installer
