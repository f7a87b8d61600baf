// Package gc removes pack, manifest and workload set content that no
// installed workload or pinned workload set of any feature band still needs.
package gc
