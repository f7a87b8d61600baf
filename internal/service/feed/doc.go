// Package feed fetches workload packages either from an HTTP package feed or
// from an offline cache directory.
package feed
