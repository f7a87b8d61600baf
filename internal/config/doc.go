// Package config defines engine settings used by the sdk-workload commands and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type selects the SDK root, the install context, the package feed
// or offline cache, the record store backend and the download pool limits.
package config
