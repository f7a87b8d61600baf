// Package workloadset maps workload set versions to feature bands and package
// versions and parses workload set contents.
//
// A workload set version such as "8.0.203.1" is published as the package
// version "8.203.1" of the workload set package for band "8.0.200". The
// encoding is lossless: FromPackageVersion(ToPackageVersion(v)) returns v for
// every canonical version.
package workloadset
