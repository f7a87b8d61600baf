// Package workload contains core domain types for workload installation.
//
// It defines identifiers (WorkloadID, ManifestID, PackID), the SDK FeatureBand
// that scopes every installation, strict ManifestVersion values, PackInfo and
// ManifestVersionUpdate descriptors, InstallationRecord triples and the error
// taxonomy shared by the installer, the resolvers and the garbage collector.
package workload
