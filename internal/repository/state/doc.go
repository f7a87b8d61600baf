// Package state implements persistence for per-band install state.
//
// The FileRepository stores the manifest pins and the workload set version of
// each feature band as protobuf JSON (a structpb.Struct) on disk.
package state
