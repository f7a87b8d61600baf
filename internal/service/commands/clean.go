package commands

import (
	"context"

	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/service/gc"
)

// CleanOptions are inputs of the clean command.
type CleanOptions struct {
	GlobalOptions

	// All also removes workloads of feature bands without an installed SDK.
	All bool
}

// Clean collects garbage and reports what was removed. Unlike the collection
// that follows other commands, failures are returned.
func Clean(ctx context.Context, opts *CleanOptions) (*gc.Report, error) {
	ctx = logger.WithName(ctx, "workload-clean")

	if opts == nil {
		return nil, errOptionsRequired
	}

	s, err := openSession(ctx, &opts.GlobalOptions, true)
	if err != nil {
		return nil, err
	}

	defer s.close(ctx)

	report, err := s.engine.Collector.Collect(ctx, s.band, opts.All)
	if err != nil {
		logger.ErrorKV(ctx, "Workload clean failed", "error", err)
		return report, err
	}

	logger.InfoKV(ctx, "Workload clean completed",
		"packs", len(report.Packs),
		"manifests", len(report.Manifests),
		"workloadSets", len(report.WorkloadSets),
		"records", report.Records)

	return report, nil
}
