package commands

import (
	"context"
	"errors"

	"github.com/dotnet/sdk-sub044/internal/logger"
)

// DownloadOptions are inputs of the download command.
type DownloadOptions struct {
	GlobalOptions

	// Workloads lists the workloads whose packs are downloaded.
	Workloads []string
	// OutputDir receives the packages. It can later be passed as an offline cache.
	OutputDir string
}

var errOutputDir = errors.New("an output directory must be specified")

// Download saves the packages of workloads to a directory without installing
// them. Packs already installed are downloaded too, so the directory is
// a complete offline cache.
func Download(ctx context.Context, opts *DownloadOptions) ([]string, error) {
	ctx = logger.WithName(ctx, "workload-download")

	if opts == nil {
		return nil, errOptionsRequired
	}

	if len(opts.Workloads) == 0 {
		return nil, errNoWorkloads
	}

	if opts.OutputDir == "" {
		return nil, errOutputDir
	}

	s, err := openSession(ctx, &opts.GlobalOptions, false)
	if err != nil {
		return nil, err
	}

	defer s.close(ctx)

	paths, err := s.engine.Installer.DownloadToCache(ctx, toWorkloadIDs(opts.Workloads), s.band, opts.OutputDir)
	if err != nil {
		logger.ErrorKV(ctx, "Workload download failed", "error", err)
		return nil, err
	}

	logger.InfoKV(ctx, "Downloaded workload packages", "count", len(paths), "dir", opts.OutputDir)

	return paths, nil
}
