package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/service/common"
)

// GlobalOptions are accepted by every command. Non-empty values override the
// settings file.
type GlobalOptions struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// SDKVersion is the SDK version whose feature band is operated on.
	SDKVersion string
	// DotnetRoot overrides the SDK installation root.
	DotnetRoot string
	// UserLocal selects the user-local install context.
	UserLocal bool
	// FeedURL overrides the package feed.
	FeedURL string
	// OfflineCache installs from a local directory of packages instead of the feed.
	OfflineCache string
	// TempDir overrides the download directory.
	TempDir string
	// IncludePrerelease lets manifest updates pick prerelease versions.
	IncludePrerelease bool
	// EngineOptions are appended when the engine is built.
	EngineOptions []common.Option
}

var (
	errOptionsRequired = errors.New("options must be provided")
	errSDKVersion      = errors.New("sdk version must be provided")
)

// session is one command execution against one feature band.
type session struct {
	engine *common.Engine
	band   workload.FeatureBand
	lock   *common.Lock
}

// loadSettings reads the settings file and applies the overrides. A missing
// default settings file is not an error when the overrides name a dotnet root.
func loadSettings(opts *GlobalOptions) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)

	switch {
	case err == nil:
	case opts.ConfigPath == "" && opts.DotnetRoot != "" && errors.Is(err, os.ErrNotExist):
		settings = new(config.Config)
	default:
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if opts.DotnetRoot != "" {
		settings.DotnetRoot = opts.DotnetRoot
	}

	if opts.UserLocal {
		settings.UserLocal = true
	}

	if opts.FeedURL != "" {
		settings.FeedURL = opts.FeedURL
	}

	if opts.OfflineCache != "" {
		settings.OfflineCache = opts.OfflineCache
	}

	if opts.TempDir != "" {
		settings.TempDir = opts.TempDir
	}

	if err = config.Validate(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// openSession builds the engine and, when mutating, takes the band marker.
func openSession(ctx context.Context, opts *GlobalOptions, mutating bool) (*session, error) {
	if opts == nil {
		return nil, errOptionsRequired
	}

	if opts.SDKVersion == "" {
		return nil, errSDKVersion
	}

	band, err := workload.NewFeatureBand(opts.SDKVersion)
	if err != nil {
		return nil, err
	}

	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	configureLogger(settings)

	engineOptions := append([]common.Option{common.WithPrerelease(opts.IncludePrerelease)}, opts.EngineOptions...)

	engine, err := common.Open(ctx, settings, engineOptions...)
	if err != nil {
		return nil, err
	}

	s := &session{engine: engine, band: band}

	if mutating {
		if s.lock, err = common.AcquireLock(ctx, settings.WorkloadRoot(), band); err != nil {
			_ = engine.Close()
			return nil, err
		}
	}

	logger.DebugKV(ctx, "Session opened",
		"band", band.String(),
		"root", settings.WorkloadRoot(),
		"context", settings.InstallContext())

	return s, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.lock.Release(); err != nil {
		logger.WarnKV(ctx, "Unable to release operation marker", "error", err)
	}

	if err := s.engine.Close(); err != nil {
		logger.WarnKV(ctx, "Unable to close record store", "error", err)
	}
}

// collectGarbage runs after a committed change. Failures are only reported.
func (s *session) collectGarbage(ctx context.Context, cleanAll bool) {
	report, err := s.engine.Collector.Collect(ctx, s.band, cleanAll)
	if err != nil {
		logger.WarnKV(ctx, "Garbage collection failed", "error", err)
		return
	}

	for _, key := range report.Packs {
		logger.InfoKV(ctx, "Removed pack", "pack", key)
	}

	for _, manifest := range report.Manifests {
		logger.InfoKV(ctx, "Removed manifest", "manifest", manifest)
	}

	for _, set := range report.WorkloadSets {
		logger.InfoKV(ctx, "Removed workload set", "workloadSet", set)
	}
}

func configureLogger(settings *config.Config) {
	level, ok := logger.ParseLogLevel(settings.LogLevel)
	if !ok {
		return
	}

	logger.SetLevel(level)

	if settings.LogFile != "" {
		logger.SetLogger(logger.NewWithFile(nil, settings.LogFile))
	}
}

func toWorkloadIDs(values []string) []workload.WorkloadID {
	ids := make([]workload.WorkloadID, 0, len(values))
	for _, value := range values {
		ids = append(ids, workload.WorkloadID(value))
	}

	return ids
}
