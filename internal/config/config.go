package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

// Record store backends.
const (
	RecordStoreFile   = "file"
	RecordStoreSQLite = "sqlite"
)

// Installer mechanisms.
const (
	InstallerFileBased = "file"
)

// Config holds the settings shared by the workload commands.
type Config struct {
	// DotnetRoot is the SDK installation root that holds sdk/ and the global workload root.
	DotnetRoot string `yaml:"dotnet_root"`
	// UserHome is the root for user-local installs.
	UserHome string `yaml:"user_home"`
	// UserLocal selects the user-local install context instead of the global one.
	UserLocal bool `yaml:"user_local"`
	// FeedURL is the package feed used for downloads and latest-version queries.
	FeedURL string `yaml:"feed_url"`
	// OfflineCache replaces the feed with a local directory of packages when set.
	OfflineCache string `yaml:"offline_cache"`
	// TempDir is where packages are downloaded before being installed.
	TempDir string `yaml:"temp_dir"`
	// RecordStore selects the installation record backend (file or sqlite).
	RecordStore string `yaml:"record_store"`
	// Installer selects the install mechanism.
	Installer string `yaml:"installer"`
	// Parallelism bounds concurrent downloads.
	Parallelism int `yaml:"parallelism"`
	// Retries bounds download attempts per package.
	Retries uint64 `yaml:"retries"`
	// Timeout bounds each feed request.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is the minimum log level.
	LogLevel string `yaml:"log_level"`
	// LogFile is an optional rotating log file.
	LogFile string `yaml:"log_file"`
}

const (
	// DefaultConfigFilename is the default filename for engine settings.
	DefaultConfigFilename = "sdk-workload-settings.yaml"

	// DefaultParallelism is the default size of the download worker pool.
	DefaultParallelism = 16

	// DefaultRetries is the default number of download attempts per package.
	DefaultRetries = 3

	// DefaultTimeout is the default duration for feed requests.
	DefaultTimeout = 30 * time.Second

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is used for every directory the engine creates.
	DefaultDirPermissions = 0o755
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errDotnetRootRequired is returned when the SDK root is missing.
	errDotnetRootRequired = errors.New("dotnet root must be provided")
	// errUnknownRecordStore is returned for unsupported record backends.
	errUnknownRecordStore = errors.New("unknown record store")
	// errUnknownInstaller is returned for unsupported install mechanisms.
	errUnknownInstaller = errors.New("unknown installer")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.DotnetRoot == "" {
		return errDotnetRootRequired
	}

	if settings.RecordStore == "" {
		settings.RecordStore = RecordStoreFile
	}

	switch settings.RecordStore {
	case RecordStoreFile, RecordStoreSQLite:
	default:
		return fmt.Errorf("%w: %s", errUnknownRecordStore, settings.RecordStore)
	}

	if settings.Installer == "" {
		settings.Installer = InstallerFileBased
	}

	if settings.Installer != InstallerFileBased {
		return fmt.Errorf("%w: %s", errUnknownInstaller, settings.Installer)
	}

	if settings.Parallelism <= 0 {
		settings.Parallelism = DefaultParallelism
	}

	if settings.Retries == 0 {
		settings.Retries = DefaultRetries
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if settings.TempDir == "" {
		settings.TempDir = os.TempDir()
	}

	if settings.UserLocal && settings.UserHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve user home: %w", err)
		}

		settings.UserHome = filepath.Join(home, ".dotnet")
	}

	if settings.FeedURL == "" {
		return nil
	}

	if _, err := url.ParseRequestURI(settings.FeedURL); err != nil {
		return fmt.Errorf("invalid feed URI: %w", err)
	}

	return nil
}

// InstallContext returns the install context selected by the settings.
func (c *Config) InstallContext() workload.InstallContext {
	if c.UserLocal {
		return workload.InstallContextUser
	}

	return workload.InstallContextGlobal
}

// WorkloadRoot returns the directory that holds packs, manifests and metadata
// for the selected install context.
func (c *Config) WorkloadRoot() string {
	if c.UserLocal {
		return c.UserHome
	}

	return c.DotnetRoot
}
