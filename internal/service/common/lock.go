//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-ps"
	"gopkg.in/yaml.v3"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/logger"
)

// MarkerFilename marks that a workload operation is running for a band.
const MarkerFilename = "workload-operation-marker.yaml"

// ErrLocked is returned when another live process holds the marker.
var ErrLocked = errors.New("another workload operation is running")

// Owner describes the process holding a marker.
type Owner struct {
	PID        int       `yaml:"pid"`
	Executable string    `yaml:"executable"`
	Hostname   string    `yaml:"hostname"`
	Username   string    `yaml:"username"`
	Acquired   time.Time `yaml:"acquired"`
}

// Lock is the marker of one running operation.
type Lock struct {
	path string
}

// DetectOwner gathers process, host and user information for the marker.
func DetectOwner() (*Owner, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("executable: %w", err)
	}

	return &Owner{
		PID:        os.Getpid(),
		Executable: filepath.Base(executable),
		Hostname:   hostname,
		Username:   currentUser.Username,
		Acquired:   time.Now().UTC(),
	}, nil
}

// AcquireLock writes the operation marker for band under root. A marker left
// by a process that is no longer running is replaced.
func AcquireLock(ctx context.Context, root string, band workload.FeatureBand) (*Lock, error) {
	owner, err := DetectOwner()
	if err != nil {
		return nil, err
	}

	path := config.MetadataPath(root, band.String(), MarkerFilename)
	if err = os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create marker directory: %w", err)
	}

	existing, err := readOwner(path)

	switch {
	case err == nil && isRunning(existing):
		return nil, fmt.Errorf("%w: pid %d of %s@%s since %s",
			ErrLocked, existing.PID, existing.Username, existing.Hostname, existing.Acquired.Format(time.RFC3339))
	case err == nil:
		logger.InfoKV(ctx, "The operation marker is stale, removing it", "pid", existing.PID)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale marker: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		logger.WarnKV(ctx, "Unable to read operation marker, replacing it", "error", err)
		_ = os.Remove(path)
	}

	data, err := yaml.Marshal(owner)
	if err != nil {
		return nil, fmt.Errorf("encode marker: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, config.DefaultFilePermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLocked
		}

		return nil, fmt.Errorf("create marker: %w", err)
	}

	if _, err = file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(path)

		return nil, fmt.Errorf("write marker: %w", err)
	}

	if err = file.Close(); err != nil {
		return nil, err
	}

	return &Lock{path: path}, nil
}

// Release removes the marker.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}

	return nil
}

func readOwner(path string) (*Owner, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var owner Owner
	if err = yaml.Unmarshal(contents, &owner); err != nil {
		return nil, fmt.Errorf("decode marker: %w", err)
	}

	return &owner, nil
}

// isRunning reports whether the marker owner is a live process other than
// this one, running the executable it recorded.
func isRunning(owner *Owner) bool {
	if owner.PID <= 0 || owner.PID == os.Getpid() {
		return false
	}

	process, err := ps.FindProcess(owner.PID)
	if err != nil || process == nil {
		return false
	}

	return owner.Executable == "" || process.Executable() == owner.Executable
}
