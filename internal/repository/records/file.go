package records

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

const installedWorkloadDir = "InstalledWorkloads"

// FileStore keeps one empty marker file per record under
// metadata/workloads/{band}/InstalledWorkloads/{workload}.
type FileStore struct {
	// root is the workload root of the install context.
	root string
	// installContext is the context the records belong to.
	installContext workload.InstallContext
	// mu serializes access to the marker directory.
	mu sync.Mutex
}

// NewFileStore creates a marker-file store rooted at root.
func NewFileStore(root string, installContext workload.InstallContext) *FileStore {
	return &FileStore{
		root:           filepath.Clean(root),
		installContext: installContext,
	}
}

// Context returns the install context the store is bound to.
func (s *FileStore) Context() workload.InstallContext { return s.installContext }

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// Write creates the record marker.
func (s *FileStore) Write(_ context.Context, id workload.WorkloadID, band workload.FeatureBand) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.bandDir(band)
	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	path := filepath.Join(dir, id.String())
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write record %s/%s: %w", band, id, err)
	}

	return file.Close()
}

// Delete removes the record marker.
func (s *FileStore) Delete(_ context.Context, id workload.WorkloadID, band workload.FeatureBand) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.bandDir(band), id.String()))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete record %s/%s: %w", band, id, err)
	}

	return nil
}

// List returns the workloads recorded for band in ascending order.
func (s *FileStore) List(_ context.Context, band workload.FeatureBand) ([]workload.WorkloadID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.bandDir(band))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list records for %s: %w", band, err)
	}

	ids := make([]workload.WorkloadID, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ids = append(ids, workload.WorkloadID(entry.Name()))
	}

	sortIDs(ids)

	return ids, nil
}

// ListBands returns every band that has a record directory, in ascending order.
func (s *FileStore) ListBands(_ context.Context) ([]workload.FeatureBand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(config.MetadataPath(s.root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list record bands: %w", err)
	}

	bands := make([]workload.FeatureBand, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// Other metadata lives next to band directories.
		band, err := workload.NewFeatureBand(entry.Name())
		if err != nil {
			continue
		}

		if _, err = os.Stat(filepath.Join(config.MetadataPath(s.root, entry.Name()), installedWorkloadDir)); err != nil {
			continue
		}

		bands = append(bands, band)
	}

	sortBands(bands)

	return bands, nil
}

func (s *FileStore) bandDir(band workload.FeatureBand) string {
	return config.MetadataPath(s.root, band.String(), installedWorkloadDir)
}
