package packs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
)

const (
	installedManifestsDir    = "InstalledManifests"
	installedWorkloadSetsDir = "InstalledWorkloadSets"
	manifestReferencesDir    = "v1"
	workloadSetsDir          = "workloadsets"
	workloadSetSuffix        = ".workloadset.json"
	backupSuffix             = ".backup"

	// contentRecordName marks content written by the store. Content shipped
	// with the SDK has no such record and is never collected.
	contentRecordName = "installed"
)

// InstalledManifestRef is manifest content together with the bands referencing it.
type InstalledManifestRef struct {
	// ID is the manifest identifier.
	ID workload.ManifestID
	// Pin is the installed version and its band.
	Pin workloadset.ManifestPin
	// Bands lists the referencing feature bands in ascending order.
	Bands []workload.FeatureBand
}

// InstalledWorkloadSetRef is an installed workload set together with the
// bands referencing it.
type InstalledWorkloadSetRef struct {
	// Version is the workload set version.
	Version string
	// FeatureBand is the band the set was published for.
	FeatureBand workload.FeatureBand
	// Bands lists the referencing feature bands in ascending order.
	Bands []workload.FeatureBand
}

// ManifestStore keeps installed manifests, their per-band references and
// installed workload sets.
type ManifestStore struct {
	// root is the workload root of the install context.
	root string
	// mu serializes reference bookkeeping.
	mu sync.Mutex
}

// NewManifestStore creates a manifest store under root.
func NewManifestStore(root string) *ManifestStore {
	return &ManifestStore{root: filepath.Clean(root)}
}

// Path returns the directory of an installed manifest version.
func (s *ManifestStore) Path(id workload.ManifestID, pin workloadset.ManifestPin) string {
	return filepath.Join(
		config.ManifestsPath(s.root),
		pin.FeatureBand.String(),
		strings.ToLower(id.String()),
		pin.Version.String(),
	)
}

// IsInstalled reports whether the manifest version is present.
func (s *ManifestStore) IsInstalled(id workload.ManifestID, pin workloadset.ManifestPin) bool {
	_, err := os.Stat(s.Path(id, pin))

	return err == nil
}

// Install extracts the manifest package into place and records it as
// installed content.
func (s *ManifestStore) Install(_ context.Context, id workload.ManifestID, pin workloadset.ManifestPin, packagePath string) error {
	if err := Extract(packagePath, s.Path(id, pin)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return markInstalled(s.recordDir(id, pin))
}

// Remove deletes an installed manifest version and its install record.
func (s *ManifestStore) Remove(_ context.Context, id workload.ManifestID, pin workloadset.ManifestPin) error {
	path := s.Path(id, pin)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove manifest %s %s: %w", id, pin, err)
	}

	removeEmptyParents(filepath.Dir(path), config.ManifestsPath(s.root))

	s.mu.Lock()
	defer s.mu.Unlock()

	return unmarkInstalled(s.recordDir(id, pin), s.referencesRoot())
}

// AddReference records that band pins the manifest version.
func (s *ManifestStore) AddReference(_ context.Context, id workload.ManifestID, pin workloadset.ManifestPin, band workload.FeatureBand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.referencePath(id, pin, band)
	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create manifest reference directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write manifest reference %s/%s: %w", id, band, err)
	}

	return file.Close()
}

// RemoveReference drops the reference of band. Missing references are ignored.
func (s *ManifestStore) RemoveReference(_ context.Context, id workload.ManifestID, pin workloadset.ManifestPin, band workload.FeatureBand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.referencePath(id, pin, band)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove manifest reference %s/%s: %w", id, band, err)
	}

	removeEmptyParents(filepath.Dir(path), s.referencesRoot())

	return nil
}

// HasReference reports whether band references the manifest version.
func (s *ManifestStore) HasReference(id workload.ManifestID, pin workloadset.ManifestPin, band workload.FeatureBand) bool {
	_, err := os.Stat(s.referencePath(id, pin, band))

	return err == nil
}

// List returns every manifest version that has references or was installed
// by the store. Entries without bands are content no band uses any more.
func (s *ManifestStore) List(_ context.Context) ([]InstalledManifestRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.referencesRoot()

	ids, err := readDirNames(root)
	if err != nil {
		return nil, err
	}

	var result []InstalledManifestRef

	for _, id := range ids {
		versions, err := readDirNames(filepath.Join(root, id))
		if err != nil {
			return nil, err
		}

		for _, rawVersion := range versions {
			version, err := workload.ParseManifestVersion(rawVersion)
			if err != nil {
				continue
			}

			manifestBands, err := readDirNames(filepath.Join(root, id, rawVersion))
			if err != nil {
				return nil, err
			}

			for _, rawBand := range manifestBands {
				manifestBand, err := workload.NewFeatureBand(rawBand)
				if err != nil {
					continue
				}

				dir := filepath.Join(root, id, rawVersion, rawBand)

				bands, err := readBands(dir)
				if err != nil {
					return nil, err
				}

				if len(bands) == 0 && !fileExists(filepath.Join(dir, contentRecordName)) {
					continue
				}

				result = append(result, InstalledManifestRef{
					ID:    workload.ManifestID(id),
					Pin:   workloadset.ManifestPin{Version: version, FeatureBand: manifestBand},
					Bands: bands,
				})
			}
		}
	}

	return result, nil
}

// OnDisk returns the newest manifest version of each manifest installed under
// the directory of band, including manifests shipped with the SDK itself.
func (s *ManifestStore) OnDisk(band workload.FeatureBand) (map[workload.ManifestID]workloadset.ManifestPin, error) {
	dir := filepath.Join(config.ManifestsPath(s.root), band.String())

	ids, err := readDirNames(dir)
	if err != nil {
		return nil, err
	}

	result := make(map[workload.ManifestID]workloadset.ManifestPin, len(ids))

	for _, id := range ids {
		if id == workloadSetsDir {
			continue
		}

		versions, err := readDirNames(filepath.Join(dir, id))
		if err != nil {
			return nil, err
		}

		for _, rawVersion := range versions {
			version, err := workload.ParseManifestVersion(rawVersion)
			if err != nil {
				continue
			}

			key := workload.ManifestID(id).Normalized()
			if existing, ok := result[key]; ok && existing.Version.Compare(version) >= 0 {
				continue
			}

			result[key] = workloadset.ManifestPin{Version: version, FeatureBand: band}
		}
	}

	return result, nil
}

// WorkloadSetPath returns the directory of an installed workload set.
func (s *ManifestStore) WorkloadSetPath(band workload.FeatureBand, version string) string {
	return filepath.Join(config.ManifestsPath(s.root), band.String(), workloadSetsDir, version)
}

// InstallWorkloadSet extracts a workload set package into place and records
// it as installed content.
func (s *ManifestStore) InstallWorkloadSet(_ context.Context, band workload.FeatureBand, version, packagePath string) error {
	if err := Extract(packagePath, s.WorkloadSetPath(band, version)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return markInstalled(s.workloadSetRecordDir(band, version))
}

// RemoveWorkloadSet deletes an installed workload set and its install record.
func (s *ManifestStore) RemoveWorkloadSet(_ context.Context, band workload.FeatureBand, version string) error {
	path := s.WorkloadSetPath(band, version)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workload set %s: %w", version, err)
	}

	removeEmptyParents(filepath.Dir(path), config.ManifestsPath(s.root))

	s.mu.Lock()
	defer s.mu.Unlock()

	return unmarkInstalled(s.workloadSetRecordDir(band, version), s.workloadSetsRoot())
}

// AddWorkloadSetReference records that band uses the workload set version
// published for setBand.
func (s *ManifestStore) AddWorkloadSetReference(_ context.Context, setBand workload.FeatureBand, version string, band workload.FeatureBand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.workloadSetRecordDir(setBand, version), band.String())
	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create workload set reference directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write workload set reference %s/%s: %w", version, band, err)
	}

	return file.Close()
}

// RemoveWorkloadSetReference drops the reference of band. Missing references are ignored.
func (s *ManifestStore) RemoveWorkloadSetReference(_ context.Context, setBand workload.FeatureBand, version string, band workload.FeatureBand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.workloadSetRecordDir(setBand, version)
	if err := os.Remove(filepath.Join(dir, band.String())); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove workload set reference %s/%s: %w", version, band, err)
	}

	removeEmptyParents(dir, s.workloadSetsRoot())

	return nil
}

// HasWorkloadSetReference reports whether band references the workload set version.
func (s *ManifestStore) HasWorkloadSetReference(setBand workload.FeatureBand, version string, band workload.FeatureBand) bool {
	return fileExists(filepath.Join(s.workloadSetRecordDir(setBand, version), band.String()))
}

// ListWorkloadSets returns every workload set that has references or was
// installed by the store. Sets shipped with the SDK are not listed.
func (s *ManifestStore) ListWorkloadSets(_ context.Context) ([]InstalledWorkloadSetRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.workloadSetsRoot()

	versions, err := readDirNames(root)
	if err != nil {
		return nil, err
	}

	var result []InstalledWorkloadSetRef

	for _, version := range versions {
		setBands, err := readDirNames(filepath.Join(root, version))
		if err != nil {
			return nil, err
		}

		for _, rawBand := range setBands {
			setBand, err := workload.NewFeatureBand(rawBand)
			if err != nil {
				continue
			}

			dir := filepath.Join(root, version, rawBand)

			bands, err := readBands(dir)
			if err != nil {
				return nil, err
			}

			if len(bands) == 0 && !fileExists(filepath.Join(dir, contentRecordName)) {
				continue
			}

			result = append(result, InstalledWorkloadSetRef{Version: version, FeatureBand: setBand, Bands: bands})
		}
	}

	return result, nil
}

// ReadWorkloadSet merges every *.workloadset.json file of an installed workload set.
func (s *ManifestStore) ReadWorkloadSet(band workload.FeatureBand, version string) (*workloadset.Set, error) {
	dir := s.WorkloadSetPath(band, version)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workload set %s: %w", version, err)
	}

	merged := &workloadset.Set{
		Version:     version,
		FeatureBand: band,
		Manifests:   make(map[workload.ManifestID]workloadset.ManifestPin),
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), workloadSetSuffix) {
			continue
		}

		contents, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		set, err := workloadset.Parse(version, contents)
		if err != nil {
			return nil, err
		}

		for id, pin := range set.Manifests {
			merged.Manifests[id] = pin
		}
	}

	return merged, nil
}

// BackupDir moves an existing directory aside and reports whether it existed.
func BackupDir(path string) (string, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}

		return "", false, err
	}

	backup := path + backupSuffix
	if err := os.RemoveAll(backup); err != nil {
		return "", false, fmt.Errorf("clear backup %s: %w", backup, err)
	}

	if err := os.Rename(path, backup); err != nil {
		return "", false, fmt.Errorf("back up %s: %w", path, err)
	}

	return backup, true, nil
}

// RestoreDir replaces path with its backup.
func RestoreDir(backup, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("clear %s: %w", path, err)
	}

	if err := os.Rename(backup, path); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}

	return nil
}

func (s *ManifestStore) workloadSetsRoot() string {
	return config.MetadataPath(s.root, installedWorkloadSetsDir, manifestReferencesDir)
}

func (s *ManifestStore) workloadSetRecordDir(setBand workload.FeatureBand, version string) string {
	return filepath.Join(s.workloadSetsRoot(), version, setBand.String())
}

func (s *ManifestStore) recordDir(id workload.ManifestID, pin workloadset.ManifestPin) string {
	return filepath.Join(
		s.referencesRoot(),
		strings.ToLower(id.String()),
		pin.Version.String(),
		pin.FeatureBand.String(),
	)
}

func (s *ManifestStore) referencesRoot() string {
	return config.MetadataPath(s.root, installedManifestsDir, manifestReferencesDir)
}

func (s *ManifestStore) referencePath(id workload.ManifestID, pin workloadset.ManifestPin, band workload.FeatureBand) string {
	return filepath.Join(s.recordDir(id, pin), band.String())
}

// markInstalled writes the install record of dir.
func markInstalled(dir string) error {
	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create install record directory: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, contentRecordName))
	if err != nil {
		return fmt.Errorf("write install record: %w", err)
	}

	return file.Close()
}

// unmarkInstalled drops the install record of dir and the directories it leaves empty.
func unmarkInstalled(dir, stop string) error {
	if err := os.Remove(filepath.Join(dir, contentRecordName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove install record: %w", err)
	}

	removeEmptyParents(dir, stop)

	return nil
}
