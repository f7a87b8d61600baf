package packs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

// InstalledPack is pack content together with the bands referencing it.
type InstalledPack struct {
	// Pack describes the content.
	Pack workload.PackInfo
	// Bands lists the referencing feature bands in ascending order.
	Bands []workload.FeatureBand
}

// packContentRecord names the install record kept next to the band
// references of a pack. It is not a band name, so readBands skips it.
const packContentRecord = "content.yaml"

// packReference is the body of a reference file and of an install record.
type packReference struct {
	ID                string `yaml:"id"`
	Version           string `yaml:"version"`
	Kind              string `yaml:"kind"`
	ResolvedPackageID string `yaml:"resolved_package_id"`
}

// Store keeps pack content shared by all bands and per-band references to it.
//
// Content lives under packs/{package}/{version} (or a single file for library
// and template packs). A reference is a file under
// metadata/workloads/InstalledPacks/v1/{package}/{version}/{band}.
type Store struct {
	// root is the workload root of the install context.
	root string
	// mu serializes reference bookkeeping.
	mu sync.Mutex
}

// NewStore creates a pack store under root.
func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// ContentPath returns where the content of pack is installed.
func (s *Store) ContentPath(pack workload.PackInfo) string {
	if pack.Kind.IsSingleFile() {
		return filepath.Join(
			config.SingleFilePacksPath(s.root, pack.Kind == workload.PackKindTemplate),
			fmt.Sprintf("%s.%s.nupkg", pack.ResolvedPackageID, pack.Version),
		)
	}

	return filepath.Join(config.PacksPath(s.root), pack.ResolvedPackageID, pack.Version)
}

// IsInstalled reports whether the content of pack is present.
func (s *Store) IsInstalled(pack workload.PackInfo) bool {
	_, err := os.Stat(s.ContentPath(pack))

	return err == nil
}

// Install places the package at packagePath as the content of pack.
// Single-file packs keep the package itself; other packs are extracted.
// An install record lets garbage collection find the content even when no
// band references it.
func (s *Store) Install(_ context.Context, pack workload.PackInfo, packagePath string) error {
	var (
		target = s.ContentPath(pack)
		err    error
	)

	if pack.Kind.IsSingleFile() {
		err = CopyFile(packagePath, target)
	} else {
		err = Extract(packagePath, target)
	}

	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeRecord(filepath.Join(s.recordDir(pack.Key()), packContentRecord), pack)
}

// Remove deletes the content of pack and its install record. Missing content
// is not an error.
func (s *Store) Remove(_ context.Context, pack workload.PackInfo) error {
	target := s.ContentPath(pack)

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove pack %s: %w", pack.Key(), err)
	}

	if !pack.Kind.IsSingleFile() {
		// Drop the now empty package directory.
		_ = os.Remove(filepath.Dir(target))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.recordDir(pack.Key())
	if err := os.Remove(filepath.Join(dir, packContentRecord)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove install record of %s: %w", pack.Key(), err)
	}

	removeEmptyParents(dir, config.PackReferencesPath(s.root))

	return nil
}

// AddReference records that band uses pack.
func (s *Store) AddReference(_ context.Context, pack workload.PackInfo, band workload.FeatureBand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeRecord(s.referencePath(pack.Key(), band), pack); err != nil {
		return fmt.Errorf("pack reference %s/%s: %w", pack.Key(), band, err)
	}

	return nil
}

// RemoveReference drops the reference of band to the pack. Missing references are ignored.
func (s *Store) RemoveReference(_ context.Context, key workload.PackageKey, band workload.FeatureBand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.referencePath(key, band)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pack reference %s/%s: %w", key, band, err)
	}

	removeEmptyParents(filepath.Dir(path), config.PackReferencesPath(s.root))

	return nil
}

// HasReference reports whether band references the pack.
func (s *Store) HasReference(key workload.PackageKey, band workload.FeatureBand) bool {
	_, err := os.Stat(s.referencePath(key, band))

	return err == nil
}

// References returns the bands referencing the pack, in ascending order.
func (s *Store) References(key workload.PackageKey) ([]workload.FeatureBand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return readBands(filepath.Join(config.PackReferencesPath(s.root), key.PackageID, key.Version))
}

// List returns every pack that has references or an install record. Packs
// without bands are installed content no band uses any more.
func (s *Store) List(_ context.Context) ([]InstalledPack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := config.PackReferencesPath(s.root)

	packageDirs, err := readDirNames(root)
	if err != nil {
		return nil, err
	}

	var result []InstalledPack

	for _, packageID := range packageDirs {
		versions, err := readDirNames(filepath.Join(root, packageID))
		if err != nil {
			return nil, err
		}

		for _, version := range versions {
			dir := filepath.Join(root, packageID, version)

			bands, err := readBands(dir)
			if err != nil {
				return nil, err
			}

			var pack workload.PackInfo

			switch record := filepath.Join(dir, packContentRecord); {
			case fileExists(record):
				pack, err = readReference(record)
			case len(bands) > 0:
				pack, err = readReference(filepath.Join(dir, bands[0].String()))
			default:
				continue
			}

			if err != nil {
				return nil, err
			}

			result = append(result, InstalledPack{Pack: pack, Bands: bands})
		}
	}

	return result, nil
}

func (s *Store) recordDir(key workload.PackageKey) string {
	return filepath.Join(config.PackReferencesPath(s.root), key.PackageID, key.Version)
}

func (s *Store) referencePath(key workload.PackageKey, band workload.FeatureBand) string {
	return filepath.Join(s.recordDir(key), band.String())
}

// writeRecord stores the description of pack at path.
func (s *Store) writeRecord(path string, pack workload.PackInfo) error {
	data, err := yaml.Marshal(packReference{
		ID:                pack.ID.String(),
		Version:           pack.Version,
		Kind:              string(pack.Kind),
		ResolvedPackageID: pack.ResolvedPackageID,
	})
	if err != nil {
		return fmt.Errorf("encode pack record: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create record directory: %w", err)
	}

	if err = os.WriteFile(path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func readReference(path string) (workload.PackInfo, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return workload.PackInfo{}, fmt.Errorf("read pack reference: %w", err)
	}

	var ref packReference
	if err = yaml.Unmarshal(data, &ref); err != nil {
		return workload.PackInfo{}, fmt.Errorf("decode pack reference %s: %w", path, err)
	}

	return workload.PackInfo{
		ID:                workload.PackID(ref.ID),
		Version:           ref.Version,
		Kind:              workload.PackKind(ref.Kind),
		ResolvedPackageID: ref.ResolvedPackageID,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

// readBands parses the band-named files of dir.
func readBands(dir string) ([]workload.FeatureBand, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	bands := make([]workload.FeatureBand, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		band, err := workload.NewFeatureBand(entry.Name())
		if err != nil {
			continue
		}

		bands = append(bands, band)
	}

	sort.Slice(bands, func(i, j int) bool { return bands[i].Compare(bands[j]) < 0 })

	return bands, nil
}

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// removeEmptyParents removes empty directories from dir up to, not including, stop.
func removeEmptyParents(dir, stop string) {
	for dir != stop && len(dir) > len(stop) {
		if err := os.Remove(dir); err != nil {
			return
		}

		dir = filepath.Dir(dir)
	}
}
