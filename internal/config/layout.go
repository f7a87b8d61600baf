package config

import "path/filepath"

// Directory names of the workload root layout.
const (
	metadataDir       = "metadata"
	workloadsDir      = "workloads"
	packsDir          = "packs"
	manifestsDir      = "sdk-manifests"
	librarySubdir     = "library-packs"
	templateSubdir    = "template-packs"
	installedPacksDir = "InstalledPacks"
	referencesDir     = "v1"
)

// MetadataPath joins elem under metadata/workloads of root.
func MetadataPath(root string, elem ...string) string {
	return filepath.Join(append([]string{root, metadataDir, workloadsDir}, elem...)...)
}

// PacksPath returns the directory holding pack content.
func PacksPath(root string) string {
	return filepath.Join(root, packsDir)
}

// SingleFilePacksPath returns the directory holding library or template packs.
func SingleFilePacksPath(root string, template bool) string {
	if template {
		return filepath.Join(root, templateSubdir)
	}

	return filepath.Join(root, librarySubdir)
}

// PackReferencesPath returns the directory of per-band pack references.
func PackReferencesPath(root string) string {
	return MetadataPath(root, installedPacksDir, referencesDir)
}

// ManifestsPath returns the directory holding installed manifests.
func ManifestsPath(root string) string {
	return filepath.Join(root, manifestsDir)
}
