package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

// Manifest file names looked up in a manifest directory, in order.
var manifestFilenames = []string{"WorkloadManifest.json", "WorkloadManifest.yaml"}

// Manifest is the decoded content of one workload manifest.
type Manifest struct {
	// Version is the manifest version as declared in the file.
	Version string `yaml:"version"`
	// Workloads maps workload identifiers to their definitions.
	Workloads map[string]WorkloadDefinition `yaml:"workloads"`
	// Packs maps pack identifiers to their definitions.
	Packs map[string]PackDefinition `yaml:"packs"`
}

// WorkloadDefinition declares a workload inside a manifest.
type WorkloadDefinition struct {
	Description string   `yaml:"description"`
	Abstract    bool     `yaml:"abstract"`
	Packs       []string `yaml:"packs"`
	Extends     []string `yaml:"extends"`
	Platforms   []string `yaml:"platforms"`
}

// PackDefinition declares a pack inside a manifest.
type PackDefinition struct {
	Kind    string            `yaml:"kind"`
	Version string            `yaml:"version"`
	AliasTo map[string]string `yaml:"alias-to"`
}

// ReadManifest decodes the manifest file found in dir.
func ReadManifest(dir string) (*Manifest, error) {
	for _, name := range manifestFilenames {
		contents, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("read manifest: %w", err)
		}

		return ParseManifest(contents)
	}

	return nil, fmt.Errorf("no manifest file in %s: %w", dir, os.ErrNotExist)
}

// ParseManifest decodes manifest contents written as JSON or YAML.
func ParseManifest(contents []byte) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(contents, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	return &manifest, nil
}

// CurrentRID returns the runtime identifier of the running platform, e.g. "linux-x64".
func CurrentRID() string {
	goos := runtime.GOOS

	switch goos {
	case "darwin":
		goos = "osx"
	case "windows":
		goos = "win"
	}

	arch := runtime.GOARCH

	switch arch {
	case "amd64":
		arch = "x64"
	case "386":
		arch = "x86"
	}

	return goos + "-" + arch
}

// packKind maps a manifest kind to a PackKind.
func packKind(kind string) workload.PackKind {
	switch kind {
	case "library", "Library":
		return workload.PackKindLibrary
	case "template", "Template":
		return workload.PackKindTemplate
	case "framework", "Framework":
		return workload.PackKindFramework
	default:
		return workload.PackKindSDK
	}
}
