// Package testutil builds package archives and manifest fixtures for tests.
package testutil

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// WritePackage writes a zip package at path containing files.
func WritePackage(t *testing.T, path string, files map[string]string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	file, err := os.Create(path)
	require.NoError(t, err)

	writer := zip.NewWriter(file)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		entry, err := writer.Create(name)
		require.NoError(t, err)

		_, err = entry.Write([]byte(files[name]))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())

	return path
}

// PackageBytes returns the bytes of a zip package containing files.
func PackageBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	path := WritePackage(t, filepath.Join(t.TempDir(), "package.nupkg"), files)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}
