package packs

import (
	"archive/zip"
	"bytes"
	"crypto"
	_ "crypto/sha512" // Registers SHA-512 for content checksums.
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/dotnet/sdk-sub044/internal/config"
)

// ChecksumFunction verifies every content write.
const ChecksumFunction crypto.Hash = crypto.SHA512

// contentFileMode is the mode of extracted files.
const contentFileMode os.FileMode = 0o644

var (
	// errUnsafeEntry is returned for archive entries escaping the destination.
	errUnsafeEntry = errors.New("archive entry escapes destination")
	// errHashUnavailable is returned when the checksum function is not linked in.
	errHashUnavailable = errors.New("checksum function unavailable")
)

// packageMetadata lists archive entries that describe the package rather than its content.
var packageMetadata = []string{"_rels/", "package/", "[Content_Types].xml"}

// Checksum returns the content checksum of data.
func Checksum(data []byte) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, errHashUnavailable
	}

	hasher := ChecksumFunction.New()
	if _, err := hasher.Write(data); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// WriteFile atomically replaces target with data, verifying the written bytes.
func WriteFile(target string, data []byte) error {
	checksum, err := Checksum(data)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(target), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create directory for %s: %w", target, err)
	}

	if _, err = os.Stat(target); err != nil && os.IsNotExist(err) {
		file, err := os.Create(target)
		if err != nil {
			return err
		}

		_ = file.Close()
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: contentFileMode,
		Checksum:   checksum,
		Hash:       ChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply %s: %w", target, err)
	}

	oldFileName := target + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}

// CopyFile writes the contents of source to target.
func CopyFile(source, target string) error {
	data, err := os.ReadFile(filepath.Clean(source))
	if err != nil {
		return fmt.Errorf("read %s: %w", source, err)
	}

	return WriteFile(target, data)
}

// Extract unpacks the package archive at packagePath into dest.
func Extract(packagePath, dest string) error {
	reader, err := zip.OpenReader(filepath.Clean(packagePath))
	if err != nil {
		return fmt.Errorf("open package %s: %w", packagePath, err)
	}
	defer reader.Close()

	dest = filepath.Clean(dest)
	if err = os.MkdirAll(dest, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	for _, entry := range reader.File {
		if isPackageMetadata(entry.Name) {
			continue
		}

		target := filepath.Join(dest, filepath.FromSlash(entry.Name))
		if !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
			return fmt.Errorf("%s: %w", entry.Name, errUnsafeEntry)
		}

		if entry.FileInfo().IsDir() {
			if err = os.MkdirAll(target, config.DefaultDirPermissions); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}

			continue
		}

		if err = extractEntry(entry, target); err != nil {
			return err
		}
	}

	return nil
}

func extractEntry(entry *zip.File, target string) error {
	source, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer source.Close()

	data, err := io.ReadAll(source)
	if err != nil {
		return fmt.Errorf("read %s: %w", entry.Name, err)
	}

	return WriteFile(target, data)
}

func isPackageMetadata(name string) bool {
	for _, prefix := range packageMetadata {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}
