package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
)

// Store is the durable set of installation records of one install context.
//
// Write and Delete are idempotent: writing an existing record or deleting a
// missing one succeeds without changing anything.
type Store interface {
	Write(ctx context.Context, id workload.WorkloadID, band workload.FeatureBand) error
	Delete(ctx context.Context, id workload.WorkloadID, band workload.FeatureBand) error
	List(ctx context.Context, band workload.FeatureBand) ([]workload.WorkloadID, error)
	ListBands(ctx context.Context) ([]workload.FeatureBand, error)
	Context() workload.InstallContext
	Close() error
}

// errUnknownBackend is returned by Open for unsupported backends.
var errUnknownBackend = errors.New("unknown record store backend")

// ErrInvalidWorkloadID is returned by Write and Delete for identifiers that
// cannot name a record, such as ones containing path separators.
var ErrInvalidWorkloadID = errors.New("invalid workload id")

// sqliteFilename is the database name under the metadata directory.
const sqliteFilename = "workload-records.db"

// Open creates the record store configured in settings for its install context.
func Open(settings *config.Config) (Store, error) {
	var (
		installContext = settings.InstallContext()
		root           = settings.WorkloadRoot()
	)

	switch settings.RecordStore {
	case config.RecordStoreFile, "":
		return NewFileStore(root, installContext), nil
	case config.RecordStoreSQLite:
		return NewSQLiteStore(config.MetadataPath(root, sqliteFilename), installContext)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownBackend, settings.RecordStore)
	}
}

// Has reports whether a record exists.
func Has(ctx context.Context, store Store, id workload.WorkloadID, band workload.FeatureBand) (bool, error) {
	ids, err := store.List(ctx, band)
	if err != nil {
		return false, err
	}

	for _, existing := range ids {
		if existing == id {
			return true, nil
		}
	}

	return false, nil
}

// validateID rejects identifiers that could not name a file in a band directory.
func validateID(id workload.WorkloadID) error {
	raw := id.String()

	if raw == "" || raw == "." || strings.Contains(raw, "..") || strings.ContainsAny(raw, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidWorkloadID, raw)
	}

	return nil
}

func sortIDs(ids []workload.WorkloadID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortBands(bands []workload.FeatureBand) {
	sort.Slice(bands, func(i, j int) bool { return bands[i].Compare(bands[j]) < 0 })
}
