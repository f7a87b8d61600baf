package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/dotnet/sdk-sub044/internal/config"
	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/domain/workloadset"
)

// InstallState is what a feature band has pinned: the workload set version
// and the manifest versions in effect.
type InstallState struct {
	// WorkloadSetVersion is the installed workload set, empty when manifests are pinned individually.
	WorkloadSetVersion string
	// Manifests maps each pinned manifest to its version and band.
	Manifests map[workload.ManifestID]workloadset.ManifestPin
	// UpdatedAt is when the state was last saved.
	UpdatedAt time.Time
}

// Clone returns a deep copy of the state.
func (s *InstallState) Clone() *InstallState {
	if s == nil {
		return nil
	}

	clone := &InstallState{
		WorkloadSetVersion: s.WorkloadSetVersion,
		Manifests:          make(map[workload.ManifestID]workloadset.ManifestPin, len(s.Manifests)),
		UpdatedAt:          s.UpdatedAt,
	}

	for id, pin := range s.Manifests {
		clone.Manifests[id] = pin
	}

	return clone
}

// ManifestIDs returns the pinned manifests in ascending order.
func (s *InstallState) ManifestIDs() []workload.ManifestID {
	ids := make([]workload.ManifestID, 0, len(s.Manifests))
	for id := range s.Manifests {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Repository defines persistence operations for per-band install state.
type Repository interface {
	Load(ctx context.Context, band workload.FeatureBand) (*InstallState, error)
	Save(ctx context.Context, band workload.FeatureBand, state *InstallState) error
	Delete(ctx context.Context, band workload.FeatureBand) error
}

// FileRepository persists install state as protobuf JSON of a structpb.Struct,
// one file per feature band.
type FileRepository struct {
	// root is the workload root of the install context.
	root string
	// mu protects concurrent access to the state files.
	mu sync.Mutex
}

// ErrNotFound is returned when a band has no state file yet.
var ErrNotFound = errors.New("state not found")

const (
	installStateDir  = "InstallState"
	installStateFile = "default.json"

	fieldWorkloadSetVersion = "workloadSetVersion"
	fieldManifests          = "manifests"
	fieldUpdatedAt          = "updatedAt"
)

// NewFileRepository creates a repository storing state under root.
func NewFileRepository(root string) *FileRepository {
	return &FileRepository{
		root: filepath.Clean(root),
	}
}

// Path returns the state file location for band.
func (r *FileRepository) Path(band workload.FeatureBand) string {
	return config.MetadataPath(r.root, band.String(), installStateDir, installStateFile)
}

// Load reads the state of band from disk.
func (r *FileRepository) Load(_ context.Context, band workload.FeatureBand) (*InstallState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.Path(band))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var protoState structpb.Struct
	if err = protojson.Unmarshal(contents, &protoState); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return fromProto(&protoState, band)
}

// Save writes the state of band to disk.
func (r *FileRepository) Save(_ context.Context, band workload.FeatureBand, state *InstallState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	protoState, err := toProto(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(protoState)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	path := r.Path(band)
	if err = os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if err = os.WriteFile(path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// Delete removes the state file of band.
func (r *FileRepository) Delete(_ context.Context, band workload.FeatureBand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.Path(band)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete state file: %w", err)
	}

	return nil
}

// LoadOrEmpty returns the stored state or an empty one when none exists.
func LoadOrEmpty(ctx context.Context, repo Repository, band workload.FeatureBand) (*InstallState, error) {
	current, err := repo.Load(ctx, band)
	if errors.Is(err, ErrNotFound) {
		return &InstallState{Manifests: map[workload.ManifestID]workloadset.ManifestPin{}}, nil
	}

	return current, err
}

// fromProto converts the stored structpb.Struct into InstallState.
func fromProto(protoState *structpb.Struct, band workload.FeatureBand) (*InstallState, error) {
	fields := protoState.GetFields()

	state := &InstallState{
		WorkloadSetVersion: fields[fieldWorkloadSetVersion].GetStringValue(),
		Manifests:          make(map[workload.ManifestID]workloadset.ManifestPin),
	}

	for id, value := range fields[fieldManifests].GetStructValue().GetFields() {
		pin, err := workloadset.ParseManifestPin(value.GetStringValue(), band)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", id, err)
		}

		state.Manifests[workload.ManifestID(id)] = pin
	}

	if raw := fields[fieldUpdatedAt].GetStringValue(); raw != "" {
		var timestamp timestamppb.Timestamp
		if err := protojson.Unmarshal([]byte(strconv.Quote(raw)), &timestamp); err != nil {
			return nil, fmt.Errorf("decode timestamp: %w", err)
		}

		state.UpdatedAt = timestamp.AsTime()
	}

	return state, nil
}

// toProto converts InstallState into a structpb.Struct.
func toProto(state *InstallState) (*structpb.Struct, error) {
	manifests := make(map[string]any, len(state.Manifests))
	for id, pin := range state.Manifests {
		manifests[string(id)] = pin.String()
	}

	updatedAt := ""
	if !state.UpdatedAt.IsZero() {
		encoded, err := protojson.Marshal(timestamppb.New(state.UpdatedAt))
		if err != nil {
			return nil, err
		}

		updatedAt, err = strconv.Unquote(string(encoded))
		if err != nil {
			return nil, err
		}
	}

	return structpb.NewStruct(map[string]any{
		fieldWorkloadSetVersion: state.WorkloadSetVersion,
		fieldManifests:          manifests,
		fieldUpdatedAt:          updatedAt,
	})
}
