package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dotnet/sdk-sub044/internal/domain/workload"
	"github.com/dotnet/sdk-sub044/internal/logger"
	"github.com/dotnet/sdk-sub044/internal/repository/state"
)

// ListOptions are inputs of the list command.
type ListOptions struct {
	GlobalOptions

	// Output receives the table; os.Stdout is used when nil.
	Output io.Writer
}

// ListedWorkload is one row of the list command.
type ListedWorkload struct {
	ID workload.WorkloadID
	// Manifest is the manifest defining the workload, zero when it no longer resolves.
	Manifest workload.InstalledManifest
}

// Listing is what the list command shows.
type Listing struct {
	Workloads          []ListedWorkload
	WorkloadSetVersion string
}

// List prints the installed workloads of the band together with the manifest
// version each comes from. It only reads, so the operation marker is not taken.
func List(ctx context.Context, opts *ListOptions) (*Listing, error) {
	ctx = logger.WithName(ctx, "workload-list")

	if opts == nil {
		return nil, errOptionsRequired
	}

	s, err := openSession(ctx, &opts.GlobalOptions, false)
	if err != nil {
		return nil, err
	}

	defer s.close(ctx)

	ids, err := s.engine.Records.List(ctx, s.band)
	if err != nil {
		return nil, err
	}

	workloads, err := s.engine.WorkloadResolver(ctx, s.band)
	if err != nil {
		return nil, err
	}

	current, err := state.LoadOrEmpty(ctx, s.engine.States, s.band)
	if err != nil {
		return nil, err
	}

	manifests := make(map[workload.ManifestID]workload.InstalledManifest)
	for _, manifest := range workloads.InstalledManifests() {
		manifests[manifest.ID.Normalized()] = manifest
	}

	listing := &Listing{
		Workloads:          make([]ListedWorkload, 0, len(ids)),
		WorkloadSetVersion: current.WorkloadSetVersion,
	}

	for _, id := range ids {
		row := ListedWorkload{ID: id}

		if manifestID, ok := workloads.ManifestOf(id); ok {
			row.Manifest = manifests[manifestID.Normalized()]
		} else {
			logger.WarnKV(ctx, "Installed workload is not defined by any manifest", "workload", id)
		}

		listing.Workloads = append(listing.Workloads, row)
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	if err = writeListing(output, s.band, listing); err != nil {
		return nil, err
	}

	return listing, nil
}

func writeListing(output io.Writer, band workload.FeatureBand, listing *Listing) error {
	tw := tabwriter.NewWriter(output, 0, 4, 2, ' ', 0)

	if listing.WorkloadSetVersion != "" {
		_, _ = fmt.Fprintf(tw, "Workload version: %s\n\n", listing.WorkloadSetVersion)
	}

	if len(listing.Workloads) == 0 {
		_, _ = fmt.Fprintf(tw, "No workloads are installed for feature band %s.\n", band)
		return tw.Flush()
	}

	_, _ = fmt.Fprintln(tw, strings.Join([]string{"Installed Workload Id", "Manifest Version", "Installation Source"}, "\t"))

	for _, row := range listing.Workloads {
		_, _ = fmt.Fprintf(tw, "%s\t%s\tSDK %s\n", row.ID, manifestColumn(row.Manifest), band)
	}

	return tw.Flush()
}

func manifestColumn(manifest workload.InstalledManifest) string {
	if manifest.Version.IsZero() {
		return "-"
	}

	return fmt.Sprintf("%s/%s", manifest.Version, manifest.FeatureBand)
}
