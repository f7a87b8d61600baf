package workload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Error taxonomy shared across the engine. Typed errors below unwrap to
// these sentinels so callers can classify failures with errors.Is.
var (
	// ErrInvalidVersionFormat is returned for versions outside the accepted grammar.
	ErrInvalidVersionFormat = errors.New("invalid version format")
	// ErrInvalidRollbackDefinition is returned for unusable rollback files.
	ErrInvalidRollbackDefinition = errors.New("invalid rollback definition")
	// ErrWorkloadNotFound is returned when no installed manifest defines a workload.
	ErrWorkloadNotFound = errors.New("workload not found")
	// ErrUnsupportedOnPlatform is returned when a workload excludes the current platform.
	ErrUnsupportedOnPlatform = errors.New("workload is not supported on this platform")
	// ErrPackInstallFailure is returned when pack or manifest content cannot be installed.
	ErrPackInstallFailure = errors.New("pack install failed")
	// ErrRollbackFailure marks failures of compensating actions.
	ErrRollbackFailure = errors.New("rollback failed")
	// ErrGarbageCollectionFailure is returned when garbage collection could not finish.
	ErrGarbageCollectionFailure = errors.New("garbage collection failed")
)

// InvalidVersionError is returned when a version string does not match the
// MAJOR.MINOR.PATCH[.REVISION][-PRERELEASE] grammar.
type InvalidVersionError struct {
	Value string
}

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q", e.Value)
}

// Unwrap returns ErrInvalidVersionFormat for errors.Is compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersionFormat }

// PackInstallError describes a failed content install for one package.
type PackInstallError struct {
	// PackageID is the resolved package identifier.
	PackageID string
	// Version is the package version.
	Version string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *PackInstallError) Error() string {
	return fmt.Sprintf("install %s %s: %v", e.PackageID, e.Version, e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *PackInstallError) Unwrap() []error {
	return []error{ErrPackInstallFailure, e.Err}
}

// RollbackError attaches compensation failures to the error that triggered
// the rollback. errors.Is matches both the original cause and ErrRollbackFailure.
type RollbackError struct {
	// Cause is the forward error that triggered the rollback.
	Cause error
	// Failures collects every compensation that failed while unwinding.
	Failures *multierror.Error
}

// Error implements the error interface.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("%v (%v: %s)", e.Cause, ErrRollbackFailure, FormatErrors(e.Failures.WrappedErrors()))
}

// Unwrap returns the original cause first, then the rollback sentinel.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Cause, ErrRollbackFailure}
}

// FormatErrorOrNil applies the project error format to a multierror.
func FormatErrorOrNil(err *multierror.Error) error {
	if err != nil {
		err.ErrorFormat = FormatErrors
	}

	return err.ErrorOrNil()
}

// FormatErrors renders a list of errors on one line per error.
func FormatErrors(es []error) string {
	if len(es) == 1 {
		return fmt.Sprintf("1 error occurred: %s", es[0])
	}

	points := make([]string, len(es))
	for i, err := range es {
		points[i] = fmt.Sprintf("* %s", err)
	}

	return fmt.Sprintf("%d errors occurred:\n\t%s", len(es), strings.Join(points, "\n\t"))
}
