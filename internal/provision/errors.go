package provision

import (
	"errors"

	"github.com/goplus/hwlocsys/internal/build"
	"github.com/goplus/hwlocsys/internal/command"
	"github.com/goplus/hwlocsys/internal/linkfix"
	"github.com/goplus/hwlocsys/internal/pkgconfig"
	"github.com/goplus/hwlocsys/internal/repo"
	"github.com/goplus/hwlocsys/internal/version"
)

// Kind is the failure class of a provisioning error.
type Kind string

const (
	KindNone                Kind = ""
	KindUnsupportedVersion  Kind = "UnsupportedVersion"
	KindFetchFailure        Kind = "FetchFailure"
	KindUnsupportedPlatform Kind = "UnsupportedPlatform"
	KindBuildFailure        Kind = "BuildFailure"
	KindDiscoveryFailure    Kind = "DiscoveryFailure"
	KindEncodingFailure     Kind = "EncodingFailure"
	KindEnvironmentFailure  Kind = "EnvironmentFailure"
	KindInternal            Kind = "Internal"
)

// Classify maps err to its Kind.
func Classify(err error) Kind {
	var (
		fetchErr *repo.FetchError
		buildErr *build.BuildError
		envErr   *build.EnvError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, version.ErrUnsupportedVersion), errors.Is(err, version.ErrInvalidVersion):
		return KindUnsupportedVersion
	case errors.As(err, &fetchErr):
		return KindFetchFailure
	case errors.Is(err, build.ErrUnsupportedPlatform):
		return KindUnsupportedPlatform
	case errors.As(err, &buildErr):
		return KindBuildFailure
	case errors.As(err, &envErr):
		return KindEnvironmentFailure
	case errors.Is(err, pkgconfig.ErrNotFound):
		return KindDiscoveryFailure
	case errors.Is(err, linkfix.ErrEncoding):
		return KindEncodingFailure
	default:
		return KindInternal
	}
}

// Output returns the captured output of the subprocess behind err, if any.
func Output(err error) []byte {
	var (
		fetchErr *repo.FetchError
		buildErr *build.BuildError
		exitErr  *command.ExitError
	)
	if errors.As(err, &fetchErr) && len(fetchErr.Output) > 0 {
		return fetchErr.Output
	}
	if errors.As(err, &buildErr) && len(buildErr.Output) > 0 {
		return buildErr.Output
	}
	if errors.As(err, &exitErr) {
		return exitErr.Output
	}
	return nil
}
