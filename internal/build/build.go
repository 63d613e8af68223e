// Package build compiles and installs a hwloc source tree with the backend
// that fits the target platform.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/goplus/hwlocsys/internal/command"
	"github.com/goplus/hwlocsys/internal/platform"
	"github.com/goplus/hwlocsys/internal/repo"
	"github.com/goplus/hwlocsys/pkgs/buildsys"
	"github.com/goplus/hwlocsys/pkgs/buildsys/autotools"
)

// PkgConfigPathVar is the search path variable of pkg-config.
const PkgConfigPathVar = "PKG_CONFIG_PATH"

// ErrUnsupportedPlatform is returned for targets without a build backend.
var ErrUnsupportedPlatform = errors.New("unsupported platform for bundled hwloc")

// disabledFeatures are hwloc components the bindings never use. Turning them
// off keeps the build short and free of GPU, graphics and vendor libraries.
var disabledFeatures = []string{
	"cuda",
	"cairo",
	"picky",
	"rsmi",
	"nvml",
	"gl",
	"readme",
}

// BuildError reports a failed toolchain step.
type BuildError struct {
	Step   buildsys.Step
	Output []byte
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("hwloc %s step failed: %v", e.Step, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// EnvError reports an environment variable that could not be inspected.
type EnvError struct {
	Var string
	Err error
}

func (e *EnvError) Error() string {
	return fmt.Sprintf("failed to check %s: %v", e.Var, e.Err)
}

func (e *EnvError) Unwrap() error { return e.Err }

// Artifact is an installed hwloc.
type Artifact struct {
	Prefix string
	// PkgConfigPath is the search path that finds Prefix first.
	PkgConfigPath string
	LinkMode      platform.LinkMode
	// Cached is true when the install was reused without rebuilding.
	Cached bool
}

// Options configures a Builder.
type Options struct {
	Target platform.OS
	// OutDir is both the install prefix and the parent of the build directory.
	OutDir string
	Runner command.Runner
	// Jobs is the make parallelism; 0 uses one job per CPU.
	Jobs int
	// Head reports the commit of a source tree; nil disables install reuse.
	Head   func(ctx context.Context, tree repo.SourceTree) (string, error)
	Logger *log.Logger
	// LookupEnv reads the pre-existing pkg-config search path. Defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

// Builder turns source trees into Artifacts.
type Builder struct {
	opts Options
}

// New creates a Builder.
func New(opts Options) *Builder {
	if opts.Runner == nil {
		opts.Runner = &command.Exec{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	return &Builder{opts: opts}
}

// Backend returns the configured build system for the target, or
// ErrUnsupportedPlatform when there is none.
func Backend(target platform.OS, runner command.Runner, sourceDir, outDir string) (buildsys.BuildSystem, error) {
	switch {
	case target == platform.Windows:
		// The autotools procedure does not work with MSVC, and no CMake
		// integration exists yet.
		return nil, fmt.Errorf("%w: %s (autotools does not support MSVC)", ErrUnsupportedPlatform, target)
	case target.IsUnix():
		return hwlocAutotools(target, runner, sourceDir, outDir), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, target)
	}
}

func hwlocAutotools(target platform.OS, runner command.Runner, sourceDir, outDir string) *autotools.AutoTools {
	at := autotools.New(runner, sourceDir, filepath.Join(outDir, "build"))
	at.InstallDir(outDir)
	at.ConfigOption("config-cache", "")
	for _, f := range disabledFeatures {
		at.Disable(f)
	}
	mode := platform.LinkModeFor(target)
	return at.LinkMode(mode.Static, mode.Shared).FastBuild(true).Reconf("-ivf")
}

// BuildAndInstall compiles tree and installs it into the output directory.
func (b *Builder) BuildAndInstall(ctx context.Context, tree repo.SourceTree) (Artifact, error) {
	target := b.opts.Target
	outDir := b.opts.OutDir
	logger := b.opts.Logger

	bs, err := Backend(target, b.opts.Runner, tree.Dir, outDir)
	if err != nil {
		return Artifact{}, err
	}
	mode := platform.LinkModeFor(target)
	art := Artifact{Prefix: bs.OutputDir(), LinkMode: mode}

	want := &buildRecord{Ref: tree.Ref, LinkMode: mode.String()}
	if at, ok := bs.(*autotools.AutoTools); ok {
		if b.opts.Jobs > 0 {
			at.Jobs(b.opts.Jobs)
		}
		want.ConfigureArgs = at.Args()
	}
	if b.opts.Head != nil {
		if commit, err := b.opts.Head(ctx, tree); err == nil {
			want.Commit = commit
		} else {
			logger.Warn("cannot determine hwloc commit, rebuilding", "err", err)
		}
	}

	recordPath := filepath.Join(art.Prefix, recordFile)
	if prev, err := loadRecord(recordPath); err == nil && want.sameInputs(prev) && hasPkgConfig(art.Prefix) {
		logger.Info("reusing hwloc install", "prefix", art.Prefix, "commit", prev.Commit, "built", prev.BuildTime.Format(time.RFC3339))
		art.Cached = true
	} else {
		logger.Info("building hwloc", "target", target, "link", mode, "prefix", art.Prefix)
		if err := runLifecycle(ctx, bs); err != nil {
			return Artifact{}, err
		}
		want.BuildTime = time.Now()
		if err := saveRecord(recordPath, want); err != nil {
			logger.Warn("cannot write build record", "path", recordPath, "err", err)
		}
	}

	art.PkgConfigPath, err = SearchPath(art.Prefix, b.opts.LookupEnv)
	if err != nil {
		return Artifact{}, err
	}
	return art, nil
}

func runLifecycle(ctx context.Context, bs buildsys.BuildSystem) error {
	steps := []struct {
		step buildsys.Step
		fn   func(context.Context, ...string) error
	}{
		{buildsys.StepConfigure, bs.Configure},
		{buildsys.StepBuild, bs.Build},
		{buildsys.StepInstall, bs.Install},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return newBuildError(s.step, err)
		}
	}
	return nil
}

func newBuildError(step buildsys.Step, err error) *BuildError {
	be := &BuildError{Step: step, Err: err}
	var stepErr *buildsys.StepError
	if errors.As(err, &stepErr) {
		be.Step = stepErr.Step
	}
	var exitErr *command.ExitError
	if errors.As(err, &exitErr) {
		be.Output = exitErr.Output
	}
	return be
}

// PkgConfigDirs returns the pkg-config directories an install prefix may hold,
// covering both lib and lib64 layouts.
func PkgConfigDirs(prefix string) []string {
	return []string{
		filepath.Join(prefix, "lib", "pkgconfig"),
		filepath.Join(prefix, "lib64", "pkgconfig"),
	}
}

// SearchPath prepends the pkg-config directories of prefix to the existing
// PKG_CONFIG_PATH reported by lookup. An absent or empty value is replaced.
func SearchPath(prefix string, lookup func(string) (string, bool)) (string, error) {
	sep := string(filepath.ListSeparator)
	fresh := strings.Join(PkgConfigDirs(prefix), sep)

	old, ok := lookup(PkgConfigPathVar)
	if !ok || old == "" {
		return fresh, nil
	}
	if !utf8.ValidString(old) {
		return "", &EnvError{Var: PkgConfigPathVar, Err: errors.New("value is not valid UTF-8")}
	}
	return fresh + sep + old, nil
}

func hasPkgConfig(prefix string) bool {
	for _, dir := range PkgConfigDirs(prefix) {
		if _, err := os.Stat(filepath.Join(dir, "hwloc.pc")); err == nil {
			return true
		}
	}
	return false
}
