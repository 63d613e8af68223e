// Package provision decides how hwloc reaches the build: from the system
// through pkg-config, or bundled from source, and emits the resulting
// build directives.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/goplus/hwlocsys/internal/build"
	"github.com/goplus/hwlocsys/internal/directive"
	"github.com/goplus/hwlocsys/internal/linkfix"
	"github.com/goplus/hwlocsys/internal/pkgconfig"
	"github.com/goplus/hwlocsys/internal/platform"
	"github.com/goplus/hwlocsys/internal/repo"
	"github.com/goplus/hwlocsys/internal/version"
)

const (
	// BundledVersion is the hwloc release the bundled flow guarantees.
	BundledVersion = "2.8.0"
	// LibraryName is the pkg-config package name of hwloc.
	LibraryName = "hwloc"
)

// Fetcher materialises the hwloc source tree.
type Fetcher interface {
	EnsureSource(ctx context.Context, parentDir, ref string) (repo.SourceTree, error)
}

// Installer compiles and installs a source tree.
type Installer interface {
	BuildAndInstall(ctx context.Context, tree repo.SourceTree) (build.Artifact, error)
}

// Options configures a Provisioner.
type Options struct {
	// Bundled selects the bundled flow instead of the system flow.
	Bundled bool
	Target  platform.OS
	OutDir  string
	// Version is the minimum hwloc version of the bundled flow; defaults to BundledVersion.
	Version string

	Fetcher Fetcher
	Builder Installer
	// PkgConfig holds the executable and runner for discovery. SearchPath,
	// Static and Range are filled in per flow.
	PkgConfig pkgconfig.Config
	Emitter   directive.Emitter
	Logger    *log.Logger
}

// Result describes what provisioning produced.
type Result struct {
	// Found is false only when the system flow found no hwloc.
	Found    bool
	Bundled  bool
	Library  *pkgconfig.Library
	Policy   *version.Policy
	Artifact *build.Artifact
}

// Provisioner runs exactly one of the two flows.
type Provisioner struct {
	opts Options
}

// New creates a Provisioner.
func New(opts Options) *Provisioner {
	if opts.Version == "" {
		opts.Version = BundledVersion
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Emitter == nil {
		opts.Emitter = &directive.Recorder{}
	}
	return &Provisioner{opts: opts}
}

// Run executes the selected flow.
func (p *Provisioner) Run(ctx context.Context) (*Result, error) {
	if p.opts.Bundled {
		return p.runBundled(ctx)
	}
	return p.runSystem(ctx)
}

// runSystem looks for an installed hwloc. Absence is not an error: the
// consumer decides what a missing library means.
func (p *Provisioner) runSystem(ctx context.Context) (*Result, error) {
	logger := p.opts.Logger
	cfg := p.pkgConfig()
	cfg.Static = platform.PreferStatic(p.opts.Target)

	lib, err := cfg.Probe(ctx, LibraryName)
	if err != nil {
		logger.Info("no system hwloc found", "err", err)
		return &Result{Found: false}, nil
	}
	logger.Info("using system hwloc", "version", lib.Version)
	if err := p.emit(lib); err != nil {
		return nil, err
	}
	return &Result{Found: true, Library: lib}, nil
}

// runBundled fetches, builds and links a known-good hwloc. Every failure is
// fatal; there is no fallback to the system copy.
func (p *Provisioner) runBundled(ctx context.Context) (*Result, error) {
	logger := p.opts.Logger
	if p.opts.Fetcher == nil || p.opts.Builder == nil {
		return nil, errors.New("bundled flow needs a fetcher and a builder")
	}

	policy, err := version.Resolve(p.opts.Version)
	if err != nil {
		return nil, err
	}
	logger.Debug("version policy", "requested", policy.Requested, "range", policy.Range, "ref", policy.SourceRef)

	tree, err := p.opts.Fetcher.EnsureSource(ctx, p.opts.OutDir, policy.SourceRef)
	if err != nil {
		return nil, err
	}
	art, err := p.opts.Builder.BuildAndInstall(ctx, tree)
	if err != nil {
		return nil, err
	}

	cfg := p.pkgConfig()
	cfg.SearchPath = art.PkgConfigPath
	cfg.Static = platform.PreferStatic(p.opts.Target)
	cfg.Range = &policy.Range
	lib, err := cfg.Probe(ctx, LibraryName)
	if err != nil {
		return nil, err
	}
	logger.Info("using bundled hwloc", "version", lib.Version, "prefix", art.Prefix, "cached", art.Cached)

	if err := p.emit(lib); err != nil {
		return nil, err
	}
	return &Result{Found: true, Bundled: true, Library: lib, Policy: &policy, Artifact: &art}, nil
}

func (p *Provisioner) pkgConfig() pkgconfig.Config {
	cfg := p.opts.PkgConfig
	if cfg.Logger == nil {
		cfg.Logger = p.opts.Logger
	}
	return cfg
}

// emit forwards the linkage metadata and the rpath fixups.
func (p *Provisioner) emit(lib *pkgconfig.Library) error {
	if err := directive.EmitAll(p.opts.Emitter, lib.Directives()); err != nil {
		return fmt.Errorf("failed to emit directives: %w", err)
	}
	return linkfix.Patch(lib.LinkPaths, p.opts.Target, p.opts.Emitter)
}
