// Package repo keeps a working copy of the hwloc sources in the build output
// directory, cloning it once and fast-forwarding it afterwards.
package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/goplus/hwlocsys/internal/command"
	"github.com/goplus/hwlocsys/internal/vcs"
)

const (
	// DefaultRemote is the upstream hwloc repository.
	DefaultRemote = "https://github.com/open-mpi/hwloc"
	// DefaultName is the directory the working copy lives in.
	DefaultName = "hwloc"
	// Marker is the file whose presence means the tree was cloned.
	Marker = "Makefile.am"
)

// SourceTree is a checked-out copy of the hwloc sources.
type SourceTree struct {
	Dir string
	Ref string
	// Cloned is true when this invocation created the tree.
	Cloned bool
}

// FetchError reports a failed clone or update.
type FetchError struct {
	Op     string // "clone" or "pull"
	Dir    string
	Ref    string
	Output []byte
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("git %s of hwloc %s in %s failed: %v", e.Op, e.Ref, e.Dir, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher materialises SourceTrees.
type Fetcher struct {
	vcs    vcs.VCS
	remote string
	name   string
	logger *log.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRemote overrides the upstream URL.
func WithRemote(remote string) Option {
	return func(f *Fetcher) { f.remote = remote }
}

// WithLogger sets the logger used for progress messages.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New returns a Fetcher that uses v for source control operations.
func New(v vcs.VCS, opts ...Option) *Fetcher {
	f := &Fetcher{
		vcs:    v,
		remote: DefaultRemote,
		name:   DefaultName,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.New(io.Discard)
	}
	return f
}

// EnsureSource makes parentDir/hwloc a working copy of ref.
//
// A tree holding the marker file is fast-forwarded. Anything else at that
// location is a leftover from an interrupted clone and is replaced by a
// fresh shallow clone.
func (f *Fetcher) EnsureSource(ctx context.Context, parentDir, ref string) (SourceTree, error) {
	dir := filepath.Join(parentDir, f.name)
	tree := SourceTree{Dir: dir, Ref: ref}

	if HasMarker(dir) {
		f.logger.Info("updating hwloc sources", "dir", dir, "ref", ref)
		if err := f.vcs.Pull(ctx, ref, dir); err != nil {
			return tree, newFetchError("pull", dir, ref, err)
		}
		return tree, nil
	}

	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return tree, fmt.Errorf("failed to create %s: %w", parentDir, err)
	}
	if _, err := os.Stat(dir); err == nil {
		f.logger.Warn("removing incomplete hwloc checkout", "dir", dir)
		if err := os.RemoveAll(dir); err != nil {
			return tree, fmt.Errorf("failed to remove incomplete checkout %s: %w", dir, err)
		}
	}

	f.logger.Info("cloning hwloc sources", "remote", f.remote, "ref", ref, "dir", dir)
	if err := f.vcs.Clone(ctx, f.remote, ref, dir); err != nil {
		return tree, newFetchError("clone", dir, ref, err)
	}
	tree.Cloned = true
	return tree, nil
}

// Head returns the commit the tree is at.
func (f *Fetcher) Head(ctx context.Context, tree SourceTree) (string, error) {
	return f.vcs.Head(ctx, tree.Dir)
}

// HasMarker reports whether dir looks like a completed clone.
func HasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, Marker))
	return err == nil
}

func newFetchError(op, dir, ref string, err error) *FetchError {
	fe := &FetchError{Op: op, Dir: dir, Ref: ref, Err: err}
	var exitErr *command.ExitError
	if errors.As(err, &exitErr) {
		fe.Output = exitErr.Output
	}
	return fe
}
