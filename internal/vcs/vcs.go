// Copyright 2024 The llar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/goplus/hwlocsys/internal/command"
)

// VCS defines the version control operations needed to keep a source tree
// in sync with an upstream branch.
type VCS interface {
	// Clone makes a shallow (depth 1) clone of branch ref from remote into dir.
	// dir must not exist or be empty.
	Clone(ctx context.Context, remote, ref, dir string) error

	// Pull fast-forwards the working copy at dir to the tip of branch ref on
	// origin. A diverged working copy is an error, never a merge.
	Pull(ctx context.Context, ref, dir string) error

	// Head returns the commit hash checked out in dir.
	Head(ctx context.Context, dir string) (string, error)
}

// Kind names a VCS backend.
type Kind string

const (
	KindAuto  Kind = "auto"
	KindGit   Kind = "git"
	KindGoGit Kind = "go-git"
)

// New returns the backend for kind. KindAuto picks the git executable when it
// is on PATH and the in-process go-git implementation otherwise.
func New(kind Kind, runner command.Runner) (VCS, error) {
	switch kind {
	case KindGit:
		return NewGitVCS(WithRunner(runner)), nil
	case KindGoGit:
		return NewGoGitVCS(), nil
	case KindAuto, "":
		if _, err := exec.LookPath("git"); err == nil {
			return NewGitVCS(WithRunner(runner)), nil
		}
		return NewGoGitVCS(), nil
	default:
		return nil, fmt.Errorf("unknown vcs backend %q", kind)
	}
}

// gitVCS implements VCS using the git executable.
type gitVCS struct {
	git    string
	runner command.Runner
}

// GitOption configures gitVCS.
type GitOption func(*gitVCS)

// WithGitPath sets a custom git executable path.
func WithGitPath(path string) GitOption {
	return func(g *gitVCS) {
		g.git = path
	}
}

// WithRunner sets the runner used to spawn git.
func WithRunner(r command.Runner) GitOption {
	return func(g *gitVCS) {
		if r != nil {
			g.runner = r
		}
	}
}

// NewGitVCS creates a new git VCS instance.
func NewGitVCS(opts ...GitOption) VCS {
	g := &gitVCS{git: "git", runner: &command.Exec{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gitVCS) Clone(ctx context.Context, remote, ref, dir string) error {
	parent, name := filepath.Split(filepath.Clean(dir))
	if parent == "" {
		parent = "."
	}
	if err := g.run(ctx, parent, "clone", remote, "--depth", "1", "--branch", ref, name); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	return nil
}

func (g *gitVCS) Pull(ctx context.Context, ref, dir string) error {
	if err := g.run(ctx, dir, "pull", "--ff-only", "origin", ref); err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	return nil
}

func (g *gitVCS) Head(ctx context.Context, dir string) (string, error) {
	out, err := g.runner.Run(ctx, command.Cmd{Name: g.git, Args: []string{"rev-parse", "HEAD"}, Dir: dir})
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	hash := strings.TrimSpace(string(out))
	if hash == "" {
		return "", fmt.Errorf("no HEAD found in %s", dir)
	}
	return hash, nil
}

func (g *gitVCS) run(ctx context.Context, dir string, args ...string) error {
	_, err := g.runner.Run(ctx, command.Cmd{Name: g.git, Args: args, Dir: dir})
	return err
}
