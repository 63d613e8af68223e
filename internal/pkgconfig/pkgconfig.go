// Package pkgconfig locates libraries through the pkg-config metadata
// protocol and turns the answer into build directives.
package pkgconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/shell"

	"github.com/goplus/hwlocsys/internal/command"
	"github.com/goplus/hwlocsys/internal/directive"
	"github.com/goplus/hwlocsys/internal/version"
)

const (
	// ExeVar overrides the pkg-config executable.
	ExeVar = "PKG_CONFIG"
	// PathVar is the pkg-config search path variable.
	PathVar = "PKG_CONFIG_PATH"
)

// ErrNotFound is returned when no suitable library is known to pkg-config.
var ErrNotFound = errors.New("could not find a suitable version of the library")

// Library is the linkage metadata pkg-config reported.
type Library struct {
	Name    string
	Version string
	Static  bool

	IncludePaths   []string
	Defines        []string
	CFlags         []string // other compile flags
	LinkPaths      []string
	Libs           []string
	FrameworkPaths []string
	Frameworks     []string
	LdArgs         []string // other link flags
}

// Config describes one pkg-config query.
type Config struct {
	// Exe is the pkg-config executable; empty means "pkg-config".
	Exe string
	// SearchPath, when non-empty, is passed as PKG_CONFIG_PATH to the tool.
	SearchPath string
	// Static requests the flags for static linkage.
	Static bool
	// Range restricts acceptable versions; nil accepts any version.
	Range *version.Range

	Runner command.Runner
	Logger *log.Logger
}

// Probe queries pkg-config for name.
func (c *Config) Probe(ctx context.Context, name string) (*Library, error) {
	logger := c.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	query := c.query(name)
	out, err := c.run(ctx, append([]string{"--modversion"}, query...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNotFound, name, c.describe(), err)
	}
	lib := &Library{Name: name, Static: c.Static, Version: firstLine(out)}

	if c.Range != nil {
		if err := checkRange(lib.Version, *c.Range); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrNotFound, name, c.describe(), err)
		}
	}

	cflags, err := c.run(ctx, c.flagArgs("--cflags", name)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s --cflags: %w", ErrNotFound, name, err)
	}
	libs, err := c.run(ctx, c.flagArgs("--libs", name)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s --libs: %w", ErrNotFound, name, err)
	}
	if err := lib.parse(cflags, libs); err != nil {
		return nil, err
	}
	logger.Debug("pkg-config answered", "name", name, "version", lib.Version, "static", c.Static,
		"link_paths", lib.LinkPaths, "libs", lib.Libs)
	return lib, nil
}

func (c *Config) query(name string) []string {
	if c.Range == nil {
		return []string{name}
	}
	return []string{
		name + " >= " + c.Range.Min,
		name + " < " + c.Range.Max,
	}
}

func (c *Config) flagArgs(flag, name string) []string {
	args := []string{flag}
	if c.Static {
		args = append(args, "--static")
	}
	return append(args, name)
}

func (c *Config) describe() string {
	if c.Range == nil {
		return "(any version)"
	}
	return "in range " + c.Range.String()
}

func (c *Config) run(ctx context.Context, args ...string) (string, error) {
	runner := c.Runner
	if runner == nil {
		runner = &command.Exec{}
	}
	exe := c.Exe
	if exe == "" {
		exe = "pkg-config"
	}
	cmd := command.Cmd{Name: exe, Args: args}
	if c.SearchPath != "" {
		cmd.Env = map[string]string{PathVar: c.SearchPath}
	}
	out, err := runner.Run(ctx, cmd)
	return string(out), err
}

func checkRange(v string, r version.Range) error {
	sv, err := semver.NewVersion(v)
	if err != nil {
		// pkg-config already applied the range; accept versions semver cannot parse.
		return nil
	}
	cons, err := semver.NewConstraint(r.Constraint())
	if err != nil {
		return err
	}
	if !cons.Check(sv) {
		return fmt.Errorf("found version %s, want %s", v, r)
	}
	return nil
}

func (l *Library) parse(cflags, libs string) error {
	cf, err := fields(cflags)
	if err != nil {
		return fmt.Errorf("parse --cflags output %q: %w", cflags, err)
	}
	for i := 0; i < len(cf); i++ {
		f := cf[i]
		switch {
		case strings.HasPrefix(f, "-I"):
			if p, next := value(cf, i, "-I"); p != "" {
				l.IncludePaths = append(l.IncludePaths, p)
				i = next
			}
		case strings.HasPrefix(f, "-D"):
			if d, next := value(cf, i, "-D"); d != "" {
				l.Defines = append(l.Defines, d)
				i = next
			}
		default:
			l.CFlags = append(l.CFlags, f)
		}
	}

	lf, err := fields(libs)
	if err != nil {
		return fmt.Errorf("parse --libs output %q: %w", libs, err)
	}
	for i := 0; i < len(lf); i++ {
		f := lf[i]
		switch {
		case strings.HasPrefix(f, "-L"):
			if p, next := value(lf, i, "-L"); p != "" {
				l.LinkPaths = append(l.LinkPaths, p)
				i = next
			}
		case strings.HasPrefix(f, "-l"):
			if n, next := value(lf, i, "-l"); n != "" {
				l.Libs = append(l.Libs, n)
				i = next
			}
		case strings.HasPrefix(f, "-F"):
			if p, next := value(lf, i, "-F"); p != "" {
				l.FrameworkPaths = append(l.FrameworkPaths, p)
				i = next
			}
		case f == "-framework" && i+1 < len(lf):
			l.Frameworks = append(l.Frameworks, lf[i+1])
			i++
		default:
			l.LdArgs = append(l.LdArgs, f)
		}
	}
	return nil
}

// Directives converts the metadata into build directives.
func (l *Library) Directives() []directive.Directive {
	var ds []directive.Directive
	add := func(k directive.Kind, vs []string) {
		for _, v := range vs {
			ds = append(ds, directive.Directive{Kind: k, Value: v})
		}
	}
	add(directive.Include, l.IncludePaths)
	add(directive.Define, l.Defines)
	add(directive.LinkSearch, l.LinkPaths)
	add(directive.LinkLib, l.Libs)
	for _, p := range l.FrameworkPaths {
		ds = append(ds, directive.Directive{Kind: directive.LinkArg, Value: "-F" + p})
	}
	for _, f := range l.Frameworks {
		ds = append(ds,
			directive.Directive{Kind: directive.LinkArg, Value: "-framework"},
			directive.Directive{Kind: directive.LinkArg, Value: f})
	}
	add(directive.LinkArg, l.LdArgs)
	return ds
}

// value returns the argument of a flag written either as "-Xarg" or "-X arg",
// and the index of the last consumed field.
func value(fs []string, i int, flag string) (string, int) {
	if v := strings.TrimPrefix(fs[i], flag); v != "" {
		return v, i
	}
	if i+1 < len(fs) {
		return fs[i+1], i + 1
	}
	return "", i
}

// fields splits pkg-config output using shell quoting rules, leaving
// variable references such as $ORIGIN untouched. IFS must resolve to plain
// whitespace, otherwise the splitter would cut words at the characters of
// the placeholder.
func fields(s string) ([]string, error) {
	return shell.Fields(s, func(name string) string {
		if name == "IFS" {
			return " \t\n"
		}
		return "$" + name
	})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		return strings.TrimSpace(line)
	}
	return s
}
