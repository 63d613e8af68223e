package autotools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/goplus/hwlocsys/internal/command"
	"github.com/goplus/hwlocsys/pkgs/buildsys"
)

// stampFile records the arguments the build directory was configured with.
const stampFile = ".configure-args"

// AutoTools wraps common Autotools build steps with chainable configuration.
type AutoTools struct {
	runner     command.Runner
	SourceDir  string
	buildDir   string
	installDir string
	env        map[string]string
	options    []string
	reconf     []string
	fastBuild  bool
	jobs       int
}

var _ buildsys.BuildSystem = (*AutoTools)(nil)

// New creates a new AutoTools helper that builds sourceDir out of tree in buildDir.
func New(runner command.Runner, sourceDir, buildDir string) *AutoTools {
	if runner == nil {
		runner = &command.Exec{}
	}
	if buildDir == "" {
		buildDir = filepath.Join(sourceDir, "build")
	}
	return &AutoTools{
		runner:    runner,
		SourceDir: sourceDir,
		buildDir:  buildDir,
		env:       map[string]string{},
		jobs:      runtime.NumCPU(),
	}
}

func (a *AutoTools) Source(dir string) {
	a.SourceDir = dir
}

func (a *AutoTools) InstallDir(dir string) {
	a.installDir = dir
}

func (a *AutoTools) Env(key, value string) {
	if a.env == nil {
		a.env = map[string]string{}
	}
	a.env[key] = value
}

// ConfigOption adds --name or --name=value to the configure arguments.
func (a *AutoTools) ConfigOption(name, value string) *AutoTools {
	if value == "" {
		a.options = append(a.options, "--"+name)
		return a
	}
	a.options = append(a.options, "--"+name+"="+value)
	return a
}

// Enable adds --enable-feature.
func (a *AutoTools) Enable(feature string) *AutoTools {
	a.options = append(a.options, "--enable-"+feature)
	return a
}

// Disable adds --disable-feature.
func (a *AutoTools) Disable(feature string) *AutoTools {
	a.options = append(a.options, "--disable-"+feature)
	return a
}

// LinkMode enables exactly the requested library flavours.
func (a *AutoTools) LinkMode(static, shared bool) *AutoTools {
	toggle := func(on bool, feature string) {
		if on {
			a.Enable(feature)
		} else {
			a.Disable(feature)
		}
	}
	toggle(static, "static")
	toggle(shared, "shared")
	return a
}

// FastBuild skips configure when the build directory was already configured
// with the same arguments.
func (a *AutoTools) FastBuild(on bool) *AutoTools {
	a.fastBuild = on
	return a
}

// Reconf runs autoreconf with flags (e.g. "-ivf") before configure.
func (a *AutoTools) Reconf(flags ...string) *AutoTools {
	a.reconf = flags
	return a
}

// Jobs sets the make parallelism; n < 1 means serial.
func (a *AutoTools) Jobs(n int) *AutoTools {
	a.jobs = n
	return a
}

// Args returns the full configure argument list.
func (a *AutoTools) Args() []string {
	args := []string{}
	if a.installDir != "" {
		args = append(args, "--prefix="+a.installDir)
	}
	return append(args, a.options...)
}

// Configure runs autoreconf when requested, then configure with the collected options.
func (a *AutoTools) Configure(ctx context.Context, args ...string) error {
	if err := os.MkdirAll(a.buildDir, 0o755); err != nil {
		return err
	}
	if len(a.reconf) > 0 {
		if err := a.run(ctx, a.SourceDir, "autoreconf", a.reconf...); err != nil {
			return &buildsys.StepError{Step: buildsys.StepReconf, Err: err}
		}
	}

	configArgs := append(a.Args(), args...)
	stamp := []byte(strings.Join(configArgs, "\n"))
	if a.fastBuild && a.configured(stamp) {
		return nil
	}

	exe := filepath.Join(a.SourceDir, "configure")
	if err := a.run(ctx, a.buildDir, exe, configArgs...); err != nil {
		return &buildsys.StepError{Step: buildsys.StepConfigure, Err: err}
	}
	return os.WriteFile(filepath.Join(a.buildDir, stampFile), stamp, 0o644)
}

// Build runs make (or provided args) in the build directory.
func (a *AutoTools) Build(ctx context.Context, args ...string) error {
	cmdArgs := []string{"make"}
	if a.jobs > 1 {
		cmdArgs = append(cmdArgs, "-j"+strconv.Itoa(a.jobs))
	}
	if len(args) > 0 {
		cmdArgs = args
	}
	if err := a.run(ctx, a.buildDir, cmdArgs[0], cmdArgs[1:]...); err != nil {
		return &buildsys.StepError{Step: buildsys.StepBuild, Err: err}
	}
	return nil
}

// Install runs make install (or provided args) in the build directory.
func (a *AutoTools) Install(ctx context.Context, args ...string) error {
	cmdArgs := []string{"make", "install"}
	if len(args) > 0 {
		cmdArgs = args
	}
	if err := a.run(ctx, a.buildDir, cmdArgs[0], cmdArgs[1:]...); err != nil {
		return &buildsys.StepError{Step: buildsys.StepInstall, Err: err}
	}
	return nil
}

// OutputDir returns the install dir if set, otherwise the build dir.
func (a *AutoTools) OutputDir() string {
	if a.installDir != "" {
		return a.installDir
	}
	return a.buildDir
}

func (a *AutoTools) configured(stamp []byte) bool {
	if _, err := os.Stat(filepath.Join(a.buildDir, "Makefile")); err != nil {
		return false
	}
	prev, err := os.ReadFile(filepath.Join(a.buildDir, stampFile))
	return err == nil && bytes.Equal(prev, stamp)
}

func (a *AutoTools) run(ctx context.Context, dir, bin string, args ...string) error {
	_, err := a.runner.Run(ctx, command.Cmd{Name: bin, Args: args, Dir: dir, Env: a.env})
	if err != nil {
		return fmt.Errorf("%s failed: %w", filepath.Base(bin), err)
	}
	return nil
}
