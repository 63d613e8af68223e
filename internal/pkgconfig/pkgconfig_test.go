package pkgconfig

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplus/hwlocsys/internal/command"
	"github.com/goplus/hwlocsys/internal/directive"
	"github.com/goplus/hwlocsys/internal/version"
)

// fakePkgConfig answers from a table keyed by the joined argument list.
type fakePkgConfig struct {
	answers map[string]string
	cmds    []command.Cmd
}

func (f *fakePkgConfig) Run(ctx context.Context, c command.Cmd) ([]byte, error) {
	f.cmds = append(f.cmds, c)
	out, ok := f.answers[strings.Join(c.Args, " ")]
	if !ok {
		msg := []byte("Package hwloc was not found in the pkg-config search path.")
		return msg, &command.ExitError{Cmd: c, Output: msg, Err: errors.New("exit status 1")}
	}
	return []byte(out), nil
}

func TestProbeStaticWithRange(t *testing.T) {
	f := &fakePkgConfig{answers: map[string]string{
		"--modversion hwloc >= 2.8.0 hwloc < 3.0.0": "2.9.3\n2.9.3\n",
		"--cflags --static hwloc":                   "-I/out/include -DHWLOC_STATIC\n",
		"--libs --static hwloc":                     "-L/out/lib -L/usr/lib/x86_64-linux-gnu -lhwloc -lm -ludev -pthread\n",
	}}
	c := &Config{
		SearchPath: "/out/lib/pkgconfig:/out/lib64/pkgconfig",
		Static:     true,
		Range:      &version.Range{Min: "2.8.0", Max: "3.0.0"},
		Runner:     f,
	}

	lib, err := c.Probe(context.Background(), "hwloc")
	require.NoError(t, err)
	assert.Equal(t, "2.9.3", lib.Version)
	assert.True(t, lib.Static)
	assert.Equal(t, []string{"/out/include"}, lib.IncludePaths)
	assert.Equal(t, []string{"HWLOC_STATIC"}, lib.Defines)
	assert.Equal(t, []string{"/out/lib", "/usr/lib/x86_64-linux-gnu"}, lib.LinkPaths)
	assert.Equal(t, []string{"hwloc", "m", "udev"}, lib.Libs)
	assert.Equal(t, []string{"-pthread"}, lib.LdArgs)

	require.Len(t, f.cmds, 3)
	for _, cmd := range f.cmds {
		assert.Equal(t, "pkg-config", cmd.Name)
		assert.Equal(t, map[string]string{PathVar: "/out/lib/pkgconfig:/out/lib64/pkgconfig"}, cmd.Env)
	}
}

func TestProbeDynamicAnyVersion(t *testing.T) {
	f := &fakePkgConfig{answers: map[string]string{
		"--modversion hwloc": "1.11.13",
		"--cflags hwloc":     "",
		"--libs hwloc":       "-lhwloc",
	}}
	c := &Config{Exe: "/usr/bin/pkgconf", Runner: f}

	lib, err := c.Probe(context.Background(), "hwloc")
	require.NoError(t, err)
	assert.Equal(t, "1.11.13", lib.Version)
	assert.False(t, lib.Static)
	assert.Empty(t, lib.LinkPaths)
	assert.Equal(t, []string{"hwloc"}, lib.Libs)
	assert.Equal(t, "/usr/bin/pkgconf", f.cmds[0].Name)
	assert.Nil(t, f.cmds[0].Env, "no search path override")
}

func TestProbeNotFound(t *testing.T) {
	c := &Config{Runner: &fakePkgConfig{}, Range: &version.Range{Min: "2.8.0", Max: "3.0.0"}}

	_, err := c.Probe(context.Background(), "hwloc")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "[2.8.0, 3.0.0)")

	var exitErr *command.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Contains(t, string(exitErr.Output), "was not found")
}

func TestProbeRejectsOutOfRangeAnswer(t *testing.T) {
	// A pkg-config that ignores the range expression must still be caught.
	f := &fakePkgConfig{answers: map[string]string{
		"--modversion hwloc >= 2.8.0 hwloc < 3.0.0": "3.1.0",
	}}
	c := &Config{Runner: f, Range: &version.Range{Min: "2.8.0", Max: "3.0.0"}}

	_, err := c.Probe(context.Background(), "hwloc")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "found version 3.1.0")
	assert.Len(t, f.cmds, 1)
}

func TestParseQuotedAndSplitFlags(t *testing.T) {
	lib := &Library{}
	err := lib.parse(`-I "/opt/my hwloc/include" -fPIC`,
		`-L'/opt/my hwloc/lib' -l hwloc -F/Library/Frameworks -framework IOKit -Wl,-rpath,$ORIGIN`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/my hwloc/include"}, lib.IncludePaths)
	assert.Equal(t, []string{"-fPIC"}, lib.CFlags)
	assert.Equal(t, []string{"/opt/my hwloc/lib"}, lib.LinkPaths)
	assert.Equal(t, []string{"hwloc"}, lib.Libs)
	assert.Equal(t, []string{"/Library/Frameworks"}, lib.FrameworkPaths)
	assert.Equal(t, []string{"IOKit"}, lib.Frameworks)
	assert.Equal(t, []string{"-Wl,-rpath,$ORIGIN"}, lib.LdArgs)
}

func TestProbeKeepsVariableReferences(t *testing.T) {
	f := &fakePkgConfig{answers: map[string]string{
		"--modversion hwloc":      "2.9.0",
		"--cflags --static hwloc": "-I/opt/$SDK/include -DISFS=1",
		"--libs --static hwloc":   "-L/opt/hwloc/lib -Wl,-rpath,$ORIGIN/../lib -L/opt/$SDK/lib -lhwloc",
	}}
	c := &Config{Static: true, Runner: f}

	lib, err := c.Probe(context.Background(), "hwloc")
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/$SDK/include"}, lib.IncludePaths)
	assert.Equal(t, []string{"ISFS=1"}, lib.Defines)
	assert.Equal(t, []string{"/opt/hwloc/lib", "/opt/$SDK/lib"}, lib.LinkPaths)
	assert.Equal(t, []string{"-Wl,-rpath,$ORIGIN/../lib"}, lib.LdArgs)
	assert.Equal(t, []string{"hwloc"}, lib.Libs)
}

func TestDirectives(t *testing.T) {
	lib := &Library{
		IncludePaths: []string{"/i"},
		Defines:      []string{"X=1"},
		LinkPaths:    []string{"/l"},
		Libs:         []string{"hwloc"},
		Frameworks:   []string{"IOKit"},
		LdArgs:       []string{"-pthread"},
	}
	assert.Equal(t, []directive.Directive{
		{Kind: directive.Include, Value: "/i"},
		{Kind: directive.Define, Value: "X=1"},
		{Kind: directive.LinkSearch, Value: "/l"},
		{Kind: directive.LinkLib, Value: "hwloc"},
		{Kind: directive.LinkArg, Value: "-framework"},
		{Kind: directive.LinkArg, Value: "IOKit"},
		{Kind: directive.LinkArg, Value: "-pthread"},
	}, lib.Directives())
}

func TestProbeRealPkgConfig(t *testing.T) {
	if _, err := exec.LookPath("pkg-config"); err != nil {
		t.Skip("pkg-config not found in PATH")
	}
	dir := t.TempDir()
	pc := `prefix=/opt/hwloctest
libdir=${prefix}/lib
includedir=${prefix}/include

Name: hwloctest
Description: test fixture
Version: 2.9.1
Libs: -L${libdir} -lhwloctest
Libs.private: -lm
Cflags: -I${includedir}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hwloctest.pc"), []byte(pc), 0o644))
	ctx := context.Background()

	c := &Config{SearchPath: dir, Static: true, Range: &version.Range{Min: "2.8.0", Max: "3.0.0"}}
	lib, err := c.Probe(ctx, "hwloctest")
	require.NoError(t, err)
	assert.Equal(t, "2.9.1", lib.Version)
	assert.Equal(t, []string{"/opt/hwloctest/include"}, lib.IncludePaths)
	assert.Equal(t, []string{"/opt/hwloctest/lib"}, lib.LinkPaths)
	assert.Contains(t, lib.Libs, "hwloctest")
	assert.Contains(t, lib.Libs, "m")

	c.Range = &version.Range{Min: "2.10.0", Max: "3.0.0"}
	_, err = c.Probe(ctx, "hwloctest")
	assert.ErrorIs(t, err, ErrNotFound)
}
