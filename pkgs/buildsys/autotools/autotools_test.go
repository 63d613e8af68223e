package autotools

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplus/hwlocsys/internal/command"
	"github.com/goplus/hwlocsys/pkgs/buildsys"
)

type recorder struct {
	cmds   []command.Cmd
	failOn string
}

func (r *recorder) Run(ctx context.Context, c command.Cmd) ([]byte, error) {
	r.cmds = append(r.cmds, c)
	if r.failOn != "" && filepath.Base(c.Name) == r.failOn {
		return []byte("error: no acceptable C compiler found in $PATH"),
			&command.ExitError{Cmd: c, Output: []byte("error: no acceptable C compiler found in $PATH"), Err: errors.New("exit status 1")}
	}
	if filepath.Base(c.Name) == "configure" {
		// configure leaves a Makefile behind.
		_ = os.WriteFile(filepath.Join(c.Dir, "Makefile"), []byte("all:\n"), 0o644)
	}
	return nil, nil
}

func TestOutputDirPrefersInstall(t *testing.T) {
	a := New(nil, "src", "")
	if got := a.OutputDir(); got != filepath.Join("src", "build") {
		t.Fatalf("default OutputDir = %q, want %q", got, filepath.Join("src", "build"))
	}
	a.InstallDir("custom-install")
	if got := a.OutputDir(); got != "custom-install" {
		t.Fatalf("OutputDir after InstallDir = %q, want %q", got, "custom-install")
	}
}

func TestArgs(t *testing.T) {
	a := New(&recorder{}, "src", "build")
	a.InstallDir("/prefix")
	a.ConfigOption("config-cache", "").ConfigOption("with-foo", "bar").Disable("cuda").LinkMode(true, false)

	assert.Equal(t, []string{
		"--prefix=/prefix",
		"--config-cache",
		"--with-foo=bar",
		"--disable-cuda",
		"--enable-static",
		"--disable-shared",
	}, a.Args())

	b := New(&recorder{}, "src", "build").LinkMode(false, true)
	assert.Equal(t, []string{"--disable-static", "--enable-shared"}, b.Args())
}

func TestLifecycleCommands(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	build := filepath.Join(tmp, "build")
	rec := &recorder{}

	a := New(rec, src, build).Reconf("-ivf").Jobs(4).Disable("gl")
	a.InstallDir(filepath.Join(tmp, "prefix"))
	a.Env("CUSTOM", "VAL")

	ctx := context.Background()
	require.NoError(t, a.Configure(ctx))
	require.NoError(t, a.Build(ctx))
	require.NoError(t, a.Install(ctx))

	require.Len(t, rec.cmds, 4)
	assert.Equal(t, command.Cmd{Name: "autoreconf", Args: []string{"-ivf"}, Dir: src, Env: map[string]string{"CUSTOM": "VAL"}}, rec.cmds[0])
	assert.Equal(t, filepath.Join(src, "configure"), rec.cmds[1].Name)
	assert.Equal(t, build, rec.cmds[1].Dir)
	assert.Equal(t, []string{"--prefix=" + filepath.Join(tmp, "prefix"), "--disable-gl"}, rec.cmds[1].Args)
	assert.Equal(t, "make -j4", rec.cmds[2].String())
	assert.Equal(t, "make install", rec.cmds[3].String())
}

func TestFastBuildSkipsUnchangedConfigure(t *testing.T) {
	tmp := t.TempDir()
	rec := &recorder{}
	a := New(rec, filepath.Join(tmp, "src"), filepath.Join(tmp, "build")).FastBuild(true).Reconf("-ivf")
	ctx := context.Background()

	require.NoError(t, a.Configure(ctx))
	require.Len(t, rec.cmds, 2)

	// Same arguments: only autoreconf runs again.
	require.NoError(t, a.Configure(ctx))
	require.Len(t, rec.cmds, 3)
	assert.Equal(t, "autoreconf", rec.cmds[2].Name)

	// Changed arguments force configure.
	a.Disable("cairo")
	require.NoError(t, a.Configure(ctx))
	require.Len(t, rec.cmds, 5)
	assert.Equal(t, "configure", filepath.Base(rec.cmds[4].Name))
}

func TestWithoutFastBuildAlwaysConfigures(t *testing.T) {
	tmp := t.TempDir()
	rec := &recorder{}
	a := New(rec, filepath.Join(tmp, "src"), filepath.Join(tmp, "build"))
	ctx := context.Background()

	require.NoError(t, a.Configure(ctx))
	require.NoError(t, a.Configure(ctx))
	assert.Len(t, rec.cmds, 2)
}

func TestConfigureFailureNamesStep(t *testing.T) {
	tmp := t.TempDir()
	a := New(&recorder{failOn: "configure"}, filepath.Join(tmp, "src"), filepath.Join(tmp, "build"))

	err := a.Configure(context.Background())
	require.Error(t, err)

	var stepErr *buildsys.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, buildsys.StepConfigure, stepErr.Step)

	var exitErr *command.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Contains(t, string(exitErr.Output), "no acceptable C compiler")
}

func TestConfigureBuildInstallE2E(t *testing.T) {
	for _, bin := range []string{"sh", "make"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH", bin)
		}
	}

	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	installDir := filepath.Join(tmp, "install")
	require.NoError(t, os.MkdirAll(src, 0o755))

	configure := `#!/bin/sh
prefix=
for arg in "$@"; do
  case "$arg" in
    --prefix=*) prefix="${arg#--prefix=}" ;;
  esac
done
printf 'CUSTOM=%s\nPREFIX=%s\nARGS=%s\n' "$CUSTOM" "$prefix" "$*" > config.log
printf 'all:\n\techo built > dummy.txt\ninstall:\n\tmkdir -p %s/lib/pkgconfig\n\tcp dummy.txt %s/lib/pkgconfig/dummy.pc\n' "$prefix" "$prefix" > Makefile
`
	require.NoError(t, os.WriteFile(filepath.Join(src, "configure"), []byte(configure), 0o755))

	a := New(nil, src, filepath.Join(tmp, "build")).Disable("cuda").Jobs(1)
	a.InstallDir(installDir)
	a.Env("CUSTOM", "VAL")

	ctx := context.Background()
	require.NoError(t, a.Configure(ctx))
	require.NoError(t, a.Build(ctx))
	require.NoError(t, a.Install(ctx))

	data, err := os.ReadFile(filepath.Join(tmp, "build", "config.log"))
	require.NoError(t, err)
	for _, snippet := range []string{"CUSTOM=VAL", "PREFIX=" + installDir, "--disable-cuda"} {
		assert.Contains(t, string(data), snippet)
	}
	_, err = os.Stat(filepath.Join(installDir, "lib", "pkgconfig", "dummy.pc"))
	assert.NoError(t, err)
}
