package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goplus/hwlocsys/internal/build"
	"github.com/goplus/hwlocsys/internal/command"
	"github.com/goplus/hwlocsys/internal/directive"
	"github.com/goplus/hwlocsys/internal/env"
	"github.com/goplus/hwlocsys/internal/pkgconfig"
	"github.com/goplus/hwlocsys/internal/platform"
	"github.com/goplus/hwlocsys/internal/provision"
	"github.com/goplus/hwlocsys/internal/repo"
	"github.com/goplus/hwlocsys/internal/vcs"
)

// Config holds the settings of one invocation.
type Config struct {
	Bundled    bool
	OutDir     string
	GOOS       string
	VCS        string
	CgoFile    string
	CgoPackage string
	Verbose    bool
	PkgConfig  string
	Jobs       int
}

// settings maps each config key to its environment variable.
var settings = []struct {
	key, env string
}{
	{"bundled", "HWLOC_BUNDLED"},
	{"out-dir", env.OutDirVar},
	{"goos", "GOOS"},
	{"vcs", "HWLOC_VCS"},
	{"cgo-file", "HWLOC_CGO_FILE"},
	{"cgo-package", "HWLOC_CGO_PACKAGE"},
	{"verbose", "HWLOC_VERBOSE"},
	{"pkg-config", pkgconfig.ExeVar},
	{"jobs", "HWLOC_JOBS"},
}

// NewRootCmd returns the hwlocsys command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(func(cmd *cobra.Command, cfg Config) error {
		logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
		_, err := Run(cmd.Context(), cfg, cmd.OutOrStdout(), logger)
		return err
	})
}

func newRootCmd(run func(cmd *cobra.Command, cfg Config) error) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "hwlocsys",
		Short: "hwlocsys provisions hwloc for cgo builds",
		Long: `hwlocsys finds hwloc through pkg-config, or with --bundled fetches, builds
and installs a known-good hwloc release, and prints the resulting build
directives on stdout.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, LoadConfig(v))
		},
	}

	flags := cmd.Flags()
	flags.Bool("bundled", false, "Build hwloc from source instead of using the system copy")
	flags.String("out-dir", "", "Output directory for the source tree, build tree and install prefix")
	flags.String("goos", "", "Target operating system (defaults to the host)")
	flags.String("vcs", string(vcs.KindAuto), "Source control backend: auto, git or go-git")
	flags.String("cgo-file", "", "Also write the directives as cgo flags to this Go file")
	flags.String("cgo-package", "hwloc", "Package clause of the generated cgo file")
	flags.BoolP("verbose", "v", false, "Enable verbose build output")
	flags.String("pkg-config", "pkg-config", "pkg-config executable")
	flags.IntP("jobs", "j", 0, "Parallel make jobs for the bundled build (0 means one per CPU)")

	for _, s := range settings {
		_ = v.BindPFlag(s.key, flags.Lookup(s.key))
		_ = v.BindEnv(s.key, s.env)
	}
	return cmd
}

// LoadConfig reads flags and environment through v.
func LoadConfig(v *viper.Viper) Config {
	cfg := Config{
		Bundled:    v.GetBool("bundled"),
		OutDir:     v.GetString("out-dir"),
		GOOS:       v.GetString("goos"),
		VCS:        v.GetString("vcs"),
		CgoFile:    v.GetString("cgo-file"),
		CgoPackage: v.GetString("cgo-package"),
		Verbose:    v.GetBool("verbose"),
		PkgConfig:  v.GetString("pkg-config"),
		Jobs:       v.GetInt("jobs"),
	}
	if cfg.PkgConfig == "" {
		cfg.PkgConfig = "pkg-config"
	}
	if cfg.CgoPackage == "" {
		cfg.CgoPackage = "hwloc"
	}
	return cfg
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Prefix: "hwlocsys",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// Run wires the components for cfg and provisions hwloc, writing the
// directive stream to stdout.
func Run(ctx context.Context, cfg Config, stdout io.Writer, logger *log.Logger) (*provision.Result, error) {
	target, err := platform.Parse(cfg.GOOS)
	if err != nil {
		return nil, err
	}

	runner := &command.Exec{}
	if cfg.Verbose {
		runner.Echo = logger.StandardLog().Writer()
	}

	var (
		emitter directive.Emitter = directive.NewStream(stdout, "")
		cgoFile *directive.CgoFile
	)
	if cfg.CgoFile != "" {
		cgoFile = directive.NewCgoFile(cfg.CgoFile, cfg.CgoPackage, string(target))
		emitter = directive.Multi(emitter, cgoFile)
	}

	opts := provision.Options{
		Bundled: cfg.Bundled,
		Target:  target,
		PkgConfig: pkgconfig.Config{
			Exe:    cfg.PkgConfig,
			Runner: runner,
		},
		Emitter: emitter,
		Logger:  logger,
	}
	if cfg.Bundled {
		outDir, err := env.OutDir(cfg.OutDir, string(target))
		if err != nil {
			return nil, fmt.Errorf("failed to prepare output directory: %w", err)
		}
		backend, err := vcs.New(vcs.Kind(cfg.VCS), runner)
		if err != nil {
			return nil, err
		}
		fetcher := repo.New(backend, repo.WithLogger(logger))
		opts.OutDir = outDir
		opts.Fetcher = fetcher
		opts.Builder = build.New(build.Options{
			Target: target,
			OutDir: outDir,
			Runner: runner,
			Jobs:   cfg.Jobs,
			Head:   fetcher.Head,
			Logger: logger,
		})
	}

	res, err := provision.New(opts).Run(ctx)
	if err != nil {
		return nil, err
	}
	if cgoFile != nil {
		if err := cgoFile.Close(); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", cfg.CgoFile, err)
		}
	}
	return res, nil
}

// Execute runs the root command. It is the only place that aborts the process.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}
	logger := newLogger(os.Stderr, false)
	logger.Error("hwloc provisioning failed", "kind", provision.Classify(err), "err", err)
	if out := provision.Output(err); len(out) > 0 {
		os.Stderr.Write(out)
	}
	stop()
	os.Exit(1)
}
