package buildsys

import "context"

// BuildSystem captures shared capabilities of build helpers (Autotools, etc).
// It keeps the common lifecycle and env setup; implementations add their own extras.
type BuildSystem interface {
	// Basic paths.
	Source(dir string)
	InstallDir(dir string)

	// Environment helper. Values only reach spawned tools, never the current process.
	Env(key, val string)

	// Lifecycle.
	Configure(ctx context.Context, args ...string) error
	Build(ctx context.Context, args ...string) error
	Install(ctx context.Context, args ...string) error

	// Where artifacts land.
	OutputDir() string
}

// Step names a lifecycle stage, used when reporting failures.
type Step string

const (
	StepReconf    Step = "autoreconf"
	StepConfigure Step = "configure"
	StepBuild     Step = "build"
	StepInstall   Step = "install"
)

// StepError reports which lifecycle step failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return string(e.Step) + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }
