// Package command runs external tools and captures their combined output.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Cmd describes a single subprocess invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	// Env entries override the inherited process environment.
	Env map[string]string
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes a Cmd to completion and returns its combined stdout/stderr.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) ([]byte, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Cmd) ([]byte, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Cmd) ([]byte, error) {
	return f(ctx, cmd)
}

// ExitError reports a subprocess that could not start or exited non-zero.
type ExitError struct {
	Cmd    Cmd
	Output []byte
	Err    error
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(string(e.Output))
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Cmd, e.Err, msg)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exec is the Runner backed by os/exec.
type Exec struct {
	// Echo, when set, receives a live copy of the subprocess output.
	Echo io.Writer
}

var _ Runner = (*Exec)(nil)

func (x *Exec) Run(ctx context.Context, c Cmd) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		cmd.Env = MergeEnv(os.Environ(), c.Env)
	}

	var buf bytes.Buffer
	var out io.Writer = &buf
	if x != nil && x.Echo != nil {
		out = io.MultiWriter(&buf, x.Echo)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		return buf.Bytes(), &ExitError{Cmd: c, Output: buf.Bytes(), Err: err}
	}
	return buf.Bytes(), nil
}

// MergeEnv overlays override onto base and returns a sorted KEY=VALUE list.
func MergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
