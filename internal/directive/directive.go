// Package directive carries the build directives produced by provisioning
// to the Go build: a line stream for tooling and a generated cgo file.
package directive

import (
	"errors"
	"fmt"
	"io"
)

// Kind classifies a directive.
type Kind string

const (
	Include    Kind = "include"     // header search path, becomes -I
	Define     Kind = "define"      // preprocessor define, becomes -D
	LinkSearch Kind = "link-search" // library search path, becomes -L
	LinkLib    Kind = "link-lib"    // library name, becomes -l
	LinkArg    Kind = "link-arg"    // raw linker argument
)

// Directive is one instruction for the enclosing build.
type Directive struct {
	Kind  Kind
	Value string
}

func (d Directive) String() string {
	return string(d.Kind) + "=" + d.Value
}

// Flag renders the directive as a compiler or linker flag.
func (d Directive) Flag() string {
	switch d.Kind {
	case Include:
		return "-I" + d.Value
	case Define:
		return "-D" + d.Value
	case LinkSearch:
		return "-L" + d.Value
	case LinkLib:
		return "-l" + d.Value
	default:
		return d.Value
	}
}

// IsCompile reports whether the directive belongs to CFLAGS rather than LDFLAGS.
func (d Directive) IsCompile() bool {
	return d.Kind == Include || d.Kind == Define
}

// Emitter receives directives.
type Emitter interface {
	Emit(d Directive) error
}

// Stream writes one "<prefix>:<kind>=<value>" line per directive.
type Stream struct {
	w      io.Writer
	prefix string
}

// NewStream returns a Stream writing to w. An empty prefix defaults to "hwloc".
func NewStream(w io.Writer, prefix string) *Stream {
	if prefix == "" {
		prefix = "hwloc"
	}
	return &Stream{w: w, prefix: prefix}
}

func (s *Stream) Emit(d Directive) error {
	_, err := fmt.Fprintf(s.w, "%s:%s\n", s.prefix, d)
	return err
}

// Recorder keeps directives in memory.
type Recorder struct {
	Directives []Directive
}

func (r *Recorder) Emit(d Directive) error {
	r.Directives = append(r.Directives, d)
	return nil
}

// Of returns the recorded values of kind k, in emission order.
func (r *Recorder) Of(k Kind) []string {
	var out []string
	for _, d := range r.Directives {
		if d.Kind == k {
			out = append(out, d.Value)
		}
	}
	return out
}

type multi []Emitter

// Multi fans each directive out to every emitter.
func Multi(emitters ...Emitter) Emitter {
	return multi(emitters)
}

func (m multi) Emit(d Directive) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitAll sends ds to e, stopping at the first error.
func EmitAll(e Emitter, ds []Directive) error {
	for _, d := range ds {
		if err := e.Emit(d); err != nil {
			return err
		}
	}
	return nil
}
