package directive

import (
	"bytes"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"strings"
)

// CgoFile collects directives and writes them as #cgo lines of a Go file.
type CgoFile struct {
	Path    string
	Package string
	// GOOS, when set, adds a matching build constraint to the file.
	GOOS string

	cflags  []string
	ldflags []string
}

// NewCgoFile returns a CgoFile that will be written to path.
func NewCgoFile(path, pkg, goos string) *CgoFile {
	return &CgoFile{Path: path, Package: pkg, GOOS: goos}
}

func (c *CgoFile) Emit(d Directive) error {
	flag := d.Flag()
	if strings.ContainsAny(flag, "\"\n") {
		return fmt.Errorf("cannot express %s in a #cgo line", d)
	}
	if d.IsCompile() {
		c.cflags = appendUnique(c.cflags, flag)
	} else {
		c.ldflags = append(c.ldflags, flag)
	}
	return nil
}

// Source renders the file contents.
func (c *CgoFile) Source() ([]byte, error) {
	pkg := c.Package
	if pkg == "" {
		pkg = "hwloc"
	}
	var buf bytes.Buffer
	buf.WriteString("// Code generated by hwlocsys. DO NOT EDIT.\n\n")
	if c.GOOS != "" {
		fmt.Fprintf(&buf, "//go:build %s\n\n", c.GOOS)
	}
	fmt.Fprintf(&buf, "package %s\n\n", pkg)
	if len(c.cflags) > 0 {
		fmt.Fprintf(&buf, "// #cgo CFLAGS: %s\n", joinQuoted(c.cflags))
	}
	if len(c.ldflags) > 0 {
		fmt.Fprintf(&buf, "// #cgo LDFLAGS: %s\n", joinQuoted(c.ldflags))
	}
	buf.WriteString("import \"C\"\n")
	return format.Source(buf.Bytes())
}

// Close writes the file.
func (c *CgoFile) Close() error {
	src, err := c.Source()
	if err != nil {
		return fmt.Errorf("failed to format %s: %w", c.Path, err)
	}
	if dir := filepath.Dir(c.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(c.Path, src, 0o644)
}

func joinQuoted(flags []string) string {
	out := make([]string, len(flags))
	for i, f := range flags {
		if strings.ContainsAny(f, " \t'") {
			f = `"` + f + `"`
		}
		out[i] = f
	}
	return strings.Join(out, " ")
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
