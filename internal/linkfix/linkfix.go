// Package linkfix adds the runtime search paths that pkg-config leaves out.
//
// pkg-config does not set up RPATHs for the transitive dependencies of a
// statically linked library, so a binary can link fine and still fail to
// load one of hwloc's own shared dependencies at run time. Adding an rpath
// for every link path is harmless when it is not needed.
package linkfix

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goplus/hwlocsys/internal/directive"
	"github.com/goplus/hwlocsys/internal/platform"
)

// ErrEncoding is returned for link paths that cannot be written as text.
var ErrEncoding = errors.New("link path is not a valid UTF-8 string")

// RpathArg returns the linker argument adding dir to the runtime search path.
func RpathArg(dir string) string {
	return "-Wl,-rpath," + dir
}

// Patch emits one rpath directive per link path, in order, on POSIX targets.
// Other targets get none.
func Patch(linkPaths []string, target platform.OS, e directive.Emitter) error {
	if !target.IsUnix() {
		return nil
	}
	for _, p := range linkPaths {
		if !utf8.ValidString(p) || strings.ContainsRune(p, 0) {
			return fmt.Errorf("%w: %q", ErrEncoding, p)
		}
	}
	for _, p := range linkPaths {
		if err := e.Emit(directive.Directive{Kind: directive.LinkArg, Value: RpathArg(p)}); err != nil {
			return err
		}
	}
	return nil
}
