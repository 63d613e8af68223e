// Package platform models the target operating systems hwloc can be
// provisioned for and the link policy that applies to each of them.
package platform

import (
	"fmt"
	"runtime"
)

// OS is a target operating system, named like GOOS.
type OS string

const (
	AIX       OS = "aix"
	Android   OS = "android"
	Darwin    OS = "darwin"
	Dragonfly OS = "dragonfly"
	FreeBSD   OS = "freebsd"
	Illumos   OS = "illumos"
	IOS       OS = "ios"
	JS        OS = "js"
	Linux     OS = "linux"
	NetBSD    OS = "netbsd"
	OpenBSD   OS = "openbsd"
	Plan9     OS = "plan9"
	Solaris   OS = "solaris"
	WASIP1    OS = "wasip1"
	Windows   OS = "windows"
)

var known = map[OS]bool{
	AIX: true, Android: true, Darwin: true, Dragonfly: true, FreeBSD: true,
	Illumos: true, IOS: true, JS: true, Linux: true, NetBSD: true,
	OpenBSD: true, Plan9: true, Solaris: true, WASIP1: true, Windows: true,
}

// Host returns the OS this binary runs on.
func Host() OS {
	return OS(runtime.GOOS)
}

// Parse maps a GOOS value to an OS. An empty string selects the host.
func Parse(goos string) (OS, error) {
	if goos == "" {
		return Host(), nil
	}
	os := OS(goos)
	if !known[os] {
		return "", fmt.Errorf("unknown target OS %q", goos)
	}
	return os, nil
}

// IsUnix reports whether the target belongs to the POSIX family,
// i.e. whether its linker honours -rpath.
func (o OS) IsUnix() bool {
	switch o {
	case AIX, Android, Darwin, Dragonfly, FreeBSD, Illumos, IOS, Linux, NetBSD, OpenBSD, Solaris:
		return true
	}
	return false
}

func (o OS) String() string { return string(o) }

// LinkMode selects which library flavours a build produces.
type LinkMode struct {
	Static bool
	Shared bool
}

func (m LinkMode) String() string {
	if m.Static {
		return "static"
	}
	return "shared"
}

// LinkModeFor returns the link policy of a target. macOS does not cope well
// with fully static hwloc builds, so it gets a shared library; everything
// else links statically to avoid shipping shared objects.
func LinkModeFor(o OS) LinkMode {
	if o == Darwin {
		return LinkMode{Static: false, Shared: true}
	}
	return LinkMode{Static: true, Shared: false}
}

// PreferStatic reports whether pkg-config should be asked for static linkage.
func PreferStatic(o OS) bool {
	return LinkModeFor(o).Static
}
