package env

import (
	"os"
	"path/filepath"
	"runtime"
)

// OutDirVar names the variable holding the build output directory.
const OutDirVar = "OUT_DIR"

// WorkDir returns the per-user cache root of hwlocsys.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".hwlocsys"), nil
}

// OutDir returns dir if set, otherwise a per-target directory under WorkDir.
// The directory is created if needed.
func OutDir(dir, goos string) (string, error) {
	if dir == "" {
		work, err := WorkDir()
		if err != nil {
			return "", err
		}
		if goos == "" {
			goos = runtime.GOOS
		}
		dir = filepath.Join(work, goos+"-"+runtime.GOARCH)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", err
	}
	return abs, nil
}
