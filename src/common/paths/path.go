// Package paths provides common path manipulation utilities for lkb.
package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand expands special path prefixes:
// - ~ expands to the user's home directory
// - Environment variables are expanded via os.ExpandEnv
func Expand(path string) string {
	return ExpandHome(os.ExpandEnv(path))
}

// ExpandHome expands only the ~ prefix to the user's home directory
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			return filepath.Join(usr.HomeDir, path[2:])
		}
	} else if path == "~" {
		if usr, err := user.Current(); err == nil {
			return usr.HomeDir
		}
	}
	return path
}

// EnsureDir ensures that the parent directory of the given file path exists.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// Exists returns true if the path exists
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsDir returns true if the path exists and is a directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsFile returns true if the path exists and is a regular file
func IsFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// Within reports whether target resolves to base itself or a path below it.
// Used to reject archive members that would escape the extraction root.
func Within(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if target == base {
		return true
	}
	return strings.HasPrefix(target, base+string(os.PathSeparator))
}

// Resolve makes p absolute relative to dir unless it already is
func Resolve(dir, p string) string {
	p = Expand(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
