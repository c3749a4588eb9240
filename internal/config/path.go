package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	dataDirName    = "golem-executor"
	dataDirDisplay = "GolemExecutor"
)

// DefaultDataDir is where the oplog and blob store live when neither the
// config file nor the environment names a data dir.
func DefaultDataDir() string {
	return defaultDataDir(runtime.GOOS, os.Getenv, isDir)
}

// defaultDataDir tries, in order: $XDG_DATA_HOME, /var/lib on Linux, the
// platform application data dir on darwin and windows, a dotdir in $HOME,
// and finally ./data.
func defaultDataDir(goos string, getenv func(string) string, exists func(string) bool) string {
	if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, dataDirName)
	}
	home := getenv("HOME")
	if goos == "windows" {
		home = getenv("USERPROFILE")
	}
	type candidate struct{ root, name string }
	var candidates []candidate
	switch goos {
	case "linux":
		candidates = append(candidates, candidate{"/var/lib", dataDirName})
	case "darwin":
		if home != "" {
			candidates = append(candidates, candidate{filepath.Join(home, "Library", "Application Support"), dataDirDisplay})
		}
	case "windows":
		candidates = append(candidates, candidate{getenv("LOCALAPPDATA"), dataDirDisplay})
	}
	if home != "" {
		candidates = append(candidates, candidate{home, "." + dataDirName})
	}
	for _, c := range candidates {
		if c.root != "" && exists(c.root) {
			return filepath.Join(c.root, c.name)
		}
	}
	return "./data"
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
