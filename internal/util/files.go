package util

import (
	"os"
	"path/filepath"
)

var (
	ConfigDir = filepath.Join(HomeDir(), ".config", "ftpsync")
)

func HomeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func OpenWithParents(path string, flag int, perm os.FileMode) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, flag, perm)
}

// ExpandHome replaces a leading "~/" with the home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return HomeDir()
	}
	if len(path) > 1 && path[0] == '~' && os.IsPathSeparator(path[1]) {
		return filepath.Join(HomeDir(), path[2:])
	}
	return path
}
