package main

import (
	"os"
	"path/filepath"
)

// loopmicHome returns the path to the loopmic home directory (~/.loopmic).
func loopmicHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".loopmic"), nil
}

func defaultSocketPath() string {
	home, err := loopmicHome()
	if err != nil {
		return "/tmp/loopmic.sock"
	}
	return filepath.Join(home, "loopmic.sock")
}

// resolveSocketPath picks the --socket flag, then the config file's
// socket, then the default.
func resolveSocketPath(fromConfig string) string {
	if socketPath != "" {
		return socketPath
	}
	if fromConfig != "" {
		return fromConfig
	}
	return defaultSocketPath()
}
