package plugins

import (
	"os"
	"path/filepath"
	"strings"
)

// LADSPASearchPaths returns the directories searched, in order, for the
// RNNoise noise-suppression plugin: next to the running executable, its
// sibling ../lib, the system LADSPA directories, configPath (the
// daemon's configured ladspa_path, if set), and finally whatever the
// LADSPA_PATH environment variable names.
func LADSPASearchPaths(configPath string) []string {
	var paths []string

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths, dir, filepath.Join(dir, "..", "lib"))
	}

	paths = append(paths,
		"/usr/lib/ladspa",
		"/usr/local/lib/ladspa",
		"/usr/lib/x86_64-linux-gnu/ladspa",
	)

	if configPath != "" {
		paths = append(paths, strings.Split(configPath, string(os.PathListSeparator))...)
	}

	if env := os.Getenv("LADSPA_PATH"); env != "" {
		paths = append(paths, strings.Split(env, string(os.PathListSeparator))...)
	}

	return paths
}

// FindRNNoise searches LADSPASearchPaths for the RNNoise plugin shared
// object, returning the first match.
func FindRNNoise(configPath string) (string, bool) {
	const filename = "librnnoise_ladspa.so"
	for _, dir := range LADSPASearchPaths(configPath) {
		candidate := filepath.Join(dir, filename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}
