package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const envGraftAdaptersDir = "GRAFT_ADAPTERS_DIR"

// resolveAdaptersDir picks the adapter directory from the flag, then the
// environment. When create is set the directory is made if missing.
func resolveAdaptersDir(flag string, create bool) (string, error) {
	dir := strings.TrimSpace(flag)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envGraftAdaptersDir))
	}
	if dir == "" {
		return "", fmt.Errorf("--dir is required unless %s is set", envGraftAdaptersDir)
	}
	dir = filepath.Clean(dir)
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		return dir, nil
	}
	st, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return "", fmt.Errorf("adapters path is not a directory: %s", dir)
	}
	return dir, nil
}

// splitNames turns "a,b" and repeated flags into a clean name list. Later
// repeats of a name are dropped.
func splitNames(values []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range values {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}
