package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// collectPatches gathers the working tree changes an execution produced as
// unified diffs. Directories that are not git repositories yield no patches;
// that is not an error.
func collectPatches(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return nil, nil
	}

	var patches []string

	tracked, err := gitOutput(dir, "diff", "HEAD")
	if err != nil {
		return nil, err
	}
	if tracked != "" {
		patches = append(patches, tracked)
	}

	// Untracked files do not show up in git diff; synthesize a patch per file.
	untrackedList, err := gitOutput(dir, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return patches, err
	}
	for _, name := range strings.Split(untrackedList, "\n") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		patch, err := gitOutput(dir, "diff", "--no-index", "/dev/null", name)
		// git diff --no-index exits 1 when files differ, which they always do
		// against /dev/null, so only an empty patch signals real failure.
		if patch == "" && err != nil {
			continue
		}
		patches = append(patches, patch)
	}

	return patches, nil
}

func gitOutput(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String()
	if err != nil && out == "" {
		return "", fmt.Errorf("git %s failed: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
