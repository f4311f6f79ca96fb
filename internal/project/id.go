// Package project derives a stable project identifier used to key the
// per-project knowledge store.
package project

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// IDFileName pins the project id explicitly when present.
const IDFileName = ".waypoints-project"

var (
	sshRemoteRe   = regexp.MustCompile(`^[\w.-]+@[\w.-]+:(.+?)(?:\.git)?$`)
	httpsRemoteRe = regexp.MustCompile(`^https?://[\w.-]+(?::\d+)?/(.+?)(?:\.git)?/?$`)
)

// ID resolves the project identifier for a directory. Preference order:
// the .waypoints-project file, the origin git remote, the directory
// basename.
func ID(projectDir string) string {
	if data, err := os.ReadFile(filepath.Join(projectDir, IDFileName)); err == nil {
		if id := sanitize(strings.TrimSpace(string(data))); id != "" {
			return id
		}
	}
	if id := fromGitRemote(projectDir); id != "" {
		return id
	}
	return sanitize(filepath.Base(absOrSelf(projectDir)))
}

// fromGitRemote derives an id from `git remote get-url origin`.
func fromGitRemote(projectDir string) string {
	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = projectDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return ParseRemote(strings.TrimSpace(string(out)))
}

// ParseRemote extracts an org/repo identifier from an SSH or HTTPS git
// remote URL. Returns "" when the URL is unrecognized.
func ParseRemote(url string) string {
	for _, re := range []*regexp.Regexp{sshRemoteRe, httpsRemoteRe} {
		if m := re.FindStringSubmatch(url); m != nil {
			return sanitize(m[1])
		}
	}
	return ""
}

// sanitize maps an id onto a filesystem-safe directory name.
func sanitize(id string) string {
	id = strings.Trim(id, "/")
	return strings.ReplaceAll(id, "/", "-")
}

func absOrSelf(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}
