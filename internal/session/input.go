package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveInput turns one line of user input into the text actually sent
// to the assistant. A line that is `@path`, an absolute path, a
// `./`/`../`-relative path, or a `~/`-relative path naming a readable
// file is replaced by that file's contents. Unreadable files yield an
// empty string plus a one-line note; anything else passes through.
func ResolveInput(line string) (text, note string) {
	trimmed := strings.TrimSpace(line)

	path := ""
	switch {
	case strings.HasPrefix(trimmed, "@"):
		path = strings.TrimSpace(trimmed[1:])
	case looksLikePath(trimmed):
		path = trimmed
	default:
		return line, ""
	}
	if path == "" {
		return line, ""
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Sprintf("Could not resolve %s: %v", path, err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Sprintf("Could not read %s: %v", path, err)
	}
	return string(data), ""
}

func looksLikePath(s string) bool {
	return filepath.IsAbs(s) ||
		strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "~/")
}
