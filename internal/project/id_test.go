package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRemote(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"git@github.com:acme/widget.git", "acme-widget"},
		{"git@github.com:acme/widget", "acme-widget"},
		{"https://github.com/acme/widget.git", "acme-widget"},
		{"https://github.com/acme/widget", "acme-widget"},
		{"https://gitlab.example.com:8443/group/sub/repo.git", "group-sub-repo"},
		{"not a url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseRemote(tt.url); got != tt.want {
			t.Errorf("ParseRemote(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestIDPrefersProjectFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, IDFileName), []byte("  my-project \n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := ID(dir); got != "my-project" {
		t.Errorf("ID = %q, want my-project", got)
	}
}

func TestIDFallsBackToBasename(t *testing.T) {
	dir := t.TempDir()
	// No .waypoints-project, no git remote.
	if got := ID(dir); got != filepath.Base(dir) {
		t.Errorf("ID = %q, want %q", got, filepath.Base(dir))
	}
}
