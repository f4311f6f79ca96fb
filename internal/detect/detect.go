// Package detect provides technology-profile detection and source
// classification for a project tree.
package detect

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/randalmurphal/waypoints/internal/config"
)

const (
	// fileScore is awarded per detection file present in the project.
	fileScore = 10
	// patternScore is awarded per detection pattern with at least one match.
	patternScore = 5
	// maxWalkFiles bounds the tree walk on very large projects.
	maxWalkFiles = 20000
)

// skipDirs are directory names excluded from the tree walk.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".venv":        true,
	".idea":        true,
}

// Result is the outcome of profile detection.
type Result struct {
	Profile config.Profile
	Score   int
}

// Detect scores every profile against the project tree and returns the
// highest scorer. Ties are broken by profile iteration order. An
// override pins the profile regardless of scoring.
func Detect(projectDir string, cfg *config.Config, override *config.Override) (*Result, error) {
	if override != nil && override.ActiveProfile != "" {
		if p, ok := cfg.Profiles[override.ActiveProfile]; ok {
			return &Result{Profile: p, Score: -1}, nil
		}
	}

	files, err := listFiles(projectDir)
	if err != nil {
		return nil, err
	}

	var best *Result
	for _, id := range cfg.ProfileIDs() {
		p := cfg.Profiles[id]
		score := scoreProfile(projectDir, p, files)
		if best == nil || score > best.Score {
			best = &Result{Profile: p, Score: score}
		}
	}
	return best, nil
}

func scoreProfile(projectDir string, p config.Profile, files []string) int {
	score := 0
	for _, f := range p.Detection.Files {
		if _, err := os.Stat(filepath.Join(projectDir, f)); err == nil {
			score += fileScore
		}
	}
	for _, pattern := range p.Detection.Patterns {
		for _, f := range files {
			if MatchPath(pattern, f) {
				score += patternScore
				break
			}
		}
	}
	return score
}

// listFiles walks the project tree and returns slash-separated paths
// relative to the project root.
func listFiles(projectDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries do not abort detection
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != projectDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		if len(files) >= maxWalkFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Classification reports which source classes a path belongs to.
// Classes are independent: a path may be both test and config.
type Classification struct {
	Main   bool
	Test   bool
	Config bool
}

// Classify matches a file path against a profile's source patterns.
func Classify(p config.Profile, path string) Classification {
	return Classification{
		Main:   MatchAny(p.SourcePatterns.Main, path),
		Test:   MatchAny(p.SourcePatterns.Test, path),
		Config: MatchAny(p.SourcePatterns.Config, path),
	}
}
