package compiler

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/trcr/internal/corerules"
)

// CoreRules names the embedded core rule set in a source path list.
const CoreRules = "@core"

// ReadSources reads rule documents from paths. A path is a .cue file, a
// directory searched recursively for .cue files, or CoreRules. Sources
// are returned in path order, files within a directory sorted by name.
func ReadSources(paths ...string) ([]Source, error) {
	var out []Source
	for _, p := range paths {
		if p == CoreRules {
			out = append(out, Source{Filename: corerules.Filename, Data: corerules.Bytes()})
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("read sources: %w", err)
		}
		files := []string{p}
		if info.IsDir() {
			if files, err = FindCUEFiles(p); err != nil {
				return nil, fmt.Errorf("read sources: %w", err)
			}
			if len(files) == 0 {
				return nil, fmt.Errorf("read sources: no .cue files in %s", p)
			}
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("read sources: %w", err)
			}
			out = append(out, Source{Filename: f, Data: data})
		}
	}
	return out, nil
}

// FindCUEFiles walks dir and returns all .cue file paths, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}
