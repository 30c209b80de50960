package harness

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// CorpusDir is the scenario subdirectory reserved for corpus files.
// FindScenarioFiles does not descend into it.
const CorpusDir = "corpus"

// SuiteOptions configures RunSuite.
type SuiteOptions struct {
	// RulesDir resolves relative rule paths. Empty resolves them against
	// each scenario's directory.
	RulesDir string

	// Filter is a glob matched against scenario base names.
	Filter string

	// Update rewrites golden files instead of comparing them.
	Update bool
}

// Golden comparison outcomes.
const (
	GoldenNone     = "none"
	GoldenMatched  = "matched"
	GoldenMismatch = "mismatch"
	GoldenUpdated  = "updated"
)

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Pass    bool     `json:"pass"`
	Matches int      `json:"matches"`
	Golden  string   `json:"golden,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// SuiteResult summarizes a scenario directory.
type SuiteResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// FindScenarioFiles finds all YAML scenario files under dir, sorted.
// Files in CorpusDir and golden directories are skipped.
func FindScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (d.Name() == CorpusDir || d.Name() == "golden") {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	slices.Sort(files)
	return files, err
}

// RunSuite runs every scenario file under dir.
func RunSuite(ctx context.Context, dir string, opts SuiteOptions) (*SuiteResult, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("scenarios directory: %w", err)
	}
	files, err := FindScenarioFiles(dir, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find scenarios: %w", err)
	}

	res := &SuiteResult{Scenarios: make([]ScenarioResult, 0, len(files))}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sr := RunScenarioFile(ctx, f, opts)
		res.Scenarios = append(res.Scenarios, sr)
		res.Total++
		if sr.Pass {
			res.Passed++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// RunScenarioFile loads, runs and golden-checks one scenario file. A
// golden file is optional; when present it must match.
func RunScenarioFile(ctx context.Context, path string, opts SuiteOptions) ScenarioResult {
	base := opts.RulesDir
	if base == "" {
		base = filepath.Dir(path)
	}
	fail := func(name, format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Path: path, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	scenario, err := LoadScenarioWithBasePath(path, base)
	if err != nil {
		return fail(filepath.Base(path), "failed to load scenario: %v", err)
	}
	result, err := RunContext(ctx, scenario)
	if err != nil {
		return fail(scenario.Name, "execution failed: %v", err)
	}

	sr := ScenarioResult{
		Name:    scenario.Name,
		Path:    path,
		Pass:    result.Pass,
		Matches: len(result.Matches),
		Golden:  GoldenNone,
		Errors:  result.Errors,
	}

	golden := GoldenPath(path)
	switch {
	case opts.Update:
		if err := UpdateGolden(golden, scenario.Name, result); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return sr
		}
		sr.Golden = GoldenUpdated
	default:
		if _, err := os.Stat(golden); os.IsNotExist(err) {
			return sr
		}
		ok, err := CompareGolden(golden, scenario.Name, result)
		if err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("golden comparison failed: %v", err))
			return sr
		}
		sr.Golden = GoldenMatched
		if !ok {
			sr.Golden = GoldenMismatch
			sr.Pass = false
			sr.Errors = append(sr.Errors, "matches do not match golden file (run with --update to regenerate)")
		}
	}
	return sr
}
