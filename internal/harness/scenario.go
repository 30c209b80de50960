package harness

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/trcr/internal/compiler"
	"github.com/roach88/trcr/internal/corpus"
	"github.com/roach88/trcr/internal/ir"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules lists rule document paths: .cue files, directories, or
	// compiler.CoreRules.
	Rules []string `yaml:"rules"`

	// Corpus is an optional corpus file.
	Corpus string `yaml:"corpus,omitempty"`

	// Entities are inline corpus entities, added after Corpus.
	Entities []*corpus.Entity `yaml:"entities,omitempty"`

	// CacheSize bounds the match cache. Zero uses DefaultCacheSize.
	CacheSize int `yaml:"cache_size,omitempty"`

	// MaxCandidates is the candidate budget. Zero means unlimited.
	MaxCandidates int `yaml:"max_candidates,omitempty"`

	// Expect, when present, is the exact ranked match list.
	Expect []ExpectedMatch `yaml:"expect,omitempty"`

	// Assertions validate the result beyond Expect.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir resolves relative Corpus paths.
	dir string
}

// ExpectedMatch is one entry of Scenario.Expect. Unset optional fields
// are not checked.
type ExpectedMatch struct {
	Rule       string   `yaml:"rule"`
	Entity     string   `yaml:"entity"`
	Confidence *float64 `yaml:"confidence,omitempty"`
	Severity   string   `yaml:"severity,omitempty"`
	Tier       string   `yaml:"tier,omitempty"`
}

// Assertion validates the match list, the compile errors or the index
// counters.
type Assertion struct {
	// Type specifies the assertion type, one of the Assert* constants.
	Type string `yaml:"type"`

	// Rule filters by rule id (match_contains, match_absent, match_count).
	Rule string `yaml:"rule,omitempty"`

	// Entity filters by entity id (match_contains, match_absent).
	Entity string `yaml:"entity,omitempty"`

	// Severity and Tier are checked by match_contains when set.
	Severity string `yaml:"severity,omitempty"`
	Tier     string `yaml:"tier,omitempty"`

	// MinConfidence is a lower bound checked by match_contains.
	MinConfidence float64 `yaml:"min_confidence,omitempty"`

	// Count is the expected number of matches (match_count).
	Count int `yaml:"count,omitempty"`

	// Matches lists "rule@entity" pairs in expected order (match_order).
	Matches []string `yaml:"matches,omitempty"`

	// Code is the expected compile error code (compile_error).
	Code string `yaml:"code,omitempty"`

	// Kinds lists index kinds that must not be queried (index_untouched).
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertMatchContains  = "match_contains"
	AssertMatchAbsent    = "match_absent"
	AssertMatchOrder     = "match_order"
	AssertMatchCount     = "match_count"
	AssertCompileError   = "compile_error"
	AssertIndexUntouched = "index_untouched"
)

// LoadScenario reads and parses a scenario YAML file. Rule and corpus
// paths are resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving rule paths relative to basePath. Corpus paths stay relative
// to the scenario file.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	scenario.dir = filepath.Dir(path)
	for i, p := range scenario.Rules {
		if p != compiler.CoreRules && !filepath.IsAbs(p) && basePath != "" {
			scenario.Rules[i] = filepath.Join(basePath, p)
		}
	}
	if scenario.Corpus != "" && !filepath.IsAbs(scenario.Corpus) {
		scenario.Corpus = filepath.Join(scenario.dir, scenario.Corpus)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Rules) == 0 {
		return fmt.Errorf("rules list is required and must be non-empty")
	}
	if s.Corpus == "" && len(s.Entities) == 0 {
		return fmt.Errorf("corpus or entities is required")
	}
	if s.Expect == nil && len(s.Assertions) == 0 {
		return fmt.Errorf("expect or assertions is required")
	}
	if s.CacheSize < 0 {
		return fmt.Errorf("cache_size must be non-negative")
	}
	if s.MaxCandidates < 0 {
		return fmt.Errorf("max_candidates must be non-negative")
	}

	for _, p := range s.Rules {
		if p == compiler.CoreRules {
			continue
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("rule file not found: %s", p)
		}
	}
	if s.Corpus != "" {
		if _, err := os.Stat(s.Corpus); os.IsNotExist(err) {
			return fmt.Errorf("corpus file not found: %s", s.Corpus)
		}
	}
	if len(s.Entities) > 0 {
		if err := (&corpus.File{Entities: s.Entities}).Validate(); err != nil {
			return fmt.Errorf("entities: %w", err)
		}
	}

	for i, e := range s.Expect {
		if e.Rule == "" || e.Entity == "" {
			return fmt.Errorf("expect[%d]: rule and entity are required", i)
		}
		if c := e.Confidence; c != nil && (math.IsNaN(*c) || *c < 0 || *c > 1) {
			return fmt.Errorf("expect[%d]: confidence must be in [0,1]", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertMatchContains, AssertMatchAbsent:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for %s", index, a.Type)
		}
	case AssertMatchOrder:
		if len(a.Matches) < 2 {
			return fmt.Errorf("assertions[%d]: at least two matches are required for match_order", index)
		}
		for _, m := range a.Matches {
			if rule, entity, ok := strings.Cut(m, "@"); !ok || rule == "" || entity == "" {
				return fmt.Errorf("assertions[%d]: %q is not rule@entity", index, m)
			}
		}
	case AssertMatchCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for match_count", index)
		}
	case AssertCompileError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for compile_error", index)
		}
	case AssertIndexUntouched:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for index_untouched", index)
		}
		for _, k := range a.Kinds {
			if !slices.Contains(ir.AllIndexKinds, ir.IndexKind(k)) {
				return fmt.Errorf("assertions[%d]: unknown index kind %q", index, k)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
