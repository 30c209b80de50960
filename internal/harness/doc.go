// Package harness provides conformance testing for taint rule sets.
//
// A scenario pairs rule documents with an entity corpus, runs the full
// compile, index and execute pipeline, and checks the ranked matches.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: core_sinks
//	description: "Core rules rank the four classic sinks"
//	rules:
//	  - "@core"          # embedded core rule set
//	  - extra/xss.cue    # file or directory, relative to the scenario
//	corpus: sinks.yaml   # corpus file, relative to the scenario
//	entities:            # or inline entities, appended after corpus
//	  - id: app.py:10:4
//	    type: sqlite3.Cursor
//	    name: execute
//	    args: [{value: q, tainted: true}]
//	expect:              # the exact ranked match list
//	  - rule: py-sqli-cursor-execute
//	    entity: app.py:10:4
//	    confidence: 0.95
//	assertions:
//	  - type: match_absent
//	    rule: py-path-traversal-open
//	  - type: index_untouched
//	    kinds: [scan, fuzzy]
//
// # Assertion Types
//
//   - match_contains: a match for rule (and entity) exists, with optional
//     severity, tier and min_confidence checks
//   - match_absent: no match for rule (and entity)
//   - match_order: the listed "rule@entity" pairs appear in this order
//   - match_count: exactly count matches, optionally for one rule
//   - compile_error: compiling the rules reported the given error code
//   - index_untouched: the listed index kinds were never queried
//
// # Deterministic Testing
//
// Every scenario runs against a fresh index and an in-memory store with
// sequential run IDs. After the first execution the harness persists the
// run, executes again through the warm match cache and requires the
// replay to hash identically to the stored run.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/core_sinks.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
