package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the encoding to change later.
const (
	DomainEntity     = "trcr/entity/v1"
	DomainPlan       = "trcr/plan/v1"
	DomainExecutable = "trcr/executable/v1"
	DomainMatches    = "trcr/matches/v1"
	DomainRuleSet    = "trcr/ruleset/v1"
	DomainCorpus     = "trcr/corpus/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps domain and data boundaries unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PlanHash identifies everything that determines whether x matches an
// entity. Cached outcomes are only reused when the plan hash agrees.
func PlanHash(x *TaintRuleExecIR) (string, error) {
	canonical, err := MarshalCanonical(x.Canonical())
	if err != nil {
		return "", fmt.Errorf("PlanHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPlan, canonical), nil
}

// ExecutableID computes the content-addressed id of a merged executable
// from its plan key and the plan hashes of its dispatch targets.
func ExecutableID(planKey string, dispatchHashes []string) (string, error) {
	obj := IRObject{
		"plan":     IRString(planKey),
		"dispatch": stringArray(dispatchHashes),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ExecutableID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainExecutable, canonical), nil
}

// RuleSetHash identifies a compiled rule set by its executables in order.
func RuleSetHash(rules []*TaintRuleExecutableIR) (string, error) {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	canonical, err := MarshalCanonical(stringArray(ids))
	if err != nil {
		return "", fmt.Errorf("RuleSetHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRuleSet, canonical), nil
}

// MatchesHash hashes the canonical encoding of a ranked match list.
func MatchesHash(ms []Match) (string, error) {
	canonical, err := CanonicalMatches(ms)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainMatches, canonical), nil
}

// CorpusHash identifies a corpus by the fingerprints of its entities,
// independent of their order.
func CorpusHash(entities []Entity) (string, error) {
	fps := make([]string, len(entities))
	for i, e := range entities {
		fp, err := EntityFingerprint(e)
		if err != nil {
			return "", fmt.Errorf("CorpusHash: entity %q: %w", e.ID(), err)
		}
		fps[i] = fp
	}
	slices.Sort(fps)
	canonical, err := MarshalCanonical(stringArray(fps))
	if err != nil {
		return "", fmt.Errorf("CorpusHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCorpus, canonical), nil
}

// MustPlanHash is like PlanHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPlanHash(x *TaintRuleExecIR) string {
	h, err := PlanHash(x)
	if err != nil {
		panic(err)
	}
	return h
}
