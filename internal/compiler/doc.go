// Package compiler lowers CUE rule documents into executable IR.
//
// A document holds three kinds of top-level declarations:
//
//	constraint: name: {regex, min_len, max_len, types, literal, tainted}
//	guard: name: {kind, values, pattern, max_len, types, functions, strength, fail_fast, on_trigger, multiplier, arg}
//	rule: "id": {description, cwe, owasp, severity, tags, kind, confidence, trace, match: [...]}
//
// Regular expressions are anchored differently by position. A constraint
// regex searches the argument value and matches anywhere unless it is
// written with ^ and $. A regex guard pattern is wrapped as ^(?:pattern)$
// and must match the whole value.
//
// A guard's arg selects the argument it inspects: a position >= 0, or -1
// for the clause's taint positions (the default).
//
// Each rule compiles independently; a bad rule is reported with its
// source position and removed without affecting the others.
package compiler
