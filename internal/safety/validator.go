// Package safety statically vets candidate SQL before any execution is
// attempted. Validation is purely textual: a candidate is rejected for
// mutating keywords, for stacked statements, or for referencing tables
// and columns that do not exist in the introspected schema. A rejected
// candidate never reaches the executor.
package safety

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlmedic/sqlmedic/internal/schema"
)

// Rule names the validation rule a candidate violated.
type Rule string

const (
	RuleEmpty             Rule = "empty-statement"
	RuleUnsafeOperation   Rule = "unsafe-operation"
	RuleMultiStatement    Rule = "multi-statement"
	RuleUnknownIdentifier Rule = "unknown-identifier"
)

// Outcome is the result of validating one candidate. Rule and Reason
// are set only when Allowed is false.
type Outcome struct {
	Allowed bool   `json:"allowed"`
	Rule    Rule   `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func accepted() Outcome { return Outcome{Allowed: true} }

func rejected(rule Rule, format string, args ...any) Outcome {
	return Outcome{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks candidates against a fixed rule set and a schema
// description. It holds no mutable state and is safe for concurrent use.
type Validator struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Validator {
	return &Validator{log: log}
}

// Validate inspects one candidate statement. The checks run in a fixed
// order: empty input, stacked statements, write operations, identifier
// grounding. The first violated rule wins.
func (v *Validator) Validate(candidate string, desc *schema.Description) Outcome {
	toks := scan(candidate)
	toks = trimTrailingSemicolons(toks)
	if len(toks) == 0 {
		return v.reject(rejected(RuleEmpty, "statement is empty"))
	}

	for _, tok := range toks {
		if tok.kind == tokenPunct && tok.text == ";" {
			return v.reject(rejected(RuleMultiStatement, "statement contains multiple semicolon-separated statements; submit exactly one query"))
		}
	}

	if first, ok := firstWord(toks); ok {
		if w := first.lower(); w != "select" && w != "with" {
			return v.reject(rejected(RuleUnsafeOperation, "only read-only queries are allowed; statement begins with %q", strings.ToUpper(first.text)))
		}
	} else {
		return v.reject(rejected(RuleEmpty, "statement contains no SQL keywords"))
	}

	for _, tok := range toks {
		if isMutating(tok) {
			return v.reject(rejected(RuleUnsafeOperation, "statement contains mutating keyword %q", strings.ToUpper(tok.text)))
		}
	}

	if out := checkIdentifiers(toks, desc); !out.Allowed {
		return v.reject(out)
	}
	return accepted()
}

func (v *Validator) reject(out Outcome) Outcome {
	v.log.Debug("safety: rejected candidate", "rule", out.Rule, "reason", out.Reason)
	return out
}

func trimTrailingSemicolons(toks []token) []token {
	for len(toks) > 0 {
		last := toks[len(toks)-1]
		if last.kind == tokenPunct && last.text == ";" {
			toks = toks[:len(toks)-1]
			continue
		}
		break
	}
	return toks
}

func firstWord(toks []token) (token, bool) {
	for _, tok := range toks {
		if tok.kind == tokenWord {
			return tok, true
		}
	}
	return token{}, false
}

// checkIdentifiers grounds every table and column reference in the
// schema. The pass is heuristic rather than a full parse: it resolves
// CTE names, table aliases, and output aliases first, then requires
// every remaining identifier to name a known table or column
// (case-insensitive). Qualified references are checked against the
// qualifier's table when the qualifier resolves to a single base table.
func checkIdentifiers(toks []token, desc *schema.Description) Outcome {
	// alias name (lowercased) -> base table name, or "" when it aliases
	// something we cannot ground statically (CTE, derived table).
	aliases := collectAliases(toks, desc)

	for i, tok := range toks {
		if tok.kind != tokenWord && tok.kind != tokenQuoted {
			continue
		}
		if isKeyword(tok) || isMutating(tok) {
			continue
		}
		// function call: lower( , count( , date_trunc( ...
		if tok.kind == tokenWord && nextIsPunct(toks, i, "(") {
			continue
		}
		name := tok.lower()
		if _, ok := aliases[name]; ok && !prevIsPunct(toks, i, ".") {
			continue
		}

		if prevIsPunct(toks, i, ".") {
			// qualified column reference: resolve the qualifier
			q, ok := tokenBefore(toks, i-1)
			if !ok {
				continue
			}
			qname := q.lower()
			if base, isAlias := aliases[qname]; isAlias {
				if base == "" {
					continue // CTE or derived table; columns not statically known
				}
				if table, ok := desc.Lookup(base); ok {
					if _, ok := table.Lookup(name); !ok {
						return rejected(RuleUnknownIdentifier, "column %q does not exist in table %q", tok.text, table.Name)
					}
				}
				continue
			}
			if table, ok := desc.Lookup(qname); ok {
				if _, ok := table.Lookup(name); !ok {
					return rejected(RuleUnknownIdentifier, "column %q does not exist in table %q", tok.text, table.Name)
				}
				continue
			}
			return rejected(RuleUnknownIdentifier, "unknown table or alias %q", q.text)
		}

		// the qualifier itself is checked when its column token is reached
		if nextIsPunct(toks, i, ".") {
			if desc.HasTable(name) {
				continue
			}
			if _, ok := aliases[name]; ok {
				continue
			}
			return rejected(RuleUnknownIdentifier, "unknown table or alias %q", tok.text)
		}

		if desc.HasTable(name) || desc.HasColumn(name) {
			continue
		}
		return rejected(RuleUnknownIdentifier, "identifier %q not found in schema", tok.text)
	}
	return accepted()
}

// collectAliases gathers names a statement defines itself: CTE names
// (ident AS left of an opening paren), aliases introduced with AS, and
// bare table aliases in FROM/JOIN lists. Aliases of base tables map to
// the table name so qualified references stay checkable.
func collectAliases(toks []token, desc *schema.Description) map[string]string {
	aliases := make(map[string]string)
	fromClause := false

	for i, tok := range toks {
		if tok.kind == tokenWord {
			switch tok.lower() {
			case "from", "join":
				fromClause = true
			case "select", "where", "on", "group", "order", "having", "limit",
				"union", "intersect", "except", "and", "or", "when", "then", "case":
				fromClause = false
			}
		}

		if tok.kind != tokenWord && tok.kind != tokenQuoted {
			continue
		}
		if isKeyword(tok) || isMutating(tok) {
			continue
		}
		if prevIsPunct(toks, i, ".") || nextIsPunct(toks, i, ".") {
			continue
		}

		prev, hasPrev := tokenBefore(toks, i-1)

		// CTE definition: name AS (
		if nextWordIs(toks, i, "as") && punctAfterWord(toks, i, "as", "(") {
			aliases[tok.lower()] = ""
			continue
		}

		if !hasPrev {
			continue
		}

		// alias introduced with AS: resolves to the preceding table when
		// one directly precedes (FROM Patients AS p), otherwise opaque
		// (derived tables, output aliases).
		if prev.isWord("as") {
			base := ""
			if before, ok := tokenBefore(toks, i-2); ok && fromClause {
				if t, found := desc.Lookup(before.lower()); found {
					base = t.Name
				}
			}
			aliases[tok.lower()] = base
			continue
		}

		// bare alias in a FROM list: FROM Patients p / (subquery) t
		if fromClause {
			if t, found := desc.Lookup(prev.lower()); found && (prev.kind == tokenWord || prev.kind == tokenQuoted) {
				if !desc.HasTable(tok.lower()) && !desc.HasColumn(tok.lower()) {
					aliases[tok.lower()] = t.Name
				}
				continue
			}
			if prev.kind == tokenPunct && prev.text == ")" {
				aliases[tok.lower()] = ""
			}
		}
	}
	return aliases
}

func nextIsPunct(toks []token, i int, p string) bool {
	if i+1 >= len(toks) {
		return false
	}
	next := toks[i+1]
	return next.kind == tokenPunct && next.text == p
}

func prevIsPunct(toks []token, i int, p string) bool {
	if i == 0 {
		return false
	}
	prev := toks[i-1]
	return prev.kind == tokenPunct && prev.text == p
}

func tokenBefore(toks []token, i int) (token, bool) {
	if i < 0 || i >= len(toks) {
		return token{}, false
	}
	return toks[i], true
}

func nextWordIs(toks []token, i int, w string) bool {
	if i+1 >= len(toks) {
		return false
	}
	return toks[i+1].isWord(w)
}

func punctAfterWord(toks []token, i int, w, p string) bool {
	if i+2 >= len(toks) {
		return false
	}
	return toks[i+1].isWord(w) && toks[i+2].kind == tokenPunct && toks[i+2].text == p
}
