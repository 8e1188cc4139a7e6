package safety

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuoted
	tokenNumber
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

func (t token) lower() string { return strings.ToLower(t.text) }

func (t token) isWord(s string) bool {
	return t.kind == tokenWord && t.lower() == s
}

// scan splits a statement into identifier, number, and punctuation
// tokens. String literals and comments are consumed and dropped so the
// later checks never mistake their contents for keywords or identifiers.
// Unterminated literals and comments swallow the rest of the input; the
// database would reject such a statement anyway.
func scan(sql string) []token {
	var toks []token
	runes := []rune(sql)
	i := 0
	n := len(runes)

	for i < n {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
		case c == '\'':
			i++
			for i < n {
				if runes[i] == '\'' {
					// '' escapes a quote inside the literal
					if i+1 < n && runes[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '"':
			start := i + 1
			i++
			var ident strings.Builder
			for i < n {
				if runes[i] == '"' {
					if i+1 < n && runes[i+1] == '"' {
						ident.WriteString(string(runes[start:i]) + `"`)
						i += 2
						start = i
						continue
					}
					break
				}
				i++
			}
			ident.WriteString(string(runes[start:min(i, n)]))
			toks = append(toks, token{kind: tokenQuoted, text: ident.String()})
			i++
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < n && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '$') {
				i++
			}
			toks = append(toks, token{kind: tokenWord, text: string(runes[start:i])})
		case unicode.IsDigit(c):
			start := i
			for i < n && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' || runes[i] == 'E' ||
				((runes[i] == '+' || runes[i] == '-') && (runes[i-1] == 'e' || runes[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, token{kind: tokenNumber, text: string(runes[start:i])})
		default:
			toks = append(toks, token{kind: tokenPunct, text: string(c)})
			i++
		}
	}
	return toks
}

// mutatingKeywords are rejected anywhere in a statement, regardless of
// case or position. The list covers DML, DDL, DCL, and the engine
// commands (COPY, ATTACH, PRAGMA, ...) that can write or reconfigure.
var mutatingKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "alter": {},
	"create": {}, "truncate": {}, "merge": {}, "replace": {}, "grant": {},
	"revoke": {}, "vacuum": {}, "copy": {}, "attach": {}, "detach": {},
	"call": {}, "set": {}, "pragma": {}, "install": {}, "load": {},
	"import": {}, "export": {},
}

// sqlKeywords are words with reserved meaning in read-only statements.
// They are excluded from identifier grounding. Type names and date parts
// are included because they appear bare in CAST and EXTRACT expressions.
var sqlKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "group": {}, "by": {}, "order": {},
	"having": {}, "limit": {}, "offset": {}, "fetch": {}, "first": {}, "next": {},
	"rows": {}, "row": {}, "only": {}, "join": {}, "inner": {}, "left": {},
	"right": {}, "full": {}, "outer": {}, "cross": {}, "natural": {}, "on": {},
	"using": {}, "as": {}, "and": {}, "or": {}, "not": {}, "in": {}, "is": {},
	"null": {}, "distinct": {}, "all": {}, "any": {}, "some": {}, "case": {},
	"when": {}, "then": {}, "else": {}, "end": {}, "like": {}, "ilike": {},
	"similar": {}, "between": {}, "exists": {}, "union": {}, "intersect": {},
	"except": {}, "asc": {}, "desc": {}, "nulls": {}, "last": {}, "with": {},
	"recursive": {}, "cast": {}, "interval": {}, "extract": {}, "escape": {},
	"filter": {}, "over": {}, "partition": {}, "range": {}, "preceding": {},
	"following": {}, "unbounded": {}, "current": {}, "true": {}, "false": {},
	"values": {}, "at": {}, "zone": {}, "both": {}, "leading": {}, "trailing": {},
	"for": {}, "to": {}, "collate": {}, "lateral": {}, "ordinality": {},
	"group_concat": {}, "current_date": {}, "current_time": {}, "current_timestamp": {},
	// type names
	"integer": {}, "int": {}, "bigint": {}, "smallint": {}, "numeric": {},
	"decimal": {}, "real": {}, "double": {}, "precision": {}, "float": {},
	"varchar": {}, "char": {}, "character": {}, "varying": {}, "text": {},
	"date": {}, "time": {}, "timestamp": {}, "timestamptz": {}, "boolean": {},
	"bool": {},
	// date parts
	"year": {}, "month": {}, "day": {}, "hour": {}, "minute": {}, "second": {},
	"quarter": {}, "week": {}, "dow": {}, "doy": {}, "epoch": {}, "decade": {},
	"century": {}, "millennium": {},
}

func isKeyword(tok token) bool {
	if tok.kind != tokenWord {
		return false
	}
	_, ok := sqlKeywords[tok.lower()]
	return ok
}

func isMutating(tok token) bool {
	if tok.kind != tokenWord {
		return false
	}
	_, ok := mutatingKeywords[tok.lower()]
	return ok
}
