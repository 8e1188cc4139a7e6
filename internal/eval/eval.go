// Package eval scores the question-to-SQL loop against a file of
// reference cases. Each case runs a full session; the generated SQL is
// compared to the reference first by normalized exact match, then by an
// LLM judge that decides semantic equivalence. Cases run concurrently
// on a bounded pool and the harness never aborts on a failing case: a
// failure is a row in the summary, not an error.
package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Case is one evaluation entry: a natural-language question and the
// reference SQL a correct system would produce for it.
type Case struct {
	ID          string `json:"id,omitempty"`
	Question    string `json:"question"`
	ExpectedSQL string `json:"expected_sql"`
}

// Outcome classifies how a case ended.
type Outcome string

const (
	// OutcomeExactMatch means the generated SQL matched the reference
	// after trimming whitespace, a trailing semicolon, and case.
	OutcomeExactMatch Outcome = "exact-match"
	// OutcomeEquivalent means the judge ruled the queries semantically
	// equivalent despite textual differences.
	OutcomeEquivalent Outcome = "equivalent"
	// OutcomeNotEquivalent means the judge ruled the queries answer
	// different questions.
	OutcomeNotEquivalent Outcome = "not-equivalent"
	// OutcomeNotAccepted means the session exhausted its attempts
	// without an accepted query.
	OutcomeNotAccepted Outcome = "not-accepted"
	// OutcomeError means the session or the judge failed outright.
	OutcomeError Outcome = "error"
)

// Passed reports whether the outcome counts toward the pass rate.
func (o Outcome) Passed() bool {
	return o == OutcomeExactMatch || o == OutcomeEquivalent
}

// Report is the scored result of a single case.
type Report struct {
	Case         Case          `json:"case"`
	Outcome      Outcome       `json:"outcome"`
	GeneratedSQL string        `json:"generated_sql,omitempty"`
	Attempts     int           `json:"attempts"`
	Detail       string        `json:"detail,omitempty"`
	Diff         string        `json:"diff,omitempty"`
	Duration     time.Duration `json:"-"`
}

// Summary aggregates the reports of one harness run. Reports keep the
// order of the input cases.
type Summary struct {
	Reports  []Report      `json:"reports"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"-"`
}

// Total returns the number of evaluated cases.
func (s *Summary) Total() int {
	return len(s.Reports)
}

// PassRate returns the fraction of cases that passed, in [0, 1].
func (s *Summary) PassRate() float64 {
	if len(s.Reports) == 0 {
		return 0
	}
	return float64(s.Passed) / float64(len(s.Reports))
}

// LoadCases reads a JSONL case file: one JSON object per line, blank
// lines skipped. Cases without an ID get a positional one.
func LoadCases(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cases file: %w", err)
	}
	defer f.Close()

	var cases []Case
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("failed to parse case on line %d: %w", line, err)
		}
		if c.Question == "" {
			return nil, fmt.Errorf("case on line %d has no question", line)
		}
		if c.ExpectedSQL == "" {
			return nil, fmt.Errorf("case on line %d has no expected_sql", line)
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("case-%02d", len(cases)+1)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cases file: %w", err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("cases file %s is empty", path)
	}

	return cases, nil
}

// normalizeSQL folds the differences exact matching should ignore:
// surrounding whitespace, one trailing semicolon, and letter case.
func normalizeSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")
	sql = strings.TrimSpace(sql)
	return strings.ToLower(sql)
}
