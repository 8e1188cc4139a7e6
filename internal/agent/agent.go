// Package agent holds the two reasoning contracts of the repair loop:
// the Generator, which turns a question and a schema into candidate
// SQL, and the Critic, which judges whether a candidate's outcome
// answers the question. The loop depends only on the interfaces, so the
// LLM-backed implementations here can be swapped for rule-based or
// human-in-the-loop judges without touching the orchestration.
package agent

import (
	"context"

	"github.com/sqlmedic/sqlmedic/internal/dbexec"
	"github.com/sqlmedic/sqlmedic/internal/safety"
	"github.com/sqlmedic/sqlmedic/internal/schema"
)

// Candidate is one generated SQL statement with the model's stated
// reasoning. The rationale is kept for the audit trail and shown to the
// critic, but only the SQL is validated and executed.
type Candidate struct {
	SQL       string `json:"sql"`
	Rationale string `json:"rationale"`
}

// Feedback pairs a rejected candidate with the verdict it drew, so a
// retry can show the generator everything that already failed.
type Feedback struct {
	SQL     string
	Verdict Verdict
}

// GenerateRequest carries everything a generator may use: the question,
// the schema grounding, and on retries the full rejection history in
// order, oldest first.
type GenerateRequest struct {
	Question string
	Schema   *schema.Description
	Feedback []Feedback
}

// Generator produces one candidate per call. A returned error means the
// generator is unable to produce anything at all; it aborts the session.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Candidate, error)
}

// Verdict is the critic's judgment of one attempt. Category and
// Feedback are set only on rejection; Feedback is written to be usable
// as generator guidance.
type Verdict struct {
	Approved bool   `json:"approved"`
	Category string `json:"category,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// Rejected constructs a rejection verdict.
func Rejected(category, feedback string) Verdict {
	return Verdict{Category: category, Feedback: feedback}
}

// Defect categories the critic emits. The set is open: validator
// rejections are mirrored under their rule name, and LLM judgments may
// introduce finer-grained categories than the ones listed here.
const (
	CategoryWrongTable           = "wrong-table"
	CategoryWrongAggregation     = "wrong-aggregation"
	CategoryWrongFilter          = "wrong-filter"
	CategoryExecutionError       = "execution-error"
	CategoryEmptyResultSuspected = "empty-result-suspected"
	CategoryCriticError          = "critic-error"
)

// CritiqueRequest carries one attempt's full outcome. Execution is nil
// when validation rejected the candidate and nothing was executed.
type CritiqueRequest struct {
	Question   string
	Candidate  Candidate
	Schema     *schema.Description
	Validation safety.Outcome
	Execution  *dbexec.Result
}

// Critic judges one attempt. Implementations must check structural
// validity before semantics: a validation rejection is mirrored
// verbatim and an execution error is classified as such, without any
// semantic claim in either case. A returned error means the critic
// itself failed (not that the attempt was rejected).
type Critic interface {
	Critique(ctx context.Context, req CritiqueRequest) (Verdict, error)
}
