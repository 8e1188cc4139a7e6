// Package session orchestrates the generate-validate-execute-critique
// loop for one natural language question. Each attempt flows through
// four stages: an LLM generates candidate SQL, the safety validator
// vets it textually, the executor runs it read-only, and the critic
// judges the outcome. Rejected attempts feed their verdicts back into
// the next generation, and the loop ends on the first approval or when
// the attempt budget runs out. Running out of attempts is a terminal
// result with a full trail, not an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sqlmedic/sqlmedic/internal/agent"
	"github.com/sqlmedic/sqlmedic/internal/dbexec"
	"github.com/sqlmedic/sqlmedic/internal/metrics"
	"github.com/sqlmedic/sqlmedic/internal/safety"
	"github.com/sqlmedic/sqlmedic/internal/schema"
)

// DefaultMaxAttempts bounds the loop when the configuration does not.
const DefaultMaxAttempts = 3

// Fatal session errors. Everything else the loop can recover from by
// retrying; these two mean no attempt can even be made.
var (
	// ErrIntrospection means the schema could not be read, so generation
	// has nothing to ground on.
	ErrIntrospection = errors.New("schema introspection failed")

	// ErrGeneration means the generator could not produce a candidate at
	// all (as opposed to producing a bad one, which the loop handles).
	ErrGeneration = errors.New("sql generation failed")
)

// Stage identifies a phase of the loop, for progress reporting and
// metrics.
type Stage string

const (
	StageIntrospecting Stage = "introspecting"
	StageGenerating    Stage = "generating"
	StageValidating    Stage = "validating"
	StageExecuting     Stage = "executing"
	StageCritiquing    Stage = "critiquing"
)

// ProgressEvent notifies an observer that a session entered a stage.
// Attempt is zero for introspection, which happens once per session.
type ProgressEvent struct {
	SessionID uuid.UUID
	Stage     Stage
	Attempt   int
}

// Validator vets one candidate statement against the schema.
type Validator interface {
	Validate(candidate string, desc *schema.Description) safety.Outcome
}

// Executor runs one read-only statement. Database errors come back
// inside the result, not as Go errors.
type Executor interface {
	Execute(ctx context.Context, sqlText string) dbexec.Result
}

// Attempt records one full pass through the loop: what was generated,
// how far it got, and why it was accepted or rejected.
type Attempt struct {
	Number     int             `json:"number"`
	Candidate  agent.Candidate `json:"candidate"`
	Validation safety.Outcome  `json:"validation"`
	Execution  *dbexec.Result  `json:"execution,omitempty"`
	Verdict    agent.Verdict   `json:"verdict"`
	Duration   time.Duration   `json:"-"`
}

// Result is the terminal state of one session. When Accepted is false
// the attempt trail and FailureReason explain what was tried and why
// each attempt failed.
type Result struct {
	ID            uuid.UUID        `json:"id"`
	Question      string           `json:"question"`
	Accepted      bool             `json:"accepted"`
	SQL           string           `json:"sql,omitempty"`
	Rationale     string           `json:"rationale,omitempty"`
	Columns       []string         `json:"columns,omitempty"`
	Rows          []map[string]any `json:"rows,omitempty"`
	Truncated     bool             `json:"truncated,omitempty"`
	Attempts      []Attempt        `json:"attempts"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Duration      time.Duration    `json:"-"`
}

// Config holds the wiring for a session runner.
type Config struct {
	Logger       *slog.Logger
	Introspector schema.Introspector
	Validator    Validator
	Executor     Executor
	Generator    agent.Generator
	Critic       agent.Critic

	// MaxAttempts bounds the loop (default 3).
	MaxAttempts int

	// Per-stage timeouts, each applied on top of the caller's context.
	GenerateTimeout time.Duration
	ExecuteTimeout  time.Duration
	CritiqueTimeout time.Duration

	// Clock for durations. Defaults to the real clock.
	Clock clockwork.Clock

	// OnProgress, when set, is called on every stage transition.
	OnProgress func(ProgressEvent)
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Introspector == nil {
		return errors.New("introspector is required")
	}
	if c.Validator == nil {
		return errors.New("validator is required")
	}
	if c.Executor == nil {
		return errors.New("executor is required")
	}
	if c.Generator == nil {
		return errors.New("generator is required")
	}
	if c.Critic == nil {
		return errors.New("critic is required")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = time.Minute
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = 30 * time.Second
	}
	if c.CritiqueTimeout <= 0 {
		c.CritiqueTimeout = time.Minute
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Runner runs sessions. It holds no per-session state and is safe for
// concurrent use.
type Runner struct {
	cfg Config
	log *slog.Logger
}

// New creates a runner with the given configuration.
func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate session config: %w", err)
	}
	return &Runner{cfg: cfg, log: cfg.Logger}, nil
}

// Run answers one question. It introspects the schema once, then loops
// up to MaxAttempts times, carrying every prior rejection into the next
// generation. The returned error is non-nil only for fatal conditions:
// introspection failure, generation failure, or context cancellation.
func (r *Runner) Run(ctx context.Context, question string) (*Result, error) {
	id := uuid.New()
	log := r.log.With("session", id.String())
	start := r.cfg.Clock.Now()

	result, err := r.run(ctx, log, id, question, start)
	duration := r.cfg.Clock.Since(start)
	metrics.SessionDuration.Observe(duration.Seconds())
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result.Duration = duration
	if result.Accepted {
		metrics.SessionsTotal.WithLabelValues("accepted").Inc()
	} else {
		metrics.SessionsTotal.WithLabelValues("exhausted").Inc()
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, log *slog.Logger, id uuid.UUID, question string, start time.Time) (*Result, error) {
	result := &Result{ID: id, Question: question}

	r.progress(id, StageIntrospecting, 0)
	log.Info("session: introspecting schema", "question", question)
	mark := r.cfg.Clock.Now()
	desc, err := r.cfg.Introspector.Describe(ctx)
	r.observeStage(StageIntrospecting, mark)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospection, err)
	}

	var feedback []agent.Feedback
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		a, err := r.runAttempt(ctx, log, id, attempt, question, desc, feedback)
		if err != nil {
			return nil, err
		}
		result.Attempts = append(result.Attempts, a)

		if a.Verdict.Approved {
			metrics.AttemptsTotal.WithLabelValues("approved").Inc()
			result.Accepted = true
			result.SQL = a.Candidate.SQL
			result.Rationale = a.Candidate.Rationale
			if a.Execution != nil {
				result.Columns = a.Execution.Columns
				result.Rows = a.Execution.Rows
				result.Truncated = a.Execution.Truncated
			}
			log.Info("session: candidate accepted",
				"attempt", attempt,
				"rows", len(result.Rows),
				"duration", r.cfg.Clock.Since(start),
			)
			return result, nil
		}

		metrics.AttemptsTotal.WithLabelValues(a.Verdict.Category).Inc()
		log.Info("session: attempt rejected",
			"attempt", attempt,
			"category", a.Verdict.Category,
			"feedback", a.Verdict.Feedback,
		)
		feedback = append(feedback, agent.Feedback{SQL: a.Candidate.SQL, Verdict: a.Verdict})
	}

	result.FailureReason = fmt.Sprintf("no acceptable query after %d attempts", r.cfg.MaxAttempts)
	log.Warn("session: attempts exhausted",
		"attempts", r.cfg.MaxAttempts,
		"duration", r.cfg.Clock.Since(start),
	)
	return result, nil
}

// runAttempt runs one pass through the loop. Only generation failure is
// an error; everything after it lands in the attempt record.
func (r *Runner) runAttempt(ctx context.Context, log *slog.Logger, id uuid.UUID, attempt int, question string, desc *schema.Description, feedback []agent.Feedback) (Attempt, error) {
	started := r.cfg.Clock.Now()
	a := Attempt{Number: attempt}

	r.progress(id, StageGenerating, attempt)
	log.Debug("session: generating candidate", "attempt", attempt, "prior_rejections", len(feedback))
	mark := r.cfg.Clock.Now()
	genCtx, cancel := context.WithTimeout(ctx, r.cfg.GenerateTimeout)
	candidate, err := r.cfg.Generator.Generate(genCtx, agent.GenerateRequest{
		Question: question,
		Schema:   desc,
		Feedback: feedback,
	})
	cancel()
	r.observeStage(StageGenerating, mark)
	if err != nil {
		return Attempt{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	a.Candidate = candidate

	r.progress(id, StageValidating, attempt)
	mark = r.cfg.Clock.Now()
	a.Validation = r.cfg.Validator.Validate(candidate.SQL, desc)
	r.observeStage(StageValidating, mark)

	// Rejected candidates never reach the database.
	if a.Validation.Allowed {
		r.progress(id, StageExecuting, attempt)
		mark = r.cfg.Clock.Now()
		execCtx, cancel := context.WithTimeout(ctx, r.cfg.ExecuteTimeout)
		res := r.cfg.Executor.Execute(execCtx, candidate.SQL)
		cancel()
		r.observeStage(StageExecuting, mark)
		a.Execution = &res
	}

	r.progress(id, StageCritiquing, attempt)
	mark = r.cfg.Clock.Now()
	critCtx, cancel := context.WithTimeout(ctx, r.cfg.CritiqueTimeout)
	verdict, err := r.cfg.Critic.Critique(critCtx, agent.CritiqueRequest{
		Question:   question,
		Candidate:  candidate,
		Schema:     desc,
		Validation: a.Validation,
		Execution:  a.Execution,
	})
	cancel()
	r.observeStage(StageCritiquing, mark)
	if err != nil {
		// A broken critic costs this attempt, not the session.
		log.Warn("session: critic failed", "attempt", attempt, "error", err)
		verdict = agent.Rejected(agent.CategoryCriticError, fmt.Sprintf("critic unavailable: %v", err))
	}
	a.Verdict = verdict
	a.Duration = r.cfg.Clock.Since(started)
	return a, nil
}

func (r *Runner) progress(id uuid.UUID, stage Stage, attempt int) {
	if r.cfg.OnProgress != nil {
		r.cfg.OnProgress(ProgressEvent{SessionID: id, Stage: stage, Attempt: attempt})
	}
}

func (r *Runner) observeStage(stage Stage, started time.Time) {
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(r.cfg.Clock.Since(started).Seconds())
}
