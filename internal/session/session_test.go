package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlmedic/sqlmedic/internal/agent"
	"github.com/sqlmedic/sqlmedic/internal/dbexec"
	"github.com/sqlmedic/sqlmedic/internal/llm"
	"github.com/sqlmedic/sqlmedic/internal/safety"
	"github.com/sqlmedic/sqlmedic/internal/schema"
	"github.com/sqlmedic/sqlmedic/internal/session"
)

func hospitalSchema() *schema.Description {
	return &schema.Description{
		Tables: []schema.Table{
			{
				Name: "Doctors",
				Columns: []schema.Column{
					{Name: "doctor_id", Type: "INTEGER", PrimaryKey: true},
					{Name: "name", Type: "VARCHAR"},
					{Name: "specialization", Type: "VARCHAR", Nullable: true},
				},
			},
			{
				Name: "Patients",
				Columns: []schema.Column{
					{Name: "patient_id", Type: "INTEGER", PrimaryKey: true},
					{Name: "name", Type: "VARCHAR"},
				},
			},
			{
				Name: "Appointments",
				Columns: []schema.Column{
					{Name: "appointment_id", Type: "INTEGER", PrimaryKey: true},
					{Name: "patient_id", Type: "INTEGER", References: &schema.Ref{Table: "Patients", Column: "patient_id"}},
					{Name: "doctor_id", Type: "INTEGER", References: &schema.Ref{Table: "Doctors", Column: "doctor_id"}},
					{Name: "appointment_date", Type: "DATE"},
				},
			},
		},
	}
}

type stubIntrospector struct {
	desc  *schema.Description
	err   error
	calls int
}

func (s *stubIntrospector) Describe(ctx context.Context) (*schema.Description, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.desc, nil
}

// scriptedGenerator returns canned candidates in order and records
// every request it sees.
type scriptedGenerator struct {
	candidates []agent.Candidate
	err        error
	requests   []agent.GenerateRequest
}

func (g *scriptedGenerator) Generate(ctx context.Context, req agent.GenerateRequest) (agent.Candidate, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return agent.Candidate{}, g.err
	}
	i := len(g.requests) - 1
	if i >= len(g.candidates) {
		return agent.Candidate{}, fmt.Errorf("unexpected generate call %d", i+1)
	}
	return g.candidates[i], nil
}

// scriptedExecutor returns canned results keyed by SQL and records the
// statements it was asked to run.
type scriptedExecutor struct {
	results map[string]dbexec.Result
	calls   []string
}

func (e *scriptedExecutor) Execute(ctx context.Context, sqlText string) dbexec.Result {
	e.calls = append(e.calls, sqlText)
	if res, ok := e.results[sqlText]; ok {
		return res
	}
	return dbexec.Result{
		SQL:     sqlText,
		Columns: []string{"value"},
		Rows:    []map[string]any{{"value": int64(1)}},
		Count:   1,
	}
}

// scriptedLLM backs the real critic with canned responses.
type scriptedLLM struct {
	responses []string
	callIndex int
}

func (m *scriptedLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...llm.CompleteOption) (string, error) {
	if m.callIndex >= len(m.responses) {
		return "", fmt.Errorf("unexpected LLM call %d", m.callIndex+1)
	}
	response := m.responses[m.callIndex]
	m.callIndex++
	return response, nil
}

// harness wires a runner from the real validator and the real critic
// (over a scripted LLM) plus scripted generator and executor.
type harness struct {
	introspector *stubIntrospector
	generator    *scriptedGenerator
	executor     *scriptedExecutor
	llm          *scriptedLLM
	events       []session.ProgressEvent
	runner       *session.Runner
}

func newHarness(t *testing.T, candidates []agent.Candidate, criticResponses []string) *harness {
	t.Helper()
	h := &harness{
		introspector: &stubIntrospector{desc: hospitalSchema()},
		generator:    &scriptedGenerator{candidates: candidates},
		executor:     &scriptedExecutor{results: map[string]dbexec.Result{}},
		llm:          &scriptedLLM{responses: criticResponses},
	}

	critic, err := agent.NewCritic(agent.CriticConfig{Logger: logger, Client: h.llm})
	require.NoError(t, err)

	runner, err := session.New(session.Config{
		Logger:       logger,
		Introspector: h.introspector,
		Validator:    safety.New(logger),
		Executor:     h.executor,
		Generator:    h.generator,
		Critic:       critic,
		Clock:        clockwork.NewFakeClock(),
		OnProgress: func(ev session.ProgressEvent) {
			h.events = append(h.events, ev)
		},
	})
	require.NoError(t, err)
	h.runner = runner
	return h
}

func (h *harness) stages() []string {
	var out []string
	for _, ev := range h.events {
		out = append(out, fmt.Sprintf("%s/%d", ev.Stage, ev.Attempt))
	}
	return out
}

func TestSessionFirstAttemptAccepted(t *testing.T) {
	const query = "SELECT name FROM Doctors"
	h := newHarness(t,
		[]agent.Candidate{{SQL: query, Rationale: "Lists every doctor."}},
		[]string{`{"approved": true}`},
	)
	h.executor.results[query] = dbexec.Result{
		SQL:     query,
		Columns: []string{"name"},
		Rows: []map[string]any{
			{"name": "Dr. Alice Chen"},
			{"name": "Dr. Omar Haddad"},
		},
		Count: 2,
	}

	result, err := h.runner.Run(context.Background(), "List all doctors")
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	assert.Equal(t, query, result.SQL)
	assert.Equal(t, "Lists every doctor.", result.Rationale)
	assert.Equal(t, []string{"name"}, result.Columns)
	assert.Len(t, result.Rows, 2)
	assert.Empty(t, result.FailureReason)

	require.Len(t, result.Attempts, 1)
	attempt := result.Attempts[0]
	assert.Equal(t, 1, attempt.Number)
	assert.True(t, attempt.Validation.Allowed)
	assert.True(t, attempt.Verdict.Approved)

	assert.Equal(t, 1, h.introspector.calls)
	assert.Equal(t, []string{query}, h.executor.calls)
	assert.Equal(t, []string{
		"introspecting/0",
		"generating/1",
		"validating/1",
		"executing/1",
		"critiquing/1",
	}, h.stages())
}

func TestSessionRepairsRejectedMutation(t *testing.T) {
	const bad = "DELETE FROM Appointments WHERE appointment_date < DATE '2020-01-01'"
	const good = "SELECT count(*) FROM Appointments WHERE appointment_date < DATE '2020-01-01'"
	h := newHarness(t,
		[]agent.Candidate{
			{SQL: bad, Rationale: "Removes stale appointments."},
			{SQL: good, Rationale: "Counts stale appointments instead."},
		},
		[]string{`{"approved": true}`},
	)

	result, err := h.runner.Run(context.Background(), "How many appointments happened before 2020?")
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	assert.Equal(t, good, result.SQL)
	require.Len(t, result.Attempts, 2)

	first := result.Attempts[0]
	assert.False(t, first.Validation.Allowed)
	assert.Equal(t, safety.RuleUnsafeOperation, first.Validation.Rule)
	assert.Nil(t, first.Execution, "rejected statements must not execute")
	assert.False(t, first.Verdict.Approved)
	assert.Equal(t, string(safety.RuleUnsafeOperation), first.Verdict.Category)
	assert.Equal(t, first.Validation.Reason, first.Verdict.Feedback,
		"critic must mirror the validation reason verbatim")

	// Only the repaired statement ever reached the database.
	assert.Equal(t, []string{good}, h.executor.calls)

	// The retry saw the rejected SQL and its verdict.
	require.Len(t, h.generator.requests, 2)
	retry := h.generator.requests[1]
	require.Len(t, retry.Feedback, 1)
	assert.Equal(t, bad, retry.Feedback[0].SQL)
	assert.Equal(t, string(safety.RuleUnsafeOperation), retry.Feedback[0].Verdict.Category)
}

func TestSessionExhaustsOnUnknownColumn(t *testing.T) {
	// The model keeps hallucinating the same column, so every attempt is
	// rejected by validation and the session runs out of attempts.
	const bad = "SELECT visit_date FROM Appointments"
	h := newHarness(t,
		[]agent.Candidate{{SQL: bad}, {SQL: bad}, {SQL: bad}},
		nil,
	)

	result, err := h.runner.Run(context.Background(), "List appointment visit dates")
	require.NoError(t, err, "exhaustion is a result, not an error")

	assert.False(t, result.Accepted)
	assert.Empty(t, result.SQL)
	assert.Contains(t, result.FailureReason, "3 attempts")
	require.Len(t, result.Attempts, 3)
	for i, attempt := range result.Attempts {
		assert.Equal(t, i+1, attempt.Number)
		assert.Equal(t, safety.RuleUnknownIdentifier, attempt.Validation.Rule)
		assert.Equal(t, string(safety.RuleUnknownIdentifier), attempt.Verdict.Category)
		assert.Nil(t, attempt.Execution)
	}

	assert.Empty(t, h.executor.calls, "nothing may execute when validation rejects")
	assert.Zero(t, h.llm.callIndex, "validation rejections never reach the critic model")

	// Feedback accumulates: each retry sees every prior verdict.
	require.Len(t, h.generator.requests, 3)
	assert.Empty(t, h.generator.requests[0].Feedback)
	assert.Len(t, h.generator.requests[1].Feedback, 1)
	assert.Len(t, h.generator.requests[2].Feedback, 2)
	assert.Equal(t,
		h.generator.requests[1].Feedback[0],
		h.generator.requests[2].Feedback[0],
		"earlier verdicts must be preserved, not replaced",
	)
}

func TestSessionApprovesEmptyResult(t *testing.T) {
	const query = "SELECT name FROM Patients WHERE patient_id = 999999"
	h := newHarness(t,
		[]agent.Candidate{{SQL: query}},
		[]string{`{"approved": true}`},
	)
	h.executor.results[query] = dbexec.Result{
		SQL:     query,
		Columns: []string{"name"},
		Count:   0,
	}

	result, err := h.runner.Run(context.Background(), "What is the name of patient 999999?")
	require.NoError(t, err)

	assert.True(t, result.Accepted, "a correct query over absent data is still correct")
	assert.Empty(t, result.Rows)
	assert.Equal(t, 1, h.llm.callIndex, "empty results still get a semantic judgment")
}

func TestSessionIntrospectionFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.introspector.err = errors.New("connection refused")

	result, err := h.runner.Run(context.Background(), "List all doctors")
	require.ErrorIs(t, err, session.ErrIntrospection)
	assert.Nil(t, result)
	assert.Empty(t, h.generator.requests)
}

func TestSessionGenerationFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.generator.err = errors.New("api unavailable")

	result, err := h.runner.Run(context.Background(), "List all doctors")
	require.ErrorIs(t, err, session.ErrGeneration)
	assert.Nil(t, result)
	assert.Empty(t, h.executor.calls)
}

// erringCritic fails once, then approves.
type erringCritic struct {
	calls int
}

func (c *erringCritic) Critique(ctx context.Context, req agent.CritiqueRequest) (agent.Verdict, error) {
	c.calls++
	if c.calls == 1 {
		return agent.Verdict{}, errors.New("critic model timed out")
	}
	return agent.Verdict{Approved: true}, nil
}

func TestSessionCriticFailureCostsOneAttempt(t *testing.T) {
	critic := &erringCritic{}
	generator := &scriptedGenerator{candidates: []agent.Candidate{
		{SQL: "SELECT name FROM Doctors"},
		{SQL: "SELECT name, specialization FROM Doctors"},
	}}
	executor := &scriptedExecutor{}

	runner, err := session.New(session.Config{
		Logger:       logger,
		Introspector: &stubIntrospector{desc: hospitalSchema()},
		Validator:    safety.New(logger),
		Executor:     executor,
		Generator:    generator,
		Critic:       critic,
		Clock:        clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "List all doctors")
	require.NoError(t, err, "a critic outage is recoverable")

	assert.True(t, result.Accepted)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, agent.CategoryCriticError, result.Attempts[0].Verdict.Category)
	assert.Contains(t, result.Attempts[0].Verdict.Feedback, "critic unavailable")
	assert.True(t, result.Attempts[1].Verdict.Approved)
}

func TestSessionHonorsContextCancellation(t *testing.T) {
	h := newHarness(t, []agent.Candidate{{SQL: "SELECT name FROM Doctors"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.runner.Run(ctx, "List all doctors")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSessionConfigValidate(t *testing.T) {
	valid := func() session.Config {
		return session.Config{
			Logger:       logger,
			Introspector: &stubIntrospector{desc: hospitalSchema()},
			Validator:    safety.New(logger),
			Executor:     &scriptedExecutor{},
			Generator:    &scriptedGenerator{},
			Critic:       &erringCritic{},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, session.DefaultMaxAttempts, cfg.MaxAttempts)
	assert.NotNil(t, cfg.Clock)
	assert.NotZero(t, cfg.GenerateTimeout)
	assert.NotZero(t, cfg.ExecuteTimeout)
	assert.NotZero(t, cfg.CritiqueTimeout)

	for _, tt := range []struct {
		name   string
		mutate func(*session.Config)
		want   string
	}{
		{"missing logger", func(c *session.Config) { c.Logger = nil }, "logger is required"},
		{"missing introspector", func(c *session.Config) { c.Introspector = nil }, "introspector is required"},
		{"missing validator", func(c *session.Config) { c.Validator = nil }, "validator is required"},
		{"missing executor", func(c *session.Config) { c.Executor = nil }, "executor is required"},
		{"missing generator", func(c *session.Config) { c.Generator = nil }, "generator is required"},
		{"missing critic", func(c *session.Config) { c.Critic = nil }, "critic is required"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestSessionStopsAtConfiguredAttempts(t *testing.T) {
	const bad = "SELECT visit_date FROM Appointments"
	generator := &scriptedGenerator{candidates: []agent.Candidate{
		{SQL: bad}, {SQL: bad}, {SQL: bad}, {SQL: bad}, {SQL: bad},
	}}
	critic, err := agent.NewCritic(agent.CriticConfig{Logger: logger, Client: &scriptedLLM{}})
	require.NoError(t, err)

	runner, err := session.New(session.Config{
		Logger:       logger,
		Introspector: &stubIntrospector{desc: hospitalSchema()},
		Validator:    safety.New(logger),
		Executor:     &scriptedExecutor{},
		Generator:    generator,
		Critic:       critic,
		MaxAttempts:  5,
		Clock:        clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "List appointment visit dates")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Len(t, result.Attempts, 5)
	assert.Len(t, generator.requests, 5)
}
