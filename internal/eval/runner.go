package eval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/jonboulle/clockwork"

	"github.com/sqlmedic/sqlmedic/internal/session"
)

const defaultConcurrency = 4

// Config configures the evaluation harness.
type Config struct {
	Logger *slog.Logger
	Runner *session.Runner
	Judge  Judge

	// Concurrency bounds how many sessions run at once. Defaults to 4;
	// raise it only as far as the LLM provider's rate limits allow.
	Concurrency int

	Clock clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("session runner is required")
	}
	if c.Judge == nil {
		return fmt.Errorf("judge is required")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Harness runs cases through the session loop and scores the results.
type Harness struct {
	cfg  Config
	log  *slog.Logger
	pool pond.ResultPool[Report]
}

func New(cfg Config) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate eval config: %w", err)
	}
	return &Harness{
		cfg:  cfg,
		log:  cfg.Logger,
		pool: pond.NewResultPool[Report](cfg.Concurrency),
	}, nil
}

// Run evaluates every case and returns the aggregate summary. Reports
// come back in case order regardless of completion order.
func (h *Harness) Run(ctx context.Context, cases []Case) (*Summary, error) {
	start := h.cfg.Clock.Now()
	group := h.pool.NewGroupContext(ctx)

	for _, c := range cases {
		group.SubmitErr(func() (Report, error) {
			if err := ctx.Err(); err != nil {
				return Report{}, err
			}
			return h.runCase(ctx, c), nil
		})
	}

	reports, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to run evaluation cases: %w", err)
	}

	summary := &Summary{
		Reports:  reports,
		Duration: h.cfg.Clock.Since(start),
	}
	for _, r := range reports {
		switch {
		case r.Outcome.Passed():
			summary.Passed++
		case r.Outcome == OutcomeError:
			summary.Errors++
		default:
			summary.Failed++
		}
	}

	h.log.Info("eval: run finished",
		"cases", summary.Total(),
		"passed", summary.Passed,
		"failed", summary.Failed,
		"errors", summary.Errors,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (h *Harness) runCase(ctx context.Context, c Case) Report {
	start := h.cfg.Clock.Now()
	report := Report{Case: c}
	defer func() {
		report.Duration = h.cfg.Clock.Since(start)
		h.log.Info("eval: case finished",
			"case", c.ID,
			"outcome", report.Outcome,
			"attempts", report.Attempts,
		)
	}()

	result, err := h.cfg.Runner.Run(ctx, c.Question)
	if err != nil {
		report.Outcome = OutcomeError
		report.Detail = err.Error()
		return report
	}
	report.Attempts = len(result.Attempts)

	if !result.Accepted {
		report.Outcome = OutcomeNotAccepted
		report.Detail = result.FailureReason
		return report
	}
	report.GeneratedSQL = result.SQL

	if normalizeSQL(result.SQL) == normalizeSQL(c.ExpectedSQL) {
		report.Outcome = OutcomeExactMatch
		return report
	}

	equivalent, err := h.cfg.Judge.Equivalent(ctx, c.Question, c.ExpectedSQL, result.SQL)
	if err != nil {
		report.Outcome = OutcomeError
		report.Detail = fmt.Sprintf("judge failed: %v", err)
		return report
	}
	if equivalent {
		report.Outcome = OutcomeEquivalent
		return report
	}

	report.Outcome = OutcomeNotEquivalent
	report.Diff = unifiedSQLDiff(c.ExpectedSQL, result.SQL)
	return report
}

// unifiedSQLDiff renders expected vs. generated SQL as a unified diff
// for the summary output.
func unifiedSQLDiff(expected, generated string) string {
	if expected != "" && expected[len(expected)-1] != '\n' {
		expected += "\n"
	}
	if generated != "" && generated[len(generated)-1] != '\n' {
		generated += "\n"
	}
	edits := myers.ComputeEdits(span.URIFromPath("expected"), expected, generated)
	return fmt.Sprint(gotextdiff.ToUnified("expected", "generated", expected, edits))
}
