//go:build evals

package evals_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlmedic/sqlmedic/internal/eval"
)

func TestEvals_Anthropic_HarnessCases(t *testing.T) {
	t.Parallel()
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		t.Skip("ANTHROPIC_API_KEY not set, skipping eval test")
	}

	runTest_HarnessCases(t, newAnthropicLLMClient)
}

func TestEvals_OpenAI_HarnessCases(t *testing.T) {
	t.Parallel()
	if os.Getenv("OPENAI_BASE_URL") == "" {
		t.Skip("OPENAI_BASE_URL not set, skipping eval test")
	}

	runTest_HarnessCases(t, newOpenAILLMClient)
}

// runTest_HarnessCases runs the bundled case file through the full
// harness: one session per case, SQL equivalence by LLM judge.
func runTest_HarnessCases(t *testing.T, llmFactory LLMClientFactory) {
	ctx := context.Background()
	_, debug := getDebugLevel()

	db := openFixtureDB(t, ctx)
	runner := setupRunner(t, db, llmFactory, debug)

	cases, err := eval.LoadCases("cases.jsonl")
	require.NoError(t, err)

	judge, err := eval.NewJudge(eval.JudgeConfig{
		Logger: testLogger(t),
		Client: llmFactory(t),
	})
	require.NoError(t, err)

	harness, err := eval.New(eval.Config{
		Logger:      testLogger(t),
		Runner:      runner,
		Judge:       judge,
		Concurrency: 2,
	})
	require.NoError(t, err)

	summary, err := harness.Run(ctx, cases)
	require.NoError(t, err)

	var buf bytes.Buffer
	eval.WriteSummary(&buf, summary)
	t.Logf("\n%s", buf.String())

	require.Zero(t, summary.Errors, "no case may error")
	require.Equal(t, summary.Total(), summary.Passed, "every case must pass")
}
