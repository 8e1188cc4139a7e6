package eval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlmedic/sqlmedic/internal/llm"
)

type stubLLM struct {
	response string
	err      error
	systems  []string
	users    []string
}

func (s *stubLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...llm.CompleteOption) (string, error) {
	s.systems = append(s.systems, systemPrompt)
	s.users = append(s.users, userPrompt)
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestJudgeConfigValidate(t *testing.T) {
	_, err := NewJudge(JudgeConfig{Client: &stubLLM{}})
	require.ErrorContains(t, err, "logger is required")

	_, err = NewJudge(JudgeConfig{Logger: logger})
	require.ErrorContains(t, err, "llm client is required")
}

func TestLLMJudgeEquivalent(t *testing.T) {
	client := &stubLLM{response: "Equivalent"}
	judge, err := NewJudge(JudgeConfig{Logger: logger, Client: client})
	require.NoError(t, err)

	got, err := judge.Equivalent(context.Background(),
		"List all doctors",
		"SELECT name FROM Doctors",
		"SELECT doctor_id, name FROM Doctors",
	)
	require.NoError(t, err)
	assert.True(t, got)

	require.Len(t, client.users, 1)
	user := client.users[0]
	assert.Contains(t, user, "User Question: List all doctors")
	assert.Contains(t, user, "Query 1:\nSELECT name FROM Doctors")
	assert.Contains(t, user, "Query 2:\nSELECT doctor_id, name FROM Doctors")
	assert.Contains(t, client.systems[0], "SQL expert")
}

func TestLLMJudgeNotEquivalent(t *testing.T) {
	judge, err := NewJudge(JudgeConfig{Logger: logger, Client: &stubLLM{response: "Not Equivalent"}})
	require.NoError(t, err)

	got, err := judge.Equivalent(context.Background(), "q", "SELECT 1", "SELECT 2")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLLMJudgeErrors(t *testing.T) {
	judge, err := NewJudge(JudgeConfig{Logger: logger, Client: &stubLLM{err: errors.New("rate limited")}})
	require.NoError(t, err)

	_, err = judge.Equivalent(context.Background(), "q", "SELECT 1", "SELECT 2")
	require.ErrorContains(t, err, "judge completion failed")

	judge, err = NewJudge(JudgeConfig{Logger: logger, Client: &stubLLM{response: "who knows"}})
	require.NoError(t, err)

	_, err = judge.Equivalent(context.Background(), "q", "SELECT 1", "SELECT 2")
	require.ErrorContains(t, err, "unexpected judge response")
}
