package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// generateResponse is the JSON shape the generation prompt asks for.
type generateResponse struct {
	SQL       string `json:"sql"`
	Rationale string `json:"rationale"`
}

// verdictResponse is the JSON shape the critique prompt asks for.
type verdictResponse struct {
	Approved bool   `json:"approved"`
	Category string `json:"category"`
	Feedback string `json:"feedback"`
}

// parseCandidate extracts a candidate from the LLM response. JSON is
// preferred, with fallbacks for models that answer with a bare SQL code
// block or raw SQL.
func parseCandidate(response string) (Candidate, error) {
	response = strings.TrimSpace(response)

	if jsonStr := extractJSON(response); jsonStr != "" {
		var parsed generateResponse
		if err := json.Unmarshal([]byte(jsonStr), &parsed); err == nil && parsed.SQL != "" {
			return Candidate{
				SQL:       cleanSQL(parsed.SQL),
				Rationale: strings.TrimSpace(parsed.Rationale),
			}, nil
		}
	}

	if sql := extractSQLFromCodeBlocks(response); sql != "" {
		return Candidate{SQL: sql}, nil
	}

	// Last resort: treat the whole response as SQL if it looks like SQL.
	if looksLikeSQL(response) {
		return Candidate{SQL: cleanSQL(response)}, nil
	}

	return Candidate{}, fmt.Errorf("could not extract SQL from response: %s", truncateString(response, 200))
}

// parseVerdict extracts a verdict from the LLM response.
func parseVerdict(response string) (Verdict, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return Verdict{}, fmt.Errorf("no JSON object in critique response: %s", truncateString(response, 200))
	}

	var parsed verdictResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return Verdict{}, fmt.Errorf("invalid critique JSON: %w (response: %s)", err, truncateString(jsonStr, 200))
	}

	if parsed.Approved {
		return Verdict{Approved: true}, nil
	}
	return Verdict{
		Category: strings.TrimSpace(parsed.Category),
		Feedback: strings.TrimSpace(parsed.Feedback),
	}, nil
}

// extractJSON pulls a JSON object out of an LLM response, preferring
// fenced code blocks over raw text.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += 7 // len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}

	return ""
}

// extractJSONObject extracts a complete JSON object starting at the
// given position, handling strings that may contain braces.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	// Unbalanced braces.
	return ""
}

// extractSQLFromCodeBlocks finds SQL in markdown code blocks.
func extractSQLFromCodeBlocks(response string) string {
	if start := strings.Index(response, "```sql"); start != -1 {
		start += 6 // len("```sql")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return cleanSQL(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if looksLikeSQL(content) {
				return cleanSQL(content)
			}
		}
	}

	return ""
}

// looksLikeSQL checks if text appears to be a SQL statement. Mutating
// prefixes are accepted here on purpose: extraction is not a safety
// gate, the validator is.
func looksLikeSQL(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, kw := range []string{"SELECT", "WITH", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// cleanSQL normalizes SQL by trimming whitespace and trailing semicolons.
func cleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")
	return strings.TrimSpace(sql)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
