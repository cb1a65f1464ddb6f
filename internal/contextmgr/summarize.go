package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/vellum-dev/vellum/internal/providers"
	"github.com/vellum-dev/vellum/pkg/models"
)

// summarySystemPrompt instructs the dedicated compaction request.
const summarySystemPrompt = "You are compressing an earlier portion of a coding session. " +
	"Produce a compact summary that preserves: the user's goals, stated constraints, " +
	"established facts, open decisions, and pending next actions. " +
	"Do not invent details. Respond with the summary only."

// defaultSummaryMaxTokens bounds the compaction response.
const defaultSummaryMaxTokens = 1024

// ProviderSummarizer issues the dedicated summary request against a
// provider adapter.
type ProviderSummarizer struct {
	Provider  providers.Provider
	Model     string
	MaxTokens int
}

// Summarize formats the span as a transcript and asks the model to
// compress it.
func (s *ProviderSummarizer) Summarize(ctx context.Context, messages []*models.Message) (string, error) {
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultSummaryMaxTokens
	}

	req := &providers.Request{
		Model:  s.Model,
		System: summarySystemPrompt,
		Messages: []*models.Message{{
			Role:    models.RoleUser,
			Content: formatTranscript(messages),
		}},
		MaxTokens: maxTokens,
	}

	res, err := s.Provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", fmt.Errorf("summary request returned no text")
	}
	return text, nil
}

// formatTranscript renders messages as role-prefixed lines for the summary
// request.
func formatTranscript(messages []*models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		if msg.Content != "" {
			b.WriteString(msg.Content)
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "[tool call %s %s]", tc.Name, string(tc.Arguments))
		}
		for _, tr := range msg.ToolResults {
			fmt.Fprintf(&b, "[tool result: %s]", tr.Content)
		}
		b.WriteString("\n")
	}
	return b.String()
}
