package contextmgr

import "github.com/vellum-dev/vellum/pkg/models"

// charsPerToken is the approximate character-to-token ratio used for
// estimation when no provider-reported usage is available.
const charsPerToken = 4

// EstimateTokens estimates the token cost of one message, counting text,
// thinking, tool calls, and tool results.
func EstimateTokens(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content) + len(msg.Thinking)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments)
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.Content)
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// EstimateHistoryTokens estimates total tokens across a message list.
func EstimateHistoryTokens(messages []*models.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg)
	}
	return total
}
