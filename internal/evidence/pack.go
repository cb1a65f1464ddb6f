// Package evidence assembles the ranked, token-budgeted bundle of code
// context injected into the system prompt. Retrieval providers hand in
// scored candidates; signals extracted from the conversation boost the
// candidates that mention what the user is actually fighting with.
package evidence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vellum-dev/vellum/pkg/models"
)

// Pack is the assembled evidence bundle.
type Pack struct {
	Items []models.Evidence

	// TokensUsed is the summed token estimate of the packed items.
	TokensUsed int

	// Budget is the token budget the pack was assembled under.
	Budget int
}

// matches reports whether a signal applies to a piece of evidence: its
// value appears in the content or in the file path.
func matches(sig models.Signal, ev *models.Evidence) bool {
	if sig.Value == "" {
		return false
	}
	if strings.Contains(ev.Content, sig.Value) {
		return true
	}
	return strings.Contains(ev.Path, sig.Value)
}

// Score computes final scores for the candidates in place. Each matched
// signal contributes its confidence as a multiplicative boost:
//
//	finalScore = baseScore * (1 + sum of matched confidences)
//
// Candidates matching nothing keep their base score.
func Score(candidates []models.Evidence, signals []models.Signal) {
	for i := range candidates {
		ev := &candidates[i]
		boost := 0.0
		ev.MatchedSignals = nil
		for _, sig := range signals {
			if matches(sig, ev) {
				boost += sig.Confidence
				ev.MatchedSignals = append(ev.MatchedSignals, sig.Value)
			}
		}
		ev.FinalScore = ev.BaseScore * (1 + boost)
	}
}

// Assemble scores, ranks, and greedily packs candidates under the token
// budget. Items that do not fit are skipped; later smaller items may
// still be admitted. Candidates are not mutated.
func Assemble(candidates []models.Evidence, signals []models.Signal, budget int) *Pack {
	scored := make([]models.Evidence, len(candidates))
	copy(scored, candidates)
	Score(scored, signals)

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})

	pack := &Pack{Budget: budget}
	for _, ev := range scored {
		if ev.Tokens <= 0 {
			continue
		}
		if pack.TokensUsed+ev.Tokens > budget {
			continue
		}
		pack.Items = append(pack.Items, ev)
		pack.TokensUsed += ev.Tokens
	}
	return pack
}

// Render formats the pack for system-prompt injection.
func (p *Pack) Render() string {
	if len(p.Items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant code context:\n")
	for _, ev := range p.Items {
		fmt.Fprintf(&b, "\n--- %s:%d-%d ---\n", ev.Path, ev.Range.StartLine, ev.Range.EndLine)
		b.WriteString(strings.TrimRight(ev.Content, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
