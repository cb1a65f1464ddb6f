package contextmgr

import "github.com/vellum-dev/vellum/pkg/models"

// EffectiveHistory filters a message list down to what an API request
// should carry. A message is included iff it has not been absorbed into a
// summary that is still present in the list, and, when it is itself a
// summary, the caller opted into summaries.
//
// Summaries absorbed by later summaries are filtered the same way, so only
// the newest uncompressed layer survives. An absorbed message whose
// summary is missing from the list is treated as non-absorbed.
func EffectiveHistory(messages []*models.Message, includeSummaries bool) []*models.Message {
	summaries := make(map[string]bool, 4)
	for _, m := range messages {
		if m.IsSummary() {
			summaries[m.CondenseID] = true
		}
	}

	out := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		if m.IsAbsorbed() && summaries[m.CondenseParent] {
			continue
		}
		if m.IsSummary() && !includeSummaries {
			continue
		}
		out = append(out, m)
	}
	return out
}
