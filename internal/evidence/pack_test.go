package evidence

import (
	"math"
	"strings"
	"testing"

	"github.com/vellum-dev/vellum/pkg/models"
)

func TestScoreBoostsMatchedSignals(t *testing.T) {
	candidates := []models.Evidence{
		{ID: "a", Path: "internal/parser/lex.go", Content: "func NextToken() {}", BaseScore: 1.0, Tokens: 50},
		{ID: "b", Path: "internal/store/db.go", Content: "func Open() {}", BaseScore: 1.0, Tokens: 50},
	}
	signals := []models.Signal{
		{Type: models.SignalSymbol, Value: "NextToken", Confidence: 0.5},
		{Type: models.SignalPath, Value: "internal/parser", Confidence: 0.3},
	}

	Score(candidates, signals)

	if got := candidates[0].FinalScore; math.Abs(got-1.8) > 1e-9 {
		t.Errorf("matched evidence score = %v, want 1.8", got)
	}
	if len(candidates[0].MatchedSignals) != 2 {
		t.Errorf("matched signals = %v, want both", candidates[0].MatchedSignals)
	}
	if got := candidates[1].FinalScore; got != 1.0 {
		t.Errorf("unmatched evidence score = %v, want base score", got)
	}
}

func TestAssembleRanksAndRespectsBudget(t *testing.T) {
	candidates := []models.Evidence{
		{ID: "low", BaseScore: 0.2, Tokens: 40, Content: "x"},
		{ID: "big", BaseScore: 0.9, Tokens: 90, Content: "x"},
		{ID: "mid", BaseScore: 0.5, Tokens: 30, Content: "x"},
	}

	pack := Assemble(candidates, nil, 100)

	// big (90) fits first; mid (30) would overflow; low (40) would too.
	if len(pack.Items) != 1 || pack.Items[0].ID != "big" {
		t.Fatalf("pack = %+v, want just big", pack.Items)
	}
	if pack.TokensUsed != 90 {
		t.Errorf("tokens used = %d, want 90", pack.TokensUsed)
	}
}

func TestAssembleSkipsOversizedButKeepsSmaller(t *testing.T) {
	candidates := []models.Evidence{
		{ID: "huge", BaseScore: 0.9, Tokens: 500, Content: "x"},
		{ID: "small", BaseScore: 0.3, Tokens: 20, Content: "x"},
	}

	pack := Assemble(candidates, nil, 100)
	if len(pack.Items) != 1 || pack.Items[0].ID != "small" {
		t.Fatalf("pack = %+v, want just small", pack.Items)
	}
}

func TestAssembleDoesNotMutateCandidates(t *testing.T) {
	candidates := []models.Evidence{
		{ID: "a", Content: "NextToken", BaseScore: 1.0, Tokens: 10},
	}
	signals := []models.Signal{{Type: models.SignalSymbol, Value: "NextToken", Confidence: 0.5}}

	Assemble(candidates, signals, 100)
	if candidates[0].FinalScore != 0 {
		t.Error("Assemble wrote scores back into the caller's slice")
	}
}

func TestAssembleZeroTokenItemsDropped(t *testing.T) {
	pack := Assemble([]models.Evidence{{ID: "empty", BaseScore: 1.0, Tokens: 0}}, nil, 100)
	if len(pack.Items) != 0 {
		t.Errorf("pack = %+v, want empty", pack.Items)
	}
}

func TestRender(t *testing.T) {
	pack := &Pack{Items: []models.Evidence{
		{Path: "internal/agent/loop.go", Range: models.Range{StartLine: 10, EndLine: 20}, Content: "func run() {}\n"},
	}}
	out := pack.Render()
	if !strings.Contains(out, "internal/agent/loop.go:10-20") {
		t.Errorf("render output missing location header: %q", out)
	}
	if !strings.Contains(out, "func run() {}") {
		t.Errorf("render output missing content: %q", out)
	}

	empty := &Pack{}
	if empty.Render() != "" {
		t.Error("empty pack should render to nothing")
	}
}

func TestExtractSignals(t *testing.T) {
	text := "I get this crash:\n" +
		"panic: runtime error: index out of range\n" +
		"\tinternal/parser/lex.go:42 +0x1f\n" +
		"It happens in parser.NextToken when reading lex.go\n"

	signals := ExtractSignals(text, "user")

	byType := make(map[models.SignalType][]models.Signal)
	for _, sig := range signals {
		if sig.Source != "user" {
			t.Errorf("signal source = %q, want user", sig.Source)
		}
		if sig.Confidence <= 0 || sig.Confidence > 1 {
			t.Errorf("signal confidence out of range: %+v", sig)
		}
		byType[sig.Type] = append(byType[sig.Type], sig)
	}

	if len(byType[models.SignalErrorToken]) == 0 {
		t.Error("no error_token signal extracted from panic line")
	}
	if len(byType[models.SignalStackFrame]) == 0 {
		t.Error("no stack_frame signal extracted")
	}

	foundPath := false
	for _, sig := range byType[models.SignalPath] {
		if sig.Value == "internal/parser/lex.go" {
			foundPath = true
		}
	}
	if !foundPath {
		t.Errorf("path signals = %+v, want internal/parser/lex.go without line suffix", byType[models.SignalPath])
	}

	foundSymbol := false
	for _, sig := range byType[models.SignalSymbol] {
		if sig.Value == "parser.NextToken" {
			foundSymbol = true
		}
	}
	if !foundSymbol {
		t.Errorf("symbol signals = %+v, want parser.NextToken", byType[models.SignalSymbol])
	}
}

func TestExtractSignalsDeduplicates(t *testing.T) {
	text := "lex.go lex.go lex.go"
	signals := ExtractSignals(text, "user")
	count := 0
	for _, sig := range signals {
		if sig.Type == models.SignalPath && sig.Value == "lex.go" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate path extracted %d times, want 1", count)
	}
}
