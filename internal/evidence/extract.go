package evidence

import (
	"regexp"
	"strings"

	"github.com/vellum-dev/vellum/pkg/models"
)

// Extraction confidences by signal type. Stack frames pin down a location
// exactly, so they weigh more than loose symbol mentions.
const (
	confidenceErrorToken = 0.6
	confidencePath       = 0.8
	confidenceStackFrame = 0.9
	confidenceSymbol     = 0.4
)

var (
	// pathPattern matches file references like internal/agent/loop.go or
	// loop.go:42.
	pathPattern = regexp.MustCompile(`\b[\w./-]*\w+\.(?:go|py|ts|js|rs|java|c|h|cpp|rb|md|ya?ml|json|toml)(?::\d+)?\b`)

	// stackFramePattern matches Go panic traces and file:line:col frames.
	stackFramePattern = regexp.MustCompile(`(?m)^\s*(?:at\s+\S+|\S+\.go:\d+(?::\d+)?(?:\s+\+0x[0-9a-f]+)?)\s*$`)

	// symbolPattern matches qualified identifiers like pkg.Func or
	// Type.Method.
	symbolPattern = regexp.MustCompile(`\b[A-Za-z_][\w]*\.[A-Z][\w]*\b`)

	errorLinePattern = regexp.MustCompile(`(?mi)^.*\b(?:error|panic|fatal|exception)\b[:\s].*$`)
)

// ExtractSignals mines a conversation text for retrieval signals. The
// source tags where the signal came from, typically "user" or "tool".
func ExtractSignals(text, source string) []models.Signal {
	var signals []models.Signal
	seen := make(map[string]struct{})

	add := func(t models.SignalType, value string, confidence float64) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		key := string(t) + "\x00" + value
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		signals = append(signals, models.Signal{
			Type:       t,
			Value:      value,
			Source:     source,
			Confidence: confidence,
		})
	}

	for _, line := range errorLinePattern.FindAllString(text, -1) {
		add(models.SignalErrorToken, strings.TrimSpace(line), confidenceErrorToken)
	}
	for _, frame := range stackFramePattern.FindAllString(text, -1) {
		add(models.SignalStackFrame, strings.TrimSpace(frame), confidenceStackFrame)
	}
	for _, path := range pathPattern.FindAllString(text, -1) {
		// Strip the :line suffix so the signal matches file paths.
		if i := strings.IndexByte(path, ':'); i > 0 {
			path = path[:i]
		}
		add(models.SignalPath, path, confidencePath)
	}
	for _, symbol := range symbolPattern.FindAllString(text, -1) {
		add(models.SignalSymbol, symbol, confidenceSymbol)
	}
	return signals
}
