package permissions

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// PathInspector escalates file operations whose path argument falls
// outside the workspace root. In-workspace writes keep their base risk;
// anything touching the wider filesystem is high risk.
func PathInspector(workspaceRoot string, argKeys ...string) Inspector {
	if len(argKeys) == 0 {
		argKeys = []string{"path"}
	}
	root := filepath.Clean(workspaceRoot)

	return func(args json.RawMessage) RiskLevel {
		var payload map[string]any
		if err := json.Unmarshal(args, &payload); err != nil {
			// Unparseable arguments get the benefit of no escalation;
			// the registry rejects them before execution anyway.
			return RiskLow
		}

		for _, key := range argKeys {
			raw, ok := payload[key].(string)
			if !ok || raw == "" {
				continue
			}
			if !withinRoot(root, raw) {
				return RiskHigh
			}
		}
		return RiskLow
	}
}

func withinRoot(root, candidate string) bool {
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// ShellInspector escalates shell commands containing destructive or
// privilege-raising constructs to critical.
func ShellInspector() Inspector {
	dangerous := []string{"rm -rf", "sudo ", "mkfs", "dd if=", "> /dev/", "chmod -R 777"}

	return func(args json.RawMessage) RiskLevel {
		var payload struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return RiskLow
		}
		cmd := strings.ToLower(payload.Command)
		for _, pattern := range dangerous {
			if strings.Contains(cmd, pattern) {
				return RiskCritical
			}
		}
		return RiskLow
	}
}
