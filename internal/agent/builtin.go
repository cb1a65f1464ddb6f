package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vellum-dev/vellum/internal/permissions"
)

// maxReadFileBytes caps read_file output fed back to the model.
const maxReadFileBytes = 256 << 10

type readFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=File path to read"`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path to write"`
	Content string `json:"content" jsonschema:"description=Full file content"`
}

type shellExecuteArgs struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to run"`
}

// RegisterBuiltinTools registers the read_file, write_file, and
// shell_execute tools and their permission profiles. Paths resolve
// relative to workspaceRoot.
func RegisterBuiltinTools(registry *Registry, engine *permissions.Engine, workspaceRoot string) error {
	tools := []Tool{
		&FuncTool{
			ToolName:        "read_file",
			ToolDescription: "Read a file and return its contents.",
			InputSchema:     SchemaFor[readFileArgs](),
			ReadOnly:        true,
			Handler: func(_ context.Context, args json.RawMessage) (*ToolResult, error) {
				var in readFileArgs
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				data, err := os.ReadFile(resolvePath(workspaceRoot, in.Path))
				if err != nil {
					return &ToolResult{Content: err.Error(), IsError: true}, nil
				}
				if len(data) > maxReadFileBytes {
					data = data[:maxReadFileBytes]
				}
				return &ToolResult{Content: string(data)}, nil
			},
		},
		&FuncTool{
			ToolName:        "write_file",
			ToolDescription: "Write content to a file, creating parent directories as needed.",
			InputSchema:     SchemaFor[writeFileArgs](),
			Handler: func(_ context.Context, args json.RawMessage) (*ToolResult, error) {
				var in writeFileArgs
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				target := resolvePath(workspaceRoot, in.Path)
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return &ToolResult{Content: err.Error(), IsError: true}, nil
				}
				if err := os.WriteFile(target, []byte(in.Content), 0o644); err != nil {
					return &ToolResult{Content: err.Error(), IsError: true}, nil
				}
				return &ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path)}, nil
			},
		},
		&FuncTool{
			ToolName:        "shell_execute",
			ToolDescription: "Run a shell command in the workspace and return its output.",
			InputSchema:     SchemaFor[shellExecuteArgs](),
			Handler: func(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
				var in shellExecuteArgs
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				cmd := exec.CommandContext(ctx, "sh", "-c", in.Command)
				cmd.Dir = workspaceRoot
				out, err := cmd.CombinedOutput()
				content := strings.TrimSpace(string(out))
				if err != nil {
					if content == "" {
						content = err.Error()
					} else {
						content = fmt.Sprintf("%s\n%v", content, err)
					}
					return &ToolResult{Content: content, IsError: true}, nil
				}
				return &ToolResult{Content: content}, nil
			},
		},
	}

	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	if engine != nil {
		engine.RegisterProfile("read_file", permissions.ToolProfile{
			BaseRisk:   permissions.RiskLow,
			Capability: permissions.CapabilityFileRead,
			Inspect:    permissions.PathInspector(workspaceRoot),
		})
		engine.RegisterProfile("write_file", permissions.ToolProfile{
			BaseRisk:   permissions.RiskMedium,
			Capability: permissions.CapabilityFileWrite,
			Inspect:    permissions.PathInspector(workspaceRoot),
		})
		engine.RegisterProfile("shell_execute", permissions.ToolProfile{
			BaseRisk:   permissions.RiskHigh,
			Capability: permissions.CapabilityShellExecute,
			Inspect:    permissions.ShellInspector(),
		})
	}
	return nil
}

func resolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}
