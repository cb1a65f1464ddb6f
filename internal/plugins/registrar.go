package plugins

import (
	"fmt"

	"github.com/vellum-dev/vellum/internal/agent"
)

// ToolRegistrar is the registration surface of the tool registry.
type ToolRegistrar interface {
	Register(tool agent.Tool) error
}

// RegisterTool admits one plugin-supplied tool into a registry. The gate
// is consulted first; a plugin that fails integrity, trust, or capability
// checks never reaches the registry. cap names the capability the tool's
// operation requires.
func RegisterTool(gate *Gate, registrar ToolRegistrar, pluginName string, pluginBytes []byte, cap Capability, tool agent.Tool) error {
	if err := gate.Authorize(pluginName, pluginBytes, cap); err != nil {
		return fmt.Errorf("register tool %s: %w", tool.Name(), err)
	}
	return registrar.Register(tool)
}
