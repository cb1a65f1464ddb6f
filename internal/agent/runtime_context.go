package agent

import (
	"log/slog"

	"github.com/vellum-dev/vellum/internal/contextmgr"
	"github.com/vellum-dev/vellum/internal/permissions"
	"github.com/vellum-dev/vellum/internal/sessions"
)

// RuntimeContext bundles the collaborators a loop run needs. Tests supply
// a fresh one per scenario; nothing in this package keeps package-level
// state.
type RuntimeContext struct {
	Logger      *slog.Logger
	Sessions    sessions.Store
	Permissions *permissions.Engine
	Context     *contextmgr.Manager
	Metrics     *Metrics
}

// normalize fills optional collaborators with inert defaults.
func (rc *RuntimeContext) normalize() {
	if rc.Logger == nil {
		rc.Logger = slog.Default()
	}
	if rc.Context == nil {
		rc.Context = contextmgr.NewManager(rc.Logger)
	}
}
