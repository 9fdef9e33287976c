package popup

import (
	"context"

	"github.com/kda-wallet/bridge/pkg/types"
)

// HubNotifier delivers instructions to connected extension surfaces.
type HubNotifier interface {
	Notify(ctx context.Context, msg any)
}

// WindowInstruction tells the extension front end to create a window.
type WindowInstruction struct {
	Target  string       `json:"target"`
	Action  types.Action `json:"action"`
	Options Options      `json:"options"`
}

// ActionCreateWindow is the surface instruction to open a popup.
const ActionCreateWindow types.Action = "create_window"

// SurfaceWindowManager implements WindowManager by delegating window
// creation to the extension surfaces through the hub. Window geometry
// of the last focused window is reported by configuration; a headless
// bridge has no way to observe it directly.
type SurfaceWindowManager struct {
	hub    HubNotifier
	bounds Bounds
}

// NewSurfaceWindowManager creates a window manager that emits create
// instructions via hub, treating bounds as the last focused window.
func NewSurfaceWindowManager(hub HubNotifier, bounds Bounds) *SurfaceWindowManager {
	return &SurfaceWindowManager{hub: hub, bounds: bounds}
}

// LastFocused returns the configured window bounds.
func (m *SurfaceWindowManager) LastFocused(ctx context.Context) (Bounds, error) {
	return m.bounds, nil
}

// CreatePopup pushes a create-window instruction to all surfaces.
func (m *SurfaceWindowManager) CreatePopup(ctx context.Context, opts Options) error {
	m.hub.Notify(ctx, WindowInstruction{
		Target:  types.TargetExtension,
		Action:  ActionCreateWindow,
		Options: opts,
	})
	return nil
}
