// Package popup opens transient consent surfaces. The presenter stages
// the request context in the session store first; the popup reads its
// seed from there, and the user's decision comes back as a store
// mutation, never through this package.
package popup

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kda-wallet/bridge/internal/session"
	"github.com/kda-wallet/bridge/pkg/types"
)

// Kind names a popup route. The route doubles as the store slot the
// popup reads its seed from.
type Kind string

const (
	// KindConnectedDapps asks the user to grant a brand-new connection.
	KindConnectedDapps Kind = "connected-dapps"

	// KindSignDapps re-confirms activity for a domain that already
	// holds persistent permission.
	KindSignDapps Kind = "sign-dapps"

	// KindDappsTransfer confirms an outgoing transfer.
	KindDappsTransfer Kind = "dapps-transfer"

	// KindSignedCmd confirms a signed command before broadcast.
	KindSignedCmd Kind = "signed-cmd"
)

// Popup geometry: a fixed surface pinned to the top-right of the last
// focused window with an 8px inset.
const (
	popupWidth  = 368
	popupHeight = 610
	popupOffset = 360
)

// Bounds describes a browser window's position and size.
type Bounds struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Options describes the popup window to create.
type Options struct {
	WindowID string `json:"windowId"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Top      int    `json:"top"`
	Left     int    `json:"left"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// WindowManager is the browser-side collaborator that knows window
// geometry and can create popup surfaces.
type WindowManager interface {
	LastFocused(ctx context.Context) (Bounds, error)
	CreatePopup(ctx context.Context, opts Options) error
}

// Presenter stages popup seed data and opens the matching surface.
type Presenter struct {
	session *session.Service
	windows WindowManager
}

// NewPresenter creates a presenter over the session service and window
// manager.
func NewPresenter(sess *session.Service, windows WindowManager) *Presenter {
	return &Presenter{session: sess, windows: windows}
}

// OpenDapps stages a connect or transfer payload and opens the popup of
// the given kind.
func (p *Presenter) OpenDapps(ctx context.Context, kind Kind, payload *types.DappsPayload) error {
	if err := p.session.StageDapps(ctx, payload); err != nil {
		return fmt.Errorf("failed to stage dapps payload: %w", err)
	}
	return p.open(ctx, kind)
}

// OpenSignedCmd stages a signed command and opens the signing
// confirmation popup.
func (p *Presenter) OpenSignedCmd(ctx context.Context, payload *types.SignedCmdPayload) error {
	if err := p.session.StageSignedCmd(ctx, payload); err != nil {
		return fmt.Errorf("failed to stage signed command: %w", err)
	}
	return p.open(ctx, KindSignedCmd)
}

func (p *Presenter) open(ctx context.Context, kind Kind) error {
	last, err := p.windows.LastFocused(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last focused window: %w", err)
	}

	opts := Options{
		WindowID: uuid.NewString(),
		URL:      fmt.Sprintf("index.html#/%s", kind),
		Type:     "popup",
		Top:      last.Top,
		Left:     last.Left + last.Width - popupOffset,
		Width:    popupWidth,
		Height:   popupHeight,
	}

	if err := p.windows.CreatePopup(ctx, opts); err != nil {
		return fmt.Errorf("failed to create popup window: %w", err)
	}
	return nil
}
