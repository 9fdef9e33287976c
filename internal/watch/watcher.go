// Package watch propagates selected-wallet changes to connected tabs
// and extension surfaces.
package watch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kda-wallet/bridge/internal/logger"
	"github.com/kda-wallet/bridge/internal/session"
	"github.com/kda-wallet/bridge/pkg/types"
)

const msgAccountChanged = "Account changed"

// Broadcaster delivers response envelopes to content-script channels.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg any, tabID int)
}

// SurfaceNotifier pushes messages to connected extension surfaces.
type SurfaceNotifier interface {
	Notify(ctx context.Context, msg any)
}

// Watcher observes the session store and fans wallet changes out. When
// the selected wallet's identity moves, session access grants are
// revoked and, after a settle delay that lets the new wallet's state
// land, every open tab is told the account changed.
type Watcher struct {
	session     *session.Service
	broadcaster Broadcaster
	surfaces    SurfaceNotifier
	settleDelay time.Duration
	after       func(time.Duration, func()) *time.Timer
}

// New creates a watcher. It does nothing until Start is called.
func New(sess *session.Service, broadcaster Broadcaster, surfaces SurfaceNotifier, settleDelay time.Duration) *Watcher {
	return &Watcher{
		session:     sess,
		broadcaster: broadcaster,
		surfaces:    surfaces,
		settleDelay: settleDelay,
		after:       time.AfterFunc,
	}
}

// Start subscribes the watcher to store changes.
func (w *Watcher) Start() {
	w.session.Store().Subscribe(func(c session.Change) {
		if c.Key != session.KeySelectedWallet {
			return
		}
		w.onWalletChange(c)
	})
}

func (w *Watcher) onWalletChange(c session.Change) {
	ctx := context.Background()

	oldWallet := decodeWallet(c.Old)
	newWallet := decodeWallet(c.New)

	// Grants are revoked when the wallet is cleared, or when a
	// replacement wallet differs in account or chain from a previous
	// one. A wallet appearing where none was before keeps the grants.
	if newWallet == nil ||
		(oldWallet != nil && (newWallet.Account != oldWallet.Account || newWallet.ChainID != oldWallet.ChainID)) {
		if err := w.session.SetActiveDomains(ctx, []string{}); err != nil {
			logger.Error(ctx, "failed to revoke access grants", "error", err)
		}
	}

	w.after(w.settleDelay, func() {
		w.broadcaster.Broadcast(ctx, types.ResponseEnvelope{
			Target: types.TargetContent,
			Action: types.ResAccountChange,
			Result: &types.Result{
				Status:  types.StatusSuccess,
				Message: msgAccountChanged,
			},
		}, 0)
	})

	w.surfaces.Notify(ctx, types.ResponseEnvelope{
		Target: types.TargetExtension,
		Action: types.ActionSyncData,
	})
}

// decodeWallet reads a stored wallet value, treating absent, null and
// malformed values alike as "no wallet".
func decodeWallet(raw []byte) *types.StoredWallet {
	if len(raw) == 0 {
		return nil
	}
	var wallet *types.StoredWallet
	if err := json.Unmarshal(raw, &wallet); err != nil {
		return nil
	}
	return wallet
}
