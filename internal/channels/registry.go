// Package channels tracks the long-lived message pipe of each browser
// tab and delivers outbound envelopes to them.
package channels

import (
	"context"
	"sync"

	"github.com/kda-wallet/bridge/internal/logger"
)

// Channel is a live bidirectional pipe bound to exactly one tab.
type Channel interface {
	TabID() int
	Send(msg any) error
	Close() error
}

// TabLister enumerates the tabs of the currently focused browser
// window. Injected so untargeted broadcasts can be tested without a
// browser.
type TabLister interface {
	OpenTabs(ctx context.Context) ([]int, error)
}

// Registry maps each tab to its single open channel, preserving
// registration order for untargeted delivery.
type Registry struct {
	mu       sync.RWMutex
	channels map[int]Channel
	order    []int
	tabs     TabLister

	// OnDeliveryError observes swallowed send failures. Optional.
	OnDeliveryError func(tabID int, err error)
}

// NewRegistry creates a registry using tabs for untargeted delivery.
// A nil tabs falls back to AllTabs.
func NewRegistry(tabs TabLister) *Registry {
	r := &Registry{
		channels: make(map[int]Channel),
		tabs:     tabs,
	}
	if tabs == nil {
		r.tabs = AllTabs{Registry: r}
	}
	return r
}

// Register binds ch as the sole channel of its tab and returns the
// channel it superseded, if any, so the caller can close it instead of
// leaking it. A re-registered tab keeps its original delivery position.
func (r *Registry) Register(ch Channel) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabID := ch.TabID()
	prior, existed := r.channels[tabID]
	r.channels[tabID] = ch
	if !existed {
		r.order = append(r.order, tabID)
	}
	return prior
}

// Lookup returns the channel for tabID.
func (r *Registry) Lookup(tabID int) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[tabID]
	return ch, ok
}

// Remove unbinds ch from its tab. It is a no-op when a newer channel
// has already taken the slot.
func (r *Registry) Remove(tabID int, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.channels[tabID]
	if !ok || current != ch {
		return
	}
	delete(r.channels, tabID)
	for i, id := range r.order {
		if id == tabID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Broadcast delivers msg. With a positive tabID it goes only to that
// tab's channel; a missing channel or failed send is swallowed. With
// tabID zero it goes to the first registered channel whose tab is in
// the focused window, then stops. Delivery failures never surface to
// the caller.
func (r *Registry) Broadcast(ctx context.Context, msg any, tabID int) {
	if tabID > 0 {
		ch, ok := r.Lookup(tabID)
		if !ok {
			return
		}
		if err := ch.Send(msg); err != nil {
			r.deliveryFailed(ctx, tabID, err)
		}
		return
	}

	openTabs, err := r.tabs.OpenTabs(ctx)
	if err != nil {
		logger.Debug(ctx, "failed to list open tabs", "error", err)
		return
	}
	open := make(map[int]bool, len(openTabs))
	for _, id := range openTabs {
		open[id] = true
	}

	r.mu.RLock()
	order := make([]int, len(r.order))
	copy(order, r.order)
	channels := make(map[int]Channel, len(r.channels))
	for id, ch := range r.channels {
		channels[id] = ch
	}
	r.mu.RUnlock()

	for _, id := range order {
		if !open[id] {
			continue
		}
		if err := channels[id].Send(msg); err != nil {
			r.deliveryFailed(ctx, id, err)
		}
		// Deliver to the first open tab only, success or not.
		return
	}
}

func (r *Registry) deliveryFailed(ctx context.Context, tabID int, err error) {
	logger.Debug(ctx, "channel delivery failed", "tab_id", tabID, "error", err)
	if r.OnDeliveryError != nil {
		r.OnDeliveryError(tabID, err)
	}
}

// AllTabs is a TabLister that treats every registered tab as open.
// Used when the bridge runs without a browser-side tab reporter.
type AllTabs struct {
	Registry *Registry
}

// OpenTabs returns every registered tab in delivery order.
func (a AllTabs) OpenTabs(ctx context.Context) ([]int, error) {
	a.Registry.mu.RLock()
	defer a.Registry.mu.RUnlock()

	tabs := make([]int, len(a.Registry.order))
	copy(tabs, a.Registry.order)
	return tabs, nil
}
