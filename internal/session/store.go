// Package session holds the bridge's durable state behind a small
// key-value contract. Backends are injected so the authorization engine
// can run against an in-memory double in tests and Postgres in
// production.
package session

import (
	"context"
	"sync"
)

// Well-known store keys.
const (
	KeySelectedNetwork = "selectedNetwork"
	KeySelectedWallet  = "selectedWallet"
	KeyAccountPassword = "accountPassword"
	KeyActiveDapps     = "activeDapps"
	KeyDapps           = "dapps"
	KeySignedCmd       = "signedCmd"
	KeyExpiredTime     = "expiredTime"
)

// Change describes a single key transition. Old is nil when the key was
// previously absent, New is nil after a delete.
type Change struct {
	Key string
	Old []byte
	New []byte
}

// Store is the persistence contract the bridge consumes. Values are
// opaque JSON. Subscribers are invoked after the write is visible,
// in registration order, on the writer's goroutine.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Subscribe(fn func(Change))
}

// broadcaster fans change notifications out to subscribers. Shared by
// both store backends.
type broadcaster struct {
	mu   sync.RWMutex
	subs []func(Change)
}

func (b *broadcaster) subscribe(fn func(Change)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

func (b *broadcaster) publish(c Change) {
	b.mu.RLock()
	subs := make([]func(Change), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(c)
	}
}
