// Package dispatch routes inbound channel messages to authorization
// engine operations and handles the one-shot relay path.
package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/kda-wallet/bridge/internal/channels"
	"github.com/kda-wallet/bridge/internal/engine"
	"github.com/kda-wallet/bridge/internal/logger"
	"github.com/kda-wallet/bridge/internal/metrics"
	"github.com/kda-wallet/bridge/pkg/types"
)

// Dispatcher maps action names onto engine operations. The tab identity
// used for authorization always comes from the channel, never from the
// message payload; the one-shot relay is the sole, unauthorized
// exception.
type Dispatcher struct {
	engine   *engine.Engine
	registry *channels.Registry
	limiter  *DomainLimiter
	metrics  *metrics.Metrics
}

// New creates a dispatcher.
func New(eng *engine.Engine, registry *channels.Registry, limiter *DomainLimiter, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		engine:   eng,
		registry: registry,
		limiter:  limiter,
		metrics:  m,
	}
}

// HandleMessage consumes one raw envelope from a tab channel.
func (d *Dispatcher) HandleMessage(ctx context.Context, tabID int, raw []byte) {
	ctx = logger.WithRequestID(ctx, uuid.NewString())
	ctx = logger.WithTabID(ctx, tabID)

	var req types.RequestEnvelope
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Debug(ctx, "malformed envelope dropped", "error", err)
		return
	}
	if req.Action == "" {
		return
	}

	if d.limiter != nil && !d.limiter.Allow(req.Data.Domain) {
		d.metrics.RateLimitedTotal.Inc()
		logger.Warn(ctx, "request rate limited", "domain", req.Data.Domain, "action", string(req.Action))
		return
	}

	d.metrics.RequestsTotal.WithLabelValues(string(req.Action)).Inc()

	switch req.Action {
	case types.ActionConnect:
		d.engine.Connect(ctx, req.Data, tabID)
	case types.ActionDisconnect:
		d.engine.Disconnect(ctx, req.Data, tabID)
	case types.ActionRequestAccount:
		d.engine.RequestAccount(ctx, req.Data, tabID)
	case types.ActionGetNetwork:
		d.engine.GetNetwork(ctx)
	case types.ActionGetChain:
		d.engine.GetChain(ctx)
	case types.ActionGetSelectedAccount:
		d.engine.GetSelectedAccount(ctx)
	case types.ActionSendKadena:
		d.engine.SendKadena(ctx, req.Data, tabID)
	case types.ActionRequestSign:
		d.engine.RequestSign(ctx, req.Data, tabID)
	case types.ActionCheckStatus:
		d.engine.CheckStatus(ctx, req.Data, tabID)
	default:
		// No reply for unroutable actions, but they are observable.
		d.metrics.UnknownActionsTotal.Inc()
		logger.Debug(ctx, "unknown action dropped", "action", string(req.Action))
	}
}

// RelayAck acknowledges a relayed one-shot message.
type RelayAck struct {
	Status string `json:"status"`
}

// Relay forwards a one-shot message addressed to kda.background to the
// named tab's channel, verbatim minus the tabId and retagged for the
// content script. It trusts the caller-supplied tabId and must never
// carry authorization-sensitive actions. A nil ack means the message
// was not deliverable; the caller gets no error either way.
func (d *Dispatcher) Relay(ctx context.Context, raw []byte) *RelayAck {
	var probe struct {
		Target string `json:"target"`
		TabID  int    `json:"tabId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		logger.Debug(ctx, "malformed relay dropped", "error", err)
		return nil
	}
	if probe.Target != types.TargetBackground {
		return nil
	}

	ch, ok := d.registry.Lookup(probe.TabID)
	if !ok {
		return nil
	}

	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	delete(msg, "tabId")
	msg["target"] = types.TargetContent

	if err := ch.Send(msg); err != nil {
		logger.Debug(ctx, "relay delivery failed", "tab_id", probe.TabID, "error", err)
		return nil
	}

	d.metrics.RelaysTotal.Inc()
	return &RelayAck{Status: "ok"}
}

// RelayHandler serves POST /message for extension surfaces.
func (d *Dispatcher) RelayHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		ack := d.Relay(r.Context(), raw)
		if ack == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ack)
	})
}
