// Package service wires the domain packages (session, tool, event) and
// the optional adapters (policy, audit, metrics) into the orchestration
// the transport layer calls on every decoded message, and into the
// server facade that owns their lifecycle.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pardeike/gabp-server/internal/domain/auth"
	"github.com/pardeike/gabp-server/internal/domain/event"
	"github.com/pardeike/gabp-server/internal/domain/session"
	"github.com/pardeike/gabp-server/internal/domain/tool"
	"github.com/pardeike/gabp-server/internal/metrics"
	"github.com/pardeike/gabp-server/pkg/gabp"
)

// AgentInfo is the identity a server advertises in its welcome result.
type AgentInfo struct {
	AgentID    string
	AppName    string
	AppVersion string
}

// PolicyGate is implemented by an adapter over
// internal/adapter/outbound/policy.Engine (policyGateAdapter in
// cmd/gabp-server/cmd). Dispatcher depends on this narrow interface, not the package, so
// running without an authorization policy configured costs nothing.
type PolicyGate interface {
	Evaluate(evalCtx PolicyContext) (allowed bool, reason string, err error)
}

// PolicyContext mirrors policy.EvaluationContext's fields without
// importing that package from here.
type PolicyContext struct {
	ToolName      string
	Arguments     map[string]any
	Authenticated bool
	Platform      string
}

// Dispatcher routes decoded requests per the session state machine and
// method table. It holds no per-connection state itself — callers pass
// the Session and Subscriber for the connection a message arrived on.
type Dispatcher struct {
	verifier *auth.Verifier
	tools    *tool.Registry
	events   *event.Manager
	agent    AgentInfo
	policy   PolicyGate // nil disables authorization gating
	metrics  *metrics.Metrics // nil disables instrumentation
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher. policy, m, and logger may be nil.
func NewDispatcher(verifier *auth.Verifier, tools *tool.Registry, events *event.Manager, agent AgentInfo, policy PolicyGate, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{verifier: verifier, tools: tools, events: events, agent: agent, policy: policy, metrics: m, logger: logger}
}

type helloParams struct {
	Token         string `json:"token"`
	BridgeVersion string `json:"bridgeVersion"`
	Platform      string `json:"platform"`
	LaunchID      string `json:"launchId"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type eventsChannelsParams struct {
	Channels []string `json:"channels"`
}

// Dispatch handles one decoded message for the connection identified by
// sess/sub. It returns the response to send back, or nil if msg does not
// warrant one (responses and events arriving from a client are ignored
// this protocol has no client-originated methods of those
// types).
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, sub event.Subscriber, msg *gabp.Message) *gabp.Message {
	if !msg.IsRequest() {
		return nil
	}

	result := "ok"
	defer func() {
		if d.metrics != nil {
			d.metrics.RequestsTotal.WithLabelValues(msg.Method, result).Inc()
		}
	}()

	if msg.Method == "session/hello" {
		resp := d.handleHello(sess, msg)
		if resp.Error != nil {
			result = "error"
		}
		return resp
	}

	if sess.State() != session.StateAuthenticated {
		result = "error"
		return errorResponse(msg.ID, gabp.ErrSessionNotEstablished())
	}

	switch msg.Method {
	case "tools/list":
		return d.handleToolsList(msg)
	case "tools/call":
		resp := d.handleToolsCall(ctx, sess, msg)
		if resp.Error != nil {
			result = "error"
		}
		return resp
	case "events/subscribe":
		return d.handleEventsSubscribe(sub, msg)
	case "events/unsubscribe":
		return d.handleEventsUnsubscribe(sub, msg)
	default:
		result = "error"
		return errorResponse(msg.ID, gabp.ErrMethodNotFound(msg.Method))
	}
}

func (d *Dispatcher) handleHello(sess *session.Session, msg *gabp.Message) *gabp.Message {
	if sess.State() == session.StateAuthenticated {
		return errorResponse(msg.ID, gabp.ErrMethodNotAllowed("session already established"))
	}

	var params helloParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, gabp.ErrInvalidParams("params must be a JSON object"))
		}
	}

	if !d.verifier.Verify(params.Token) {
		return errorResponse(msg.ID, gabp.ErrAuthenticationFailed())
	}

	if err := sess.Authenticate(session.Handshake{
		BridgeVersion: params.BridgeVersion,
		Platform:      params.Platform,
		LaunchID:      params.LaunchID,
	}); err != nil {
		return errorResponse(msg.ID, gabp.ErrMethodNotAllowed(err.Error()))
	}

	welcome := map[string]any{
		"agentId": d.agent.AgentID,
		"app": map[string]string{
			"name":    d.agent.AppName,
			"version": d.agent.AppVersion,
		},
		"capabilities": map[string]any{
			"tools":     toolNames(d.tools.List()),
			"events":    channelNames(d.events.List()),
			"resources": []string{},
		},
		"schemaVersion": gabp.SchemaVersion,
	}
	resp, err := gabp.NewResult(msg.ID, welcome)
	if err != nil {
		d.logger.Error("dispatcher: marshal welcome result", "error", err)
		return errorResponse(msg.ID, gabp.ErrInternal("failed to build welcome result"))
	}
	return resp
}

func (d *Dispatcher) handleToolsList(msg *gabp.Message) *gabp.Message {
	resp, err := gabp.NewResult(msg.ID, map[string]any{"tools": d.tools.List()})
	if err != nil {
		return errorResponse(msg.ID, gabp.ErrInternal("failed to build tools/list result"))
	}
	return resp
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, sess *session.Session, msg *gabp.Message) *gabp.Message {
	var params toolsCallParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, gabp.ErrInvalidParams("params must be a JSON object"))
		}
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return errorResponse(msg.ID, gabp.ErrInvalidParams("name is required"))
	}
	if !d.tools.Has(name) {
		return errorResponse(msg.ID, gabp.ErrToolNotFound(name))
	}

	if d.policy != nil {
		var argsForPolicy map[string]any
		_ = json.Unmarshal(params.Arguments, &argsForPolicy)
		h := sess.Handshake()
		allowed, reason, err := d.policy.Evaluate(PolicyContext{
			ToolName:      name,
			Arguments:     argsForPolicy,
			Authenticated: sess.Authenticated(),
			Platform:      h.Platform,
		})
		if err != nil {
			return errorResponse(msg.ID, gabp.ErrInternal(fmt.Sprintf("policy evaluation failed: %v", err)))
		}
		if !allowed {
			return errorResponse(msg.ID, gabp.ErrMethodNotAllowed(reason))
		}
	}

	start := time.Now()
	result, err := d.tools.Call(ctx, name, params.Arguments)
	if d.metrics != nil {
		d.metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return errorResponse(msg.ID, gabp.ErrInternal(err.Error()))
	}

	resp, marshalErr := gabp.NewResult(msg.ID, result)
	if marshalErr != nil {
		return errorResponse(msg.ID, gabp.ErrInternal("failed to marshal tool result"))
	}
	return resp
}

func (d *Dispatcher) handleEventsSubscribe(sub event.Subscriber, msg *gabp.Message) *gabp.Message {
	var params eventsChannelsParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Channels == nil {
		return errorResponse(msg.ID, gabp.ErrInvalidParams("channels is required"))
	}
	subscribed := d.events.Subscribe(sub, params.Channels)
	resp, err := gabp.NewResult(msg.ID, map[string]any{"subscribed": subscribed})
	if err != nil {
		return errorResponse(msg.ID, gabp.ErrInternal("failed to build events/subscribe result"))
	}
	return resp
}

func (d *Dispatcher) handleEventsUnsubscribe(sub event.Subscriber, msg *gabp.Message) *gabp.Message {
	var params eventsChannelsParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Channels == nil {
		return errorResponse(msg.ID, gabp.ErrInvalidParams("channels is required"))
	}
	unsubscribed := d.events.Unsubscribe(sub, params.Channels)
	resp, err := gabp.NewResult(msg.ID, map[string]any{"unsubscribed": unsubscribed})
	if err != nil {
		return errorResponse(msg.ID, gabp.ErrInternal("failed to build events/unsubscribe result"))
	}
	return resp
}

func errorResponse(requestID string, gabpErr *gabp.Error) *gabp.Message {
	return gabp.NewErrorResponse(requestID, gabpErr)
}

func toolNames(descs []tool.Descriptor) []string {
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

func channelNames(channels []event.Channel) []string {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = c.Name
	}
	return names
}
