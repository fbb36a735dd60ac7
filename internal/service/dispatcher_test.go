package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pardeike/gabp-server/internal/domain/auth"
	"github.com/pardeike/gabp-server/internal/domain/event"
	"github.com/pardeike/gabp-server/internal/domain/session"
	"github.com/pardeike/gabp-server/internal/domain/tool"
	"github.com/pardeike/gabp-server/pkg/gabp"
)

type fakeSubscriber struct{ id string }

func (f fakeSubscriber) ID() string            { return f.id }
func (f fakeSubscriber) Connected() bool       { return true }
func (f fakeSubscriber) Send(*gabp.Message) error { return nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	events := event.NewManager()
	events.Register("system/status", "System status events")

	tools := tool.NewRegistry()
	_ = tools.Register("inventory/get_item", func(ctx context.Context, args []byte) (any, error) {
		return map[string]string{"itemId": "potion"}, nil
	}, nil)

	return NewDispatcher(auth.NewVerifier("secret"), tools, events, AgentInfo{AgentID: "agent-1", AppName: "demo", AppVersion: "0.1.0"}, nil, nil, nil)
}

func helloRequest(id, token string) *gabp.Message {
	msg, _ := gabp.NewRequest(id, "session/hello", map[string]string{
		"token": token, "bridgeVersion": "0.1", "platform": "linux", "launchId": "L1",
	})
	return msg
}

func TestDispatchSessionHelloSuccess(t *testing.T) {
	d := newTestDispatcher(t)
	sess := session.New("c1")
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, helloRequest("r1", "secret"))
	if resp == nil || resp.Error != nil {
		t.Fatalf("Dispatch() = %+v, want success", resp)
	}
	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Unmarshal result: %v", err)
	}
	if result["agentId"] != "agent-1" || result["schemaVersion"] != gabp.SchemaVersion {
		t.Errorf("result = %+v", result)
	}
	if !sess.Authenticated() {
		t.Error("session should be authenticated after successful hello")
	}
}

func TestDispatchSessionHelloWrongToken(t *testing.T) {
	d := newTestDispatcher(t)
	sess := session.New("c1")
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, helloRequest("r1", "wrong"))
	if resp == nil || resp.Error == nil || resp.Error.Code != gabp.CodeAuthenticationFailed {
		t.Fatalf("Dispatch() = %+v, want AuthenticationFailed", resp)
	}
	if sess.Authenticated() {
		t.Error("session should remain unauthenticated after a bad token")
	}
}

func TestDispatchNonHelloBeforeAuthReturnsSessionNotEstablished(t *testing.T) {
	d := newTestDispatcher(t)
	sess := session.New("c1")
	msg, _ := gabp.NewRequest("r1", "tools/list", nil)
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, msg)
	if resp == nil || resp.Error == nil || resp.Error.Code != gabp.CodeSessionNotEstablished {
		t.Fatalf("Dispatch() = %+v, want SessionNotEstablished", resp)
	}
}

func TestDispatchReHelloAfterAuthReturnsMethodNotAllowed(t *testing.T) {
	d := newTestDispatcher(t)
	sess := session.New("c1")
	d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, helloRequest("r1", "secret"))

	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, helloRequest("r2", "secret"))
	if resp == nil || resp.Error == nil || resp.Error.Code != gabp.CodeMethodNotAllowed {
		t.Fatalf("Dispatch() = %+v, want MethodNotAllowed", resp)
	}
}

func authedSession(t *testing.T, d *Dispatcher, id string) *session.Session {
	t.Helper()
	sess := session.New(id)
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{id}, helloRequest("hello", "secret"))
	if resp == nil || resp.Error != nil {
		t.Fatalf("authedSession: hello failed: %+v", resp)
	}
	return sess
}

func TestDispatchToolsListReturnsRegisteredTools(t *testing.T) {
	d := newTestDispatcher(t)
	sess := authedSession(t, d, "c1")

	msg, _ := gabp.NewRequest("r1", "tools/list", nil)
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, msg)
	if resp == nil || resp.Error != nil {
		t.Fatalf("Dispatch() = %+v", resp)
	}
	var result struct {
		Tools []tool.Descriptor `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "inventory/get_item" {
		t.Errorf("tools = %+v", result.Tools)
	}
}

func TestDispatchToolsCallUnknownToolReturnsToolNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	sess := authedSession(t, d, "c1")

	msg, _ := gabp.NewRequest("r1", "tools/call", map[string]any{"name": "no/such"})
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, msg)
	if resp == nil || resp.Error == nil || resp.Error.Code != gabp.CodeToolNotFound {
		t.Fatalf("Dispatch() = %+v, want ToolNotFound", resp)
	}
}

func TestDispatchToolsCallMissingNameReturnsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	sess := authedSession(t, d, "c1")

	msg, _ := gabp.NewRequest("r1", "tools/call", map[string]any{})
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, msg)
	if resp == nil || resp.Error == nil || resp.Error.Code != gabp.CodeInvalidParams {
		t.Fatalf("Dispatch() = %+v, want InvalidParams", resp)
	}
}

func TestDispatchToolsCallSuccess(t *testing.T) {
	d := newTestDispatcher(t)
	sess := authedSession(t, d, "c1")

	msg, _ := gabp.NewRequest("r1", "tools/call", map[string]any{"name": "inventory/get_item"})
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, msg)
	if resp == nil || resp.Error != nil {
		t.Fatalf("Dispatch() = %+v", resp)
	}
}

func TestDispatchEventsSubscribeDropsUnknownChannel(t *testing.T) {
	d := newTestDispatcher(t)
	sess := authedSession(t, d, "c1")

	msg, _ := gabp.NewRequest("r1", "events/subscribe", map[string]any{"channels": []string{"system/status", "ghost"}})
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, msg)
	if resp == nil || resp.Error != nil {
		t.Fatalf("Dispatch() = %+v", resp)
	}
	var result struct {
		Subscribed []string `json:"subscribed"`
	}
	_ = json.Unmarshal(resp.Result, &result)
	if len(result.Subscribed) != 1 || result.Subscribed[0] != "system/status" {
		t.Errorf("subscribed = %+v", result.Subscribed)
	}
}

func TestDispatchUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	sess := authedSession(t, d, "c1")

	msg, _ := gabp.NewRequest("r1", "bogus/method", nil)
	resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, msg)
	if resp == nil || resp.Error == nil || resp.Error.Code != gabp.CodeMethodNotFound {
		t.Fatalf("Dispatch() = %+v, want MethodNotFound", resp)
	}
}

func TestDispatchIgnoresNonRequestMessages(t *testing.T) {
	d := newTestDispatcher(t)
	sess := authedSession(t, d, "c1")

	eventMsg, _ := gabp.NewEvent("system/status", 1, map[string]int{"k": 1}, time.Time{})
	if resp := d.Dispatch(context.Background(), sess, fakeSubscriber{"c1"}, eventMsg); resp != nil {
		t.Errorf("Dispatch(event) = %+v, want nil", resp)
	}
}
