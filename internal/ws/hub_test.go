package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type call struct {
	connID string
	event  string
	data   string
}

// fakeHandler records calls; it is only touched from the hub loop or inside Do.
type fakeHandler struct {
	events      []call
	disconnects []string
	onEvent     func(h *Hub, connID, event string)
	hub         *Hub
}

func (f *fakeHandler) HandleEvent(connID, event string, data json.RawMessage) {
	f.events = append(f.events, call{connID: connID, event: event, data: string(data)})
	if f.onEvent != nil {
		f.onEvent(f.hub, connID, event)
	}
}

func (f *fakeHandler) HandleDisconnect(connID string) {
	f.disconnects = append(f.disconnects, connID)
}

func startHub(t *testing.T) (*Hub, *fakeHandler) {
	t.Helper()
	hub := NewHub()
	handler := &fakeHandler{hub: hub}
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx, handler)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub, handler
}

func newFakeClient(hub *Hub, id string, queue int) *Client {
	return &Client{id: id, hub: hub, send: make(chan []byte, queue)}
}

func register(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	if !hub.submit(inbound{kind: opRegister, client: c}) {
		t.Fatal("register: hub stopped")
	}
}

// settle waits until everything submitted so far has been processed.
func settle(t *testing.T, hub *Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := hub.Do(ctx, func() {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func recv(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case b, ok := <-c.send:
		if !ok {
			t.Fatalf("send queue of %s closed", c.id)
		}
		var f struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("bad frame %s: %v", b, err)
		}
		return frame{Event: f.Event, Data: string(f.Data)}
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.id)
	}
	return frame{}
}

func TestHub_RegisterAndOnline(t *testing.T) {
	hub, _ := startHub(t)
	if got := hub.Online(); got != 0 {
		t.Fatalf("Online() = %d, want 0", got)
	}
	register(t, hub, newFakeClient(hub, "a", 4))
	register(t, hub, newFakeClient(hub, "b", 4))
	settle(t, hub)
	if got := hub.Online(); got != 2 {
		t.Errorf("Online() = %d, want 2", got)
	}
}

func TestHub_EmitAndBroadcast(t *testing.T) {
	hub, _ := startHub(t)
	a := newFakeClient(hub, "a", 4)
	b := newFakeClient(hub, "b", 4)
	register(t, hub, a)
	register(t, hub, b)

	err := hub.Do(context.Background(), func() {
		hub.Emit([]string{"b", "ghost"}, "direct", map[string]int{"n": 1})
		hub.Broadcast("everyone", "hello")
	})
	if err != nil {
		t.Fatal(err)
	}

	if f := recv(t, b); f.Event != "direct" || f.Data != `{"n":1}` {
		t.Errorf("b got %+v", f)
	}
	if f := recv(t, a); f.Event != "everyone" || f.Data != `"hello"` {
		t.Errorf("a got %+v", f)
	}
	if f := recv(t, b); f.Event != "everyone" {
		t.Errorf("b got %+v", f)
	}
}

func TestHub_EventsKeepArrivalOrder(t *testing.T) {
	hub, handler := startHub(t)
	a := newFakeClient(hub, "a", 4)
	register(t, hub, a)
	for _, ev := range []string{"one", "two", "three"} {
		hub.submit(inbound{kind: opEvent, client: a, event: ev, data: json.RawMessage(`{}`)})
	}
	hub.submit(inbound{kind: opUnregister, client: a})

	var events []string
	var disconnects []string
	_ = hub.Do(context.Background(), func() {
		for _, c := range handler.events {
			events = append(events, c.event)
		}
		disconnects = append(disconnects, handler.disconnects...)
	})
	want := []string{"one", "two", "three"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
	if len(disconnects) != 1 || disconnects[0] != "a" {
		t.Errorf("disconnects = %v, want [a]", disconnects)
	}
	if _, ok := <-a.send; ok {
		t.Error("send queue should be closed after unregister")
	}
}

func TestHub_InvalidFrameGetsError(t *testing.T) {
	hub, handler := startHub(t)
	a := newFakeClient(hub, "a", 4)
	register(t, hub, a)
	hub.submit(inbound{kind: opInvalid, client: a})

	f := recv(t, a)
	if f.Event != "error" || f.Data != `{"message":"Invalid payload"}` {
		t.Errorf("got %+v", f)
	}
	settle(t, hub)
	_ = hub.Do(context.Background(), func() {
		if len(handler.events) != 0 {
			t.Errorf("handler saw %v", handler.events)
		}
	})
}

func TestHub_SlowConsumerIsEvicted(t *testing.T) {
	hub, handler := startHub(t)
	slow := newFakeClient(hub, "slow", 1)
	fast := newFakeClient(hub, "fast", 8)
	register(t, hub, slow)
	register(t, hub, fast)

	_ = hub.Do(context.Background(), func() {
		hub.Broadcast("x", 1)
		hub.Broadcast("x", 2)
	})
	settle(t, hub)

	if got := hub.Online(); got != 1 {
		t.Errorf("Online() = %d, want 1", got)
	}
	_ = hub.Do(context.Background(), func() {
		if len(handler.disconnects) != 1 || handler.disconnects[0] != "slow" {
			t.Errorf("disconnects = %v, want [slow]", handler.disconnects)
		}
	})
	// the buffered frame is still readable, then the queue is closed
	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("slow consumer queue should be closed")
	}

	// a late unregister from the read pump does not disconnect twice
	hub.submit(inbound{kind: opUnregister, client: slow})
	hub.submit(inbound{kind: opEvent, client: slow, event: "late"})
	settle(t, hub)
	_ = hub.Do(context.Background(), func() {
		if len(handler.disconnects) != 1 {
			t.Errorf("disconnects = %v", handler.disconnects)
		}
		if len(handler.events) != 0 {
			t.Errorf("events from evicted client: %v", handler.events)
		}
	})
}

func TestHub_HandlerCanEmitDuringEvent(t *testing.T) {
	hub, handler := startHub(t)
	handler.onEvent = func(h *Hub, connID, event string) {
		h.Emit([]string{connID}, "ack", event)
	}
	a := newFakeClient(hub, "a", 4)
	register(t, hub, a)
	hub.submit(inbound{kind: opEvent, client: a, event: "ping"})

	if f := recv(t, a); f.Event != "ack" || f.Data != `"ping"` {
		t.Errorf("got %+v", f)
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, &fakeHandler{}) }()

	a := newFakeClient(hub, "a", 4)
	register(t, hub, a)
	settle(t, hub)
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, ok := <-a.send; ok {
		t.Error("send queue should be closed on stop")
	}
	if err := hub.Do(context.Background(), func() {}); !errors.Is(err, ErrHubStopped) {
		t.Errorf("Do() after stop = %v, want ErrHubStopped", err)
	}
	if hub.submit(inbound{kind: opRegister, client: newFakeClient(hub, "b", 1)}) {
		t.Error("submit after stop should fail")
	}
}
