package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sent struct {
	to        []string
	broadcast bool
	event     string
	payload   any
}

// recorder captures everything the router emits.
type recorder struct {
	sent []sent
}

func (r *recorder) Emit(connIDs []string, event string, payload any) {
	r.sent = append(r.sent, sent{to: append([]string(nil), connIDs...), event: event, payload: payload})
}

func (r *recorder) Broadcast(event string, payload any) {
	r.sent = append(r.sent, sent{broadcast: true, event: event, payload: payload})
}

func (r *recorder) reset() { r.sent = nil }

func (r *recorder) events() []string {
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.event)
	}
	return out
}

// received returns the payloads of event that reached connID, either directly or via broadcast.
func (r *recorder) received(connID, event string) []any {
	var out []any
	for _, s := range r.sent {
		if s.event != event {
			continue
		}
		if s.broadcast {
			out = append(out, s.payload)
			continue
		}
		for _, id := range s.to {
			if id == connID {
				out = append(out, s.payload)
				break
			}
		}
	}
	return out
}

func (r *recorder) last(event string) (sent, bool) {
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].event == event {
			return r.sent[i], true
		}
	}
	return sent{}, false
}

var errBoom = errors.New("boom")

// memLog is an in-memory DurableLog.
type memLog struct {
	mu       sync.Mutex
	messages []Message
	rooms    []RoomInfo
	failAll  bool
	failList bool
}

func (l *memLog) AppendMessage(_ context.Context, msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll {
		return errBoom
	}
	l.messages = append(l.messages, msg.Clone())
	return nil
}

func (l *memLog) UpdateMessage(_ context.Context, id string, patch MessagePatch) (*Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll {
		return nil, errBoom
	}
	for i := range l.messages {
		m := &l.messages[i]
		if m.ID != id {
			continue
		}
		if patch.Body != nil {
			m.Body = *patch.Body
		}
		if patch.IsEdited != nil {
			m.IsEdited = *patch.IsEdited
		}
		if patch.EditedAt != nil {
			at := *patch.EditedAt
			m.EditedAt = &at
		}
		if patch.Reactions != nil {
			m.Reactions = patch.Reactions.Clone()
		}
		c := m.Clone()
		return &c, nil
	}
	return nil, nil
}

func (l *memLog) DeleteMessage(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll {
		return false, errBoom
	}
	for i, m := range l.messages {
		if m.ID == id {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (l *memLog) ListMessages(context.Context) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...), nil
}

func (l *memLog) ListMessagesByRoom(_ context.Context, roomID string, limit, offset int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var in []Message
	for _, m := range l.messages {
		if m.RoomID == roomID {
			in = append(in, m)
		}
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].ID < in[j].ID })
	end := len(in) - offset
	if end <= 0 {
		return nil, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return in[start:end], nil
}

func (l *memLog) ListRooms(context.Context) ([]RoomInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failList || l.failAll {
		return nil, errBoom
	}
	return append([]RoomInfo(nil), l.rooms...), nil
}

func (l *memLog) UpsertRoom(_ context.Context, room RoomInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAll {
		return errBoom
	}
	for i := range l.rooms {
		if l.rooms[i].ID == room.ID {
			l.rooms[i] = room
			return nil
		}
	}
	l.rooms = append(l.rooms, room)
	return nil
}

func (l *memLog) message(id string) (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return Message{}, false
}

// newTestRouter returns a bootstrapped router that persists inline.
func newTestRouter(t *testing.T) (*Router, *recorder, *memLog) {
	t.Helper()
	dl := &memLog{}
	rec := &recorder{}
	r := NewRouter(dl, Inline{Timeout: time.Second}, rec)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	require.NoError(t, r.Bootstrap(context.Background()))
	return r, rec, dl
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// join sends user_join and returns the assigned userId.
func join(t *testing.T, r *Router, rec *recorder, connID, name string) string {
	t.Helper()
	r.HandleEvent(connID, EventUserJoin, raw(t, name))
	s, ok := r.sessions.Lookup(connID)
	require.True(t, ok, "session for %s", connID)
	rec.reset()
	return s.UserID
}
