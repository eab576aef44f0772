package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"chathub/internal/chat"
	"chathub/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ErrHubStopped 表示事件循环已经退出。
var ErrHubStopped = errors.New("hub stopped")

// EventHandler 在事件循环中处理入站事件与断线。
type EventHandler interface {
	HandleEvent(connID, event string, data json.RawMessage)
	HandleDisconnect(connID string)
}

// Envelope 是线上帧格式：{"event": "...", "data": ...}。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type opKind int

const (
	opRegister opKind = iota
	opEvent
	opInvalid
	opUnregister
	opCall
)

type inbound struct {
	kind   opKind
	client *Client
	event  string
	data   json.RawMessage
	call   func()
}

// Hub 是唯一的事件循环：注册、入站事件、注销与查询都经同一个 channel 串行处理，
// 因此同一连接的事件按到达顺序生效，处理器无需加锁。
type Hub struct {
	in      chan inbound
	done    chan struct{}
	clients map[string]*Client
	evicted []*Client
	online  int32
}

func NewHub() *Hub {
	return &Hub{
		in:      make(chan inbound, 256),
		done:    make(chan struct{}),
		clients: make(map[string]*Client),
	}
}

// Run 运行事件循环直到 ctx 结束，退出时关闭所有连接的发送队列。
func (h *Hub) Run(ctx context.Context, handler EventHandler) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				h.drop(c)
			}
			return nil
		case in := <-h.in:
			h.dispatch(handler, in)
		}
		h.reap(handler)
	}
}

func (h *Hub) dispatch(handler EventHandler, in inbound) {
	c := in.client
	switch in.kind {
	case opCall:
		in.call()
	case opRegister:
		h.clients[c.id] = c
		atomic.StoreInt32(&h.online, int32(len(h.clients)))
		metrics.WsConnections.Inc()
		log.Debug().Str("conn_id", c.id).Str("remote", c.remote).Msg("ws connected")
	case opEvent, opInvalid:
		// 已被驱逐的连接仍可能有残留事件
		if h.clients[c.id] != c {
			return
		}
		if in.kind == opInvalid {
			h.Emit([]string{c.id}, chat.EventError, chat.ErrorPayload{Message: chat.UserMessage(chat.ErrInvalidPayload)})
			return
		}
		handler.HandleEvent(c.id, in.event, in.data)
	case opUnregister:
		if h.drop(c) {
			handler.HandleDisconnect(c.id)
		}
	}
}

// reap 对本轮被驱逐的慢连接执行断线清理，清理过程中可能产生新的驱逐。
func (h *Hub) reap(handler EventHandler) {
	for len(h.evicted) > 0 {
		c := h.evicted[0]
		h.evicted = h.evicted[1:]
		handler.HandleDisconnect(c.id)
	}
}

// drop 把连接移出 Hub 并关闭其发送队列，返回是否真正移除。
func (h *Hub) drop(c *Client) bool {
	if h.clients[c.id] != c {
		return false
	}
	delete(h.clients, c.id)
	close(c.send)
	atomic.StoreInt32(&h.online, int32(len(h.clients)))
	metrics.WsConnections.Dec()
	return true
}

func (h *Hub) deliver(c *Client, b []byte) {
	select {
	case c.send <- b:
	default:
		if h.drop(c) {
			metrics.SlowConsumers.Inc()
			log.Warn().Str("conn_id", c.id).Msg("send queue full, evicting slow consumer")
			h.evicted = append(h.evicted, c)
		}
	}
}

func encode(event string, payload any) ([]byte, bool) {
	b, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode outbound event")
		return nil, false
	}
	return b, true
}

// Emit 把事件发给指定连接，不存在的连接被忽略。只能在事件循环中调用。
func (h *Hub) Emit(connIDs []string, event string, payload any) {
	if len(connIDs) == 0 {
		return
	}
	b, ok := encode(event, payload)
	if !ok {
		return
	}
	for _, id := range connIDs {
		if c, ok := h.clients[id]; ok {
			h.deliver(c, b)
		}
	}
}

// Broadcast 把事件发给所有打开的连接。只能在事件循环中调用。
func (h *Hub) Broadcast(event string, payload any) {
	b, ok := encode(event, payload)
	if !ok {
		return
	}
	for _, c := range h.clients {
		h.deliver(c, b)
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.in <- in:
		return true
	case <-h.done:
		return false
	}
}

// Do 在事件循环中执行 fn 并等待其返回，供 HTTP 查询读取一致的快照。
// fn 排在此前已提交的事件之后执行。
func (h *Hub) Do(ctx context.Context, fn func()) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	finished := make(chan struct{})
	select {
	case h.in <- inbound{kind: opCall, call: func() { fn(); close(finished) }}:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrHubStopped
		}
	}
}

// Done 在事件循环退出后关闭。
func (h *Hub) Done() <-chan struct{} { return h.done }

// Online 返回当前打开的连接数，可在任意 goroutine 调用。
func (h *Hub) Online() int { return int(atomic.LoadInt32(&h.online)) }
