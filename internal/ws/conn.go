package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"chathub/internal/config"
	"chathub/internal/metrics"
	"chathub/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait = 10 * time.Second
	sendQueue = 256
)

type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// Serve 升级 WebSocket 连接并把它注册到 Hub。
// rl 为 nil 时不做入站限速。
func Serve(h *Hub, cfg config.Config, rl *mw.RL) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return mw.OriginAllowed(cfg.Env, r.Header.Get("Origin"), r.Host)
		},
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Str("remote", c.Request.RemoteAddr).Msg("ws upgrade failed")
			return
		}
		client := &Client{
			id:     uuid.NewString(),
			hub:    h,
			conn:   conn,
			send:   make(chan []byte, sendQueue),
			remote: c.Request.RemoteAddr,
		}
		if !h.submit(inbound{kind: opRegister, client: client}) {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
			return
		}

		go client.writePump(cfg.PingInterval)
		client.readPump(cfg, rl)
	}
}

func (c *Client) readPump(cfg config.Config, rl *mw.RL) {
	defer func() {
		c.hub.submit(inbound{kind: opUnregister, client: c})
		if rl != nil {
			rl.Forget(c.id)
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(cfg.MaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("ws read")
			}
			return
		}
		if rl != nil && !rl.Allow(c.id) {
			metrics.EventsDropped.Inc()
			log.Warn().Str("conn_id", c.id).Msg("inbound event rate exceeded, dropping")
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			if !c.hub.submit(inbound{kind: opInvalid, client: c}) {
				return
			}
			continue
		}
		if !c.hub.submit(inbound{kind: opEvent, client: c, event: env.Event, data: env.Data}) {
			return
		}
	}
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
