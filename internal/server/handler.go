package server

import (
	"net/http"
	"strconv"
	"time"

	"chathub/internal/chat"
	"chathub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler 提供只读查询接口。会话与房间状态只能在事件循环中读取，因此经 Hub.Do 取快照。
type Handler struct {
	hub    *ws.Hub
	router *chat.Router
	log    chat.DurableLog
}

func NewHandler(hub *ws.Hub, router *chat.Router, dl chat.DurableLog) *Handler {
	return &Handler{hub: hub, router: router, log: dl}
}

func (h *Handler) snapshot(c *gin.Context, fn func()) bool {
	if err := h.hub.Do(c.Request.Context(), fn); err != nil {
		log.Warn().Err(err).Str("path", c.FullPath()).Msg("read state")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
		return false
	}
	return true
}

func views(msgs []chat.Message) []chat.MessageView {
	out := make([]chat.MessageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].View())
	}
	return out
}

// ListMessages 返回持久化日志中的全部消息。
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.log.ListMessages(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, views(msgs))
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// ListRoomMessages 按 limit/offset 分页读取房间历史，结果按时间正序。
func (h *Handler) ListRoomMessages(c *gin.Context) {
	roomID := c.Param("roomId")
	limit := queryInt(c, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(c, "offset", 0)

	msgs, err := h.log.ListMessagesByRoom(c.Request.Context(), roomID, limit, offset)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("list room messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, views(msgs))
}

func (h *Handler) ListRooms(c *gin.Context) {
	var rooms []chat.RoomView
	if !h.snapshot(c, func() { rooms = h.router.Rooms() }) {
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) ListUsers(c *gin.Context) {
	var users []chat.UserView
	if !h.snapshot(c, func() { users = h.router.Users() }) {
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) GetUser(c *gin.Context) {
	var (
		user  chat.UserView
		found bool
	)
	if !h.snapshot(c, func() { user, found = h.router.User(c.Param("userId")) }) {
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// Health 返回在线用户数与房间数。
func (h *Handler) Health(c *gin.Context) {
	var users, rooms int
	if !h.snapshot(c, func() { users, rooms = h.router.Stats() }) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"users":       users,
		"rooms":       rooms,
		"connections": h.hub.Online(),
	})
}
