package chat

import (
	"strings"
	"time"
)

const (
	// MaxBodyLength 是消息正文与房间名的截断长度（按字符计）。
	MaxBodyLength = 500
	// PrivateRoomID 标记私聊消息，这类消息不进入任何房间历史。
	PrivateRoomID = "private"
)

// Reactions 记录 emoji 到用户 ID 有序集合的映射。
type Reactions map[string][]string

// Add 把 userID 加入 emoji 集合，已存在时返回 false。
func (r Reactions) Add(emoji, userID string) bool {
	for _, id := range r[emoji] {
		if id == userID {
			return false
		}
	}
	r[emoji] = append(r[emoji], userID)
	return true
}

// Remove 从 emoji 集合移除 userID，集合为空时删除该 emoji。
func (r Reactions) Remove(emoji, userID string) bool {
	ids, ok := r[emoji]
	if !ok {
		return false
	}
	out := ids[:0:0]
	for _, id := range ids {
		if id != userID {
			out = append(out, id)
		}
	}
	if len(out) == len(ids) {
		return false
	}
	if len(out) == 0 {
		delete(r, emoji)
	} else {
		r[emoji] = out
	}
	return true
}

// Clone 深拷贝，结果永远非 nil。
func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for k, v := range r {
		out[k] = append([]string(nil), v...)
	}
	return out
}

type Message struct {
	ID             string
	SenderID       string
	SenderUsername string
	Body           string
	RoomID         string
	CreatedAt      time.Time
	IsEdited       bool
	EditedAt       *time.Time
	IsPrivate      bool
	RecipientID    string
	Reactions      Reactions
}

// Clone 生成独立副本，交给异步持久化时使用，避免与事件循环共享可变状态。
func (m *Message) Clone() Message {
	c := *m
	c.Reactions = m.Reactions.Clone()
	if m.EditedAt != nil {
		at := *m.EditedAt
		c.EditedAt = &at
	}
	return c
}

// MessagePatch 描述对持久化消息的部分更新，nil 字段保持不变。
type MessagePatch struct {
	Body      *string
	IsEdited  *bool
	EditedAt  *time.Time
	Reactions Reactions
}

// MessageView 是消息在线上协议与查询接口中的形态。
type MessageView struct {
	ID             string     `json:"id"`
	SenderID       string     `json:"senderId"`
	SenderUsername string     `json:"senderUsername"`
	Message        string     `json:"message"`
	RoomID         string     `json:"roomId"`
	Timestamp      time.Time  `json:"timestamp"`
	IsRead         bool       `json:"isRead"`
	Reactions      Reactions  `json:"reactions"`
	IsEdited       bool       `json:"isEdited"`
	EditedAt       *time.Time `json:"editedAt"`
	IsPrivate      bool       `json:"isPrivate"`
	RecipientID    *string    `json:"recipientId"`
}

func (m *Message) View() MessageView {
	v := MessageView{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		Message:        m.Body,
		RoomID:         m.RoomID,
		Timestamp:      m.CreatedAt,
		Reactions:      m.Reactions.Clone(),
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		IsPrivate:      m.IsPrivate,
	}
	if m.RecipientID != "" {
		rid := m.RecipientID
		v.RecipientID = &rid
	}
	return v
}

// Sanitize 去掉首尾空白并按字符截断到 MaxBodyLength。
func Sanitize(s string) string {
	return truncate(strings.TrimSpace(s), MaxBodyLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
