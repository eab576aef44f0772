package chat

import (
	"fmt"
	"time"

	"chathub/internal/avatar"

	"github.com/google/uuid"
)

const (
	GlobalRoomID      = "global"
	UsernameMinLength = 2
	UsernameMaxLength = 50
)

// Session 对应一条在线连接。
type Session struct {
	ConnID        string
	UserID        string
	Username      string
	Avatar        avatar.Avatar
	CurrentRoomID string
	CreatedAt     time.Time
}

// UserView 是在线用户名单中的单个用户。
type UserView struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	SocketID  string        `json:"socketId"`
	IsOnline  bool          `json:"isOnline"`
	Avatar    avatar.Avatar `json:"avatar"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (s *Session) View() UserView {
	return UserView{
		ID:        s.UserID,
		Username:  s.Username,
		SocketID:  s.ConnID,
		IsOnline:  true,
		Avatar:    s.Avatar,
		CreatedAt: s.CreatedAt,
	}
}

// SessionRegistry 以连接 ID 为键保存会话，并记住插入顺序。
// 只在事件循环中访问，不加锁。
type SessionRegistry struct {
	byConn map[string]*Session
	order  []string
	now    func() time.Time
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byConn: make(map[string]*Session), now: time.Now}
}

// SanitizeUsername 去空白并截断到 50 个字符，不合法时返回 ErrInvalidUsername。
func SanitizeUsername(raw string) (string, error) {
	name := truncate(Sanitize(raw), UsernameMaxLength)
	if n := len([]rune(name)); n < UsernameMinLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, raw)
	}
	return name, nil
}

// Create 为连接创建会话，生成新的 userId 与头像。不负责加入房间。
func (r *SessionRegistry) Create(connID, rawUsername string) (*Session, error) {
	name, err := SanitizeUsername(rawUsername)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ConnID:        connID,
		UserID:        uuid.NewString(),
		Username:      name,
		Avatar:        avatar.Generate(name),
		CurrentRoomID: GlobalRoomID,
		CreatedAt:     r.now().UTC(),
	}
	if _, exists := r.byConn[connID]; !exists {
		r.order = append(r.order, connID)
	}
	r.byConn[connID] = s
	return s, nil
}

func (r *SessionRegistry) Lookup(connID string) (*Session, bool) {
	s, ok := r.byConn[connID]
	return s, ok
}

// Remove 删除并返回会话，便于调用方做后续清理。
func (r *SessionRegistry) Remove(connID string) (*Session, bool) {
	s, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s, true
}

// List 按加入顺序返回当前所有会话的快照。
func (r *SessionRegistry) List() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byConn[id])
	}
	return out
}

// FindByUserID 查找某个 userId 当前的会话。
func (r *SessionRegistry) FindByUserID(userID string) (*Session, bool) {
	for _, id := range r.order {
		if s := r.byConn[id]; s.UserID == userID {
			return s, true
		}
	}
	return nil, false
}

// InRoom 返回当前停留在 roomID 的会话连接 ID。
func (r *SessionRegistry) InRoom(roomID string) []string {
	var out []string
	for _, id := range r.order {
		if r.byConn[id].CurrentRoomID == roomID {
			out = append(out, id)
		}
	}
	return out
}

func (r *SessionRegistry) Len() int { return len(r.byConn) }

func (r *SessionRegistry) Views() []UserView {
	out := make([]UserView, 0, len(r.order))
	for _, s := range r.List() {
		out = append(out, s.View())
	}
	return out
}
