package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MaxMessages 是每个房间内存历史的上限，超出后按先进先出淘汰。
const MaxMessages = 500

// WellKnownRooms 在启动时保证存在。
var WellKnownRooms = []RoomInfo{
	{ID: "global", Name: "Global", Description: "Global chat room"},
	{ID: "announcements", Name: "Announcements", Description: "Important announcements"},
	{ID: "random", Name: "Random", Description: "Off-topic discussions"},
}

type Room struct {
	RoomInfo
	members map[string]struct{}
	history []*Message
}

// RoomView 是房间在线上协议与查询接口中的形态。
type RoomView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	IsPrivate    bool      `json:"isPrivate"`
	CreatedAt    time.Time `json:"createdAt"`
	UserCount    int       `json:"userCount"`
	MessageCount int       `json:"messageCount"`
}

func (r *Room) View() RoomView {
	return RoomView{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		IsPrivate:    r.IsPrivate,
		CreatedAt:    r.CreatedAt,
		UserCount:    r.MemberCount(),
		MessageCount: len(r.history),
	}
}

// HasMember 判断用户是否已加入房间。
func (r *Room) HasMember(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

func (r *Room) MemberCount() int { return len(r.members) }

// History 返回内存历史的副本，按发送顺序。
func (r *Room) History() []*Message {
	return append([]*Message(nil), r.history...)
}

// RoomRegistry 持有全部房间，只在事件循环中访问。
type RoomRegistry struct {
	rooms       map[string]*Room
	order       []string
	maxMessages int
}

func NewRoomRegistry(maxMessages int) *RoomRegistry {
	if maxMessages <= 0 {
		maxMessages = MaxMessages
	}
	return &RoomRegistry{rooms: make(map[string]*Room), maxMessages: maxMessages}
}

// put 注册房间，已存在时保持原样并返回 false。
func (g *RoomRegistry) put(info RoomInfo) (*Room, bool) {
	if r, ok := g.rooms[info.ID]; ok {
		return r, false
	}
	r := &Room{RoomInfo: info, members: make(map[string]struct{})}
	g.rooms[info.ID] = r
	g.order = append(g.order, info.ID)
	return r, true
}

// EnsureWellKnownRooms 从持久化日志加载房间，并补建缺失的默认房间。可重复调用。
// 读取失败时仍会在内存中建立默认房间，错误返回给调用方上报。
func (g *RoomRegistry) EnsureWellKnownRooms(ctx context.Context, dl DurableLog) error {
	saved, loadErr := dl.ListRooms(ctx)
	if loadErr != nil {
		loadErr = fmt.Errorf("%w: list rooms: %v", ErrPersistenceFailure, loadErr)
	}
	for _, info := range saved {
		g.put(info)
	}
	persisted := make(map[string]bool, len(saved))
	for _, info := range saved {
		persisted[info.ID] = true
	}
	for _, wk := range WellKnownRooms {
		if persisted[wk.ID] {
			continue
		}
		info := wk
		if existing, ok := g.rooms[wk.ID]; ok {
			info = existing.RoomInfo
		} else {
			info.CreatedAt = time.Now().UTC()
			g.put(info)
		}
		if loadErr != nil {
			continue
		}
		if err := dl.UpsertRoom(ctx, info); err != nil {
			return fmt.Errorf("%w: upsert room %s: %v", ErrPersistenceFailure, info.ID, err)
		}
		log.Info().Str("room_id", info.ID).Msg("created well-known room")
	}
	return loadErr
}

// RestoreHistory 把持久化日志中每个房间最新的若干条消息装回内存窗口。
func (g *RoomRegistry) RestoreHistory(ctx context.Context, dl DurableLog) error {
	for _, id := range g.order {
		r := g.rooms[id]
		if len(r.history) > 0 {
			continue
		}
		msgs, err := dl.ListMessagesByRoom(ctx, id, g.maxMessages, 0)
		if err != nil {
			return fmt.Errorf("%w: restore room %s: %v", ErrPersistenceFailure, id, err)
		}
		for i := range msgs {
			m := msgs[i]
			if m.Reactions == nil {
				m.Reactions = Reactions{}
			}
			g.AppendMessage(id, &m)
		}
	}
	return nil
}

// Create 新建房间并把创建者设为首个成员，房间名允许重复。
func (g *RoomRegistry) Create(name, description string, isPrivate bool, creatorUserID string, now time.Time) *Room {
	r, _ := g.put(RoomInfo{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		IsPrivate:   isPrivate,
		CreatedAt:   now.UTC(),
	})
	r.members[creatorUserID] = struct{}{}
	return r
}

func (g *RoomRegistry) Get(roomID string) (*Room, bool) {
	r, ok := g.rooms[roomID]
	return r, ok
}

func (g *RoomRegistry) List() []*Room {
	out := make([]*Room, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.rooms[id])
	}
	return out
}

func (g *RoomRegistry) Len() int { return len(g.rooms) }

// AddMember 幂等地加入成员，房间不存在时返回 false。
func (g *RoomRegistry) AddMember(roomID, userID string) bool {
	r, ok := g.rooms[roomID]
	if !ok {
		return false
	}
	r.members[userID] = struct{}{}
	return true
}

// RemoveMember 幂等地移除成员。
func (g *RoomRegistry) RemoveMember(roomID, userID string) {
	if r, ok := g.rooms[roomID]; ok {
		delete(r.members, userID)
	}
}

// RemoveMemberEverywhere 断线时把用户从所有房间移除。
func (g *RoomRegistry) RemoveMemberEverywhere(userID string) {
	for _, r := range g.rooms {
		delete(r.members, userID)
	}
}

// AppendMessage 追加到内存历史，超过上限时淘汰最旧的一条；不影响持久化日志。
func (g *RoomRegistry) AppendMessage(roomID string, msg *Message) bool {
	r, ok := g.rooms[roomID]
	if !ok {
		return false
	}
	r.history = append(r.history, msg)
	if over := len(r.history) - g.maxMessages; over > 0 {
		copy(r.history, r.history[over:])
		for i := len(r.history) - over; i < len(r.history); i++ {
			r.history[i] = nil
		}
		r.history = r.history[:len(r.history)-over]
	}
	return true
}

// RecentMessages 跳过最新的 offset 条后取 limit 条，按从新到旧返回。
func (g *RoomRegistry) RecentMessages(roomID string, limit, offset int) []*Message {
	r, ok := g.rooms[roomID]
	if !ok || limit <= 0 {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	end := len(r.history) - offset
	if end <= 0 {
		return nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]*Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, r.history[i])
	}
	return out
}

func (g *RoomRegistry) FindMessage(roomID, messageID string) (*Message, bool) {
	r, ok := g.rooms[roomID]
	if !ok {
		return nil, false
	}
	for _, m := range r.history {
		if m.ID == messageID {
			return m, true
		}
	}
	return nil, false
}

// RemoveMessage 从内存窗口删除消息，已被淘汰或不存在时为空操作。
func (g *RoomRegistry) RemoveMessage(roomID, messageID string) (*Message, bool) {
	r, ok := g.rooms[roomID]
	if !ok {
		return nil, false
	}
	for i, m := range r.history {
		if m.ID == messageID {
			r.history = append(r.history[:i], r.history[i+1:]...)
			return m, true
		}
	}
	return nil, false
}

// EditMessage 原地修改内存窗口中的消息正文，并打上编辑标记。
func (g *RoomRegistry) EditMessage(roomID, messageID, body string, at time.Time) (*Message, bool) {
	m, ok := g.FindMessage(roomID, messageID)
	if !ok {
		return nil, false
	}
	at = at.UTC()
	m.Body = body
	m.IsEdited = true
	m.EditedAt = &at
	return m, true
}
