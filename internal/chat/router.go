package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chathub/internal/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize 是加入房间时推送的历史条数。
const DefaultPageSize = 50

// Emitter 负责把事件投递到连接。Emit 发给指定连接，Broadcast 发给所有打开的连接。
// 两者都只在事件循环中调用，不得阻塞。
type Emitter interface {
	Emit(connIDs []string, event string, payload any)
	Broadcast(event string, payload any)
}

// Router 是事件路由核心：校验入站事件、修改会话与房间状态、计算接收者并投递。
// 所有方法都必须在同一个事件循环中串行调用。
type Router struct {
	sessions *SessionRegistry
	rooms    *RoomRegistry
	typing   *TypingTracker
	log      DurableLog
	persist  Persister
	out      Emitter
	now      func() time.Time
}

func NewRouter(dl DurableLog, p Persister, out Emitter) *Router {
	return &Router{
		sessions: NewSessionRegistry(),
		rooms:    NewRoomRegistry(MaxMessages),
		typing:   NewTypingTracker(),
		log:      dl,
		persist:  p,
		out:      out,
		now:      time.Now,
	}
}

// Bootstrap 在启动时恢复房间元数据与每个房间的最近历史。
func (r *Router) Bootstrap(ctx context.Context) error {
	if err := r.rooms.EnsureWellKnownRooms(ctx, r.log); err != nil {
		return err
	}
	return r.rooms.RestoreHistory(ctx, r.log)
}

func decode(data json.RawMessage, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func handle[T any](data json.RawMessage, fn func(T) error) error {
	var req T
	if err := decode(data, &req); err != nil {
		return err
	}
	return fn(req)
}

// HandleEvent 分发一条入站事件，业务错误只回送给发送方。
func (r *Router) HandleEvent(connID, event string, data json.RawMessage) {
	var err error
	switch event {
	case EventUserJoin:
		err = handle(data, func(name string) error { return r.Join(connID, name) })
	case EventSendMessage:
		err = handle(data, func(req SendMessageRequest) error { return r.SendMessage(connID, req) })
	case EventTyping:
		err = handle(data, func(isTyping bool) error { r.Typing(connID, isTyping); return nil })
	case EventPrivateMessage:
		err = handle(data, func(req PrivateMessageRequest) error { return r.PrivateMessage(connID, req) })
	case EventCreateRoom:
		err = handle(data, func(req CreateRoomRequest) error { return r.CreateRoom(connID, req) })
	case EventJoinRoom:
		err = handle(data, func(req JoinRoomRequest) error { return r.JoinRoom(connID, req) })
	case EventAddReaction:
		err = handle(data, func(req ReactionRequest) error { return r.AddReaction(connID, req) })
	case EventRemoveReaction:
		err = handle(data, func(req ReactionRequest) error { return r.RemoveReaction(connID, req) })
	case EventDeleteMessage:
		err = handle(data, func(req MessageRefRequest) error { return r.DeleteMessage(connID, req) })
	case EventEditMessage:
		err = handle(data, func(req EditMessageRequest) error { return r.EditMessage(connID, req) })
	case EventMessageRead:
		err = handle(data, func(req MessageRefRequest) error { r.MarkRead(connID, req); return nil })
	default:
		log.Debug().Str("conn_id", connID).Str("event", event).Msg("unknown event ignored")
		return
	}
	metrics.EventsTotal.WithLabelValues(event).Inc()
	if err != nil {
		r.fail(connID, event, err)
	}
}

// HandleDisconnect 由传输层在连接关闭后调用。
func (r *Router) HandleDisconnect(connID string) {
	r.Disconnect(connID)
}

func (r *Router) fail(connID, event string, err error) {
	log.Debug().Err(err).Str("conn_id", connID).Str("event", event).Msg("event rejected")
	r.out.Emit([]string{connID}, EventError, ErrorPayload{Message: UserMessage(err)})
}

func (r *Router) session(connID string) (*Session, error) {
	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return s, nil
}

func newMessageID() string {
	return ulid.Make().String()
}

// Join 创建会话并默认加入 global 房间。
func (r *Router) Join(connID, username string) error {
	if _, ok := r.sessions.Lookup(connID); ok {
		return ErrAlreadyJoined
	}
	s, err := r.sessions.Create(connID, username)
	if err != nil {
		return err
	}
	r.rooms.AddMember(GlobalRoomID, s.UserID)
	metrics.Sessions.Set(float64(r.sessions.Len()))

	r.out.Broadcast(EventUserList, r.sessions.Views())
	r.out.Broadcast(EventUserJoined, UserJoined{
		UserID:    s.UserID,
		Username:  s.Username,
		Avatar:    s.Avatar,
		Timestamp: r.now().UTC(),
	})
	r.out.Emit([]string{connID}, EventConnectionSuccess, ConnectionSuccess{UserID: s.UserID, Username: s.Username})
	log.Info().Str("conn_id", connID).Str("user_id", s.UserID).Str("username", s.Username).Msg("user joined")
	return nil
}

// SendMessage 构造消息、写入持久化队列与房间历史，并投递给当前停留在该房间的会话。
func (r *Router) SendMessage(connID string, req SendMessageRequest) error {
	s, err := r.session(connID)
	if err != nil {
		return err
	}
	body := Sanitize(req.Message)
	if body == "" {
		return ErrEmptyMessage
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = GlobalRoomID
	}
	if _, ok := r.rooms.Get(roomID); !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	msg := &Message{
		ID:             newMessageID(),
		SenderID:       s.UserID,
		SenderUsername: s.Username,
		Body:           body,
		RoomID:         roomID,
		CreatedAt:      r.now().UTC(),
		Reactions:      Reactions{},
	}
	snapshot := msg.Clone()
	r.persist.Persist("append_message", func(ctx context.Context) error {
		return r.log.AppendMessage(ctx, snapshot)
	})
	r.rooms.AppendMessage(roomID, msg)
	metrics.MessagesTotal.WithLabelValues("room").Inc()

	r.out.Emit(r.sessions.InRoom(roomID), EventReceiveMessage, msg.View())
	if r.typing.Clear(connID) {
		r.out.Broadcast(EventTypingUsers, r.typing.List())
	}
	return nil
}

// Typing 更新输入状态并向所有连接广播；未加入的连接直接忽略。
func (r *Router) Typing(connID string, isTyping bool) {
	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return
	}
	r.out.Broadcast(EventTypingUsers, r.typing.Set(connID, s.UserID, s.Username, isTyping))
}

// PrivateMessage 只投递给接收者与发送者，不进入任何房间历史。
func (r *Router) PrivateMessage(connID string, req PrivateMessageRequest) error {
	s, err := r.session(connID)
	if err != nil {
		return err
	}
	body := Sanitize(req.Message)
	if body == "" {
		return ErrEmptyMessage
	}
	recipient, ok := r.sessions.FindByUserID(req.RecipientID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecipientNotFound, req.RecipientID)
	}

	msg := &Message{
		ID:             newMessageID(),
		SenderID:       s.UserID,
		SenderUsername: s.Username,
		Body:           body,
		RoomID:         PrivateRoomID,
		CreatedAt:      r.now().UTC(),
		IsPrivate:      true,
		RecipientID:    recipient.UserID,
		Reactions:      Reactions{},
	}
	snapshot := msg.Clone()
	r.persist.Persist("append_private_message", func(ctx context.Context) error {
		return r.log.AppendMessage(ctx, snapshot)
	})
	metrics.MessagesTotal.WithLabelValues("private").Inc()

	to := []string{recipient.ConnID}
	if recipient.ConnID != connID {
		to = append(to, connID)
	}
	r.out.Emit(to, EventPrivateMessage, msg.View())
	return nil
}

// CreateRoom 新建房间，创建者成为首个成员；创建者不会因此切换当前房间。
func (r *Router) CreateRoom(connID string, req CreateRoomRequest) error {
	s, err := r.session(connID)
	if err != nil {
		return err
	}
	name := Sanitize(req.Name)
	if name == "" {
		return ErrInvalidRoomName
	}
	room := r.rooms.Create(name, Sanitize(req.Description), req.IsPrivate, s.UserID, r.now())
	info := room.RoomInfo
	r.persist.Persist("upsert_room", func(ctx context.Context) error {
		return r.log.UpsertRoom(ctx, info)
	})

	view := room.View()
	r.out.Broadcast(EventRoomCreated, view)
	r.out.Emit([]string{connID}, EventRoomCreatedSuccess, view)
	log.Info().Str("conn_id", connID).Str("room_id", room.ID).Str("name", room.Name).Msg("room created")
	return nil
}

// JoinRoom 切换会话的当前房间，推送最近历史并通知房间内成员。
func (r *Router) JoinRoom(connID string, req JoinRoomRequest) error {
	s, err := r.session(connID)
	if err != nil {
		return err
	}
	room, ok := r.rooms.Get(req.RoomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, req.RoomID)
	}
	firstVisit := !room.HasMember(s.UserID)
	r.rooms.AddMember(room.ID, s.UserID)
	s.CurrentRoomID = room.ID

	recent := r.rooms.RecentMessages(room.ID, DefaultPageSize, 0)
	page := make([]MessageView, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		page = append(page, recent[i].View())
	}
	r.out.Emit([]string{connID}, EventLoadMessages, page)
	r.out.Emit(r.sessions.InRoom(room.ID), EventUserJoinedRoom, UserJoinedRoom{
		UserID:   s.UserID,
		Username: s.Username,
		RoomID:   room.ID,
	})
	log.Debug().Str("conn_id", connID).Str("room_id", room.ID).Bool("first_visit", firstVisit).Msg("joined room")
	return nil
}

func (r *Router) reactionTarget(connID string, req ReactionRequest) (*Session, *Message, string, error) {
	s, err := r.session(connID)
	if err != nil {
		return nil, nil, "", err
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		return s, nil, "", nil
	}
	msg, ok := r.rooms.FindMessage(req.RoomID, req.MessageID)
	if !ok {
		return s, nil, "", nil
	}
	if msg.Reactions == nil {
		msg.Reactions = Reactions{}
	}
	return s, msg, emoji, nil
}

func (r *Router) persistReactions(msg *Message) {
	id, reactions := msg.ID, msg.Reactions.Clone()
	r.persist.Persist("update_reactions", func(ctx context.Context) error {
		updated, err := r.log.UpdateMessage(ctx, id, MessagePatch{Reactions: reactions})
		if err == nil && updated == nil {
			err = fmt.Errorf("message %s missing from durable log", id)
		}
		return err
	})
}

// AddReaction 幂等地添加表情回应；消息不在内存窗口中时静默忽略。
func (r *Router) AddReaction(connID string, req ReactionRequest) error {
	s, msg, emoji, err := r.reactionTarget(connID, req)
	if err != nil || msg == nil {
		return err
	}
	msg.Reactions.Add(emoji, s.UserID)
	r.persistReactions(msg)
	r.out.Emit(r.sessions.InRoom(req.RoomID), EventReactionAdded, ReactionChanged{
		MessageID: msg.ID,
		Emoji:     emoji,
		UserID:    s.UserID,
		Reactions: msg.Reactions.Clone(),
	})
	return nil
}

// RemoveReaction 撤销表情回应，集合为空时移除该表情。
func (r *Router) RemoveReaction(connID string, req ReactionRequest) error {
	s, msg, emoji, err := r.reactionTarget(connID, req)
	if err != nil || msg == nil {
		return err
	}
	if !msg.Reactions.Remove(emoji, s.UserID) {
		return nil
	}
	r.persistReactions(msg)
	r.out.Emit(r.sessions.InRoom(req.RoomID), EventReactionRemoved, ReactionChanged{
		MessageID: msg.ID,
		Emoji:     emoji,
		UserID:    s.UserID,
		Reactions: msg.Reactions.Clone(),
	})
	return nil
}

// ownedMessage 查找属于该会话的消息；找不到或不是发送者时返回 nil，不向客户端报错。
func (r *Router) ownedMessage(s *Session, roomID, messageID, action string) *Message {
	msg, ok := r.rooms.FindMessage(roomID, messageID)
	if !ok {
		log.Debug().Str("user_id", s.UserID).Str("room_id", roomID).Str("message_id", messageID).
			Msgf("%s ignored: message not in room window", action)
		return nil
	}
	if msg.SenderID != s.UserID {
		log.Warn().Str("user_id", s.UserID).Str("owner_id", msg.SenderID).Str("message_id", messageID).
			Msgf("%s ignored: not the sender", action)
		return nil
	}
	return msg
}

// DeleteMessage 只允许发送者删除，删除同时作用于内存历史与持久化日志。
func (r *Router) DeleteMessage(connID string, req MessageRefRequest) error {
	s, err := r.session(connID)
	if err != nil {
		return err
	}
	msg := r.ownedMessage(s, req.RoomID, req.MessageID, "delete")
	if msg == nil {
		return nil
	}
	r.rooms.RemoveMessage(req.RoomID, msg.ID)
	id := msg.ID
	r.persist.Persist("delete_message", func(ctx context.Context) error {
		found, err := r.log.DeleteMessage(ctx, id)
		if err == nil && !found {
			err = fmt.Errorf("message %s missing from durable log", id)
		}
		return err
	})
	r.out.Emit(r.sessions.InRoom(req.RoomID), EventMessageDeleted, MessageDeleted{MessageID: id})
	return nil
}

// EditMessage 只允许发送者修改正文，并记录编辑时间。
func (r *Router) EditMessage(connID string, req EditMessageRequest) error {
	s, err := r.session(connID)
	if err != nil {
		return err
	}
	body := Sanitize(req.Message)
	if body == "" {
		return ErrEmptyMessage
	}
	msg := r.ownedMessage(s, req.RoomID, req.MessageID, "edit")
	if msg == nil {
		return nil
	}
	r.rooms.EditMessage(req.RoomID, msg.ID, body, r.now())

	id, edited, at := msg.ID, true, *msg.EditedAt
	r.persist.Persist("edit_message", func(ctx context.Context) error {
		updated, err := r.log.UpdateMessage(ctx, id, MessagePatch{Body: &body, IsEdited: &edited, EditedAt: &at})
		if err == nil && updated == nil {
			err = fmt.Errorf("message %s missing from durable log", id)
		}
		return err
	})
	r.out.Emit(r.sessions.InRoom(req.RoomID), EventMessageEdited, msg.View())
	return nil
}

// MarkRead 只做转发，不记录已读状态。
func (r *Router) MarkRead(connID string, req MessageRefRequest) {
	s, ok := r.sessions.Lookup(connID)
	if !ok {
		return
	}
	r.out.Emit(r.sessions.InRoom(req.RoomID), EventMessageRead, MessageRead{MessageID: req.MessageID, UserID: s.UserID})
}

// Disconnect 清理会话、房间成员关系与输入状态，并广播新的在线名单。
func (r *Router) Disconnect(connID string) {
	r.typing.Clear(connID)
	s, ok := r.sessions.Remove(connID)
	if !ok {
		return
	}
	r.rooms.RemoveMemberEverywhere(s.UserID)
	metrics.Sessions.Set(float64(r.sessions.Len()))

	r.out.Broadcast(EventUserList, r.sessions.Views())
	r.out.Broadcast(EventUserLeft, UserLeft{UserID: s.UserID, Username: s.Username, Timestamp: r.now().UTC()})
	r.out.Broadcast(EventTypingUsers, r.typing.List())
	log.Info().Str("conn_id", connID).Str("user_id", s.UserID).Str("username", s.Username).Msg("user disconnected")
}

// Users 返回在线用户名单，供查询接口使用。
func (r *Router) Users() []UserView {
	return r.sessions.Views()
}

func (r *Router) User(userID string) (UserView, bool) {
	s, ok := r.sessions.FindByUserID(userID)
	if !ok {
		return UserView{}, false
	}
	return s.View(), true
}

func (r *Router) Rooms() []RoomView {
	rooms := r.rooms.List()
	out := make([]RoomView, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.View())
	}
	return out
}

// Stats 返回在线用户数与房间数。
func (r *Router) Stats() (users, rooms int) {
	return r.sessions.Len(), r.rooms.Len()
}
