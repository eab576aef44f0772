package chat

import (
	"time"

	"chathub/internal/avatar"
)

// 客户端 -> 服务端事件名，与现有前端保持逐字一致。
const (
	EventUserJoin       = "user_join"
	EventSendMessage    = "send_message"
	EventTyping         = "typing"
	EventPrivateMessage = "private_message"
	EventCreateRoom     = "create_room"
	EventJoinRoom       = "join_room"
	EventAddReaction    = "add_reaction"
	EventRemoveReaction = "remove_reaction"
	EventDeleteMessage  = "delete_message"
	EventEditMessage    = "edit_message"
	EventMessageRead    = "message_read"
)

// 服务端 -> 客户端事件名。
const (
	EventConnectionSuccess  = "connection_success"
	EventUserList           = "user_list"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventReceiveMessage     = "receive_message"
	EventLoadMessages       = "load_messages"
	EventTypingUsers        = "typing_users"
	EventRoomCreated        = "room_created"
	EventRoomCreatedSuccess = "room_created_success"
	EventUserJoinedRoom     = "user_joined_room"
	EventMessageDeleted     = "message_deleted"
	EventMessageEdited      = "message_edited"
	EventReactionAdded      = "reaction_added"
	EventReactionRemoved    = "reaction_removed"
	EventError              = "error"
)

type SendMessageRequest struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
}

type PrivateMessageRequest struct {
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"isPrivate"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type ReactionRequest struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	RoomID    string `json:"roomId"`
}

type MessageRefRequest struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

type EditMessageRequest struct {
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
	RoomID    string `json:"roomId"`
}

type ConnectionSuccess struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type UserJoined struct {
	UserID    string        `json:"userId"`
	Username  string        `json:"username"`
	Avatar    avatar.Avatar `json:"avatar"`
	Timestamp time.Time     `json:"timestamp"`
}

type UserLeft struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type UserJoinedRoom struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

type MessageDeleted struct {
	MessageID string `json:"messageId"`
}

type ReactionChanged struct {
	MessageID string    `json:"messageId"`
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"userId"`
	Reactions Reactions `json:"reactions"`
}

type MessageRead struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
