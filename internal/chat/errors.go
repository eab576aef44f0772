package chat

import "errors"

// 事件处理中的业务错误，除 ErrPersistenceFailure 外都会以 error 事件回送给发送方。
var (
	ErrInvalidUsername    = errors.New("invalid username")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrEmptyMessage       = errors.New("empty message")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidRoomName    = errors.New("invalid room name")
	ErrAlreadyJoined      = errors.New("already joined")
)

// userMessages 是展示给客户端的文案，与现有前端保持一致。
var userMessages = []struct {
	err error
	msg string
}{
	{ErrInvalidUsername, "Username is required"},
	{ErrNotAuthenticated, "User not authenticated"},
	{ErrEmptyMessage, "Message cannot be empty"},
	{ErrRoomNotFound, "Room not found"},
	{ErrRecipientNotFound, "Recipient not found"},
	{ErrInvalidPayload, "Invalid payload"},
	{ErrInvalidRoomName, "Room name is required"},
	{ErrAlreadyJoined, "Already joined"},
}

// UserMessage 把错误映射为客户端可读的文案。
func UserMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Internal error"
}
