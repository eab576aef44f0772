package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionsAddRemove(t *testing.T) {
	r := Reactions{}

	assert.True(t, r.Add("🎉", "u1"))
	assert.False(t, r.Add("🎉", "u1"))
	assert.True(t, r.Add("🎉", "u2"))
	assert.Equal(t, []string{"u1", "u2"}, r["🎉"])

	assert.True(t, r.Remove("🎉", "u1"))
	assert.Equal(t, []string{"u2"}, r["🎉"])
	assert.False(t, r.Remove("🎉", "u1"))
	assert.False(t, r.Remove("👀", "u1"))

	assert.True(t, r.Remove("🎉", "u2"))
	_, ok := r["🎉"]
	assert.False(t, ok)
}

func TestReactionsCloneIsIndependent(t *testing.T) {
	r := Reactions{"👍": {"u1"}}
	c := r.Clone()
	c.Add("👍", "u2")

	assert.Equal(t, []string{"u1"}, r["👍"])
	assert.NotNil(t, Reactions(nil).Clone())
}

func TestMessageCloneIsIndependent(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	at := want
	m := &Message{ID: "m1", Reactions: Reactions{"👍": {"u1"}}, EditedAt: &at}
	c := m.Clone()

	m.Reactions.Add("👍", "u2")
	*m.EditedAt = want.Add(time.Hour)

	assert.Equal(t, []string{"u1"}, c.Reactions["👍"])
	require.NotSame(t, m.EditedAt, c.EditedAt)
	assert.True(t, c.EditedAt.Equal(want), "clone edit time moved to %v", c.EditedAt)
}

func TestMessageViewJSON(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &Message{ID: "m1", SenderID: "u1", SenderUsername: "Alice", Body: "hi", RoomID: "global", CreatedAt: created}

	b, err := json.Marshal(m.View())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "m1",
		"senderId": "u1",
		"senderUsername": "Alice",
		"message": "hi",
		"roomId": "global",
		"timestamp": "2024-05-01T12:00:00Z",
		"isRead": false,
		"reactions": {},
		"isEdited": false,
		"editedAt": null,
		"isPrivate": false,
		"recipientId": null
	}`, string(b))

	m.IsPrivate, m.RecipientID, m.RoomID = true, "u2", PrivateRoomID
	b, err = json.Marshal(m.View())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"recipientId":"u2"`)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hello", Sanitize("  hello \n"))
	assert.Equal(t, "", Sanitize("   "))
	long := strings.Repeat("日", MaxBodyLength+20)
	assert.Equal(t, MaxBodyLength, len([]rune(Sanitize(long))))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrInvalidUsername, "Username is required"},
		{fmt.Errorf("%w: %q", ErrInvalidUsername, "a"), "Username is required"},
		{ErrNotAuthenticated, "User not authenticated"},
		{ErrEmptyMessage, "Message cannot be empty"},
		{fmt.Errorf("%w: x", ErrRoomNotFound), "Room not found"},
		{ErrRecipientNotFound, "Recipient not found"},
		{ErrInvalidPayload, "Invalid payload"},
		{ErrInvalidRoomName, "Room name is required"},
		{ErrAlreadyJoined, "Already joined"},
		{errors.New("disk on fire"), "Internal error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err), tt.err.Error())
	}
}
