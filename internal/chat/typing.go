package chat

// TypingUser 是 typing_users 广播中的一项。
type TypingUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingTracker 记录正在输入的连接，纯集合，不带超时；空闲判定由客户端负责。
type TypingTracker struct {
	entries map[string]TypingUser
	order   []string
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{entries: make(map[string]TypingUser)}
}

// Set 设置或清除 connID 的输入状态，返回完整的输入中列表用于广播。
func (t *TypingTracker) Set(connID, userID, username string, isTyping bool) []TypingUser {
	if !isTyping {
		t.Clear(connID)
		return t.List()
	}
	if _, ok := t.entries[connID]; !ok {
		t.order = append(t.order, connID)
	}
	t.entries[connID] = TypingUser{UserID: userID, Username: username}
	return t.List()
}

// Clear 无条件移除 connID，返回此前是否存在。
func (t *TypingTracker) Clear(connID string) bool {
	if _, ok := t.entries[connID]; !ok {
		return false
	}
	delete(t.entries, connID)
	for i, id := range t.order {
		if id == connID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *TypingTracker) List() []TypingUser {
	out := make([]TypingUser, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id])
	}
	return out
}
