package chat

import (
	"context"
	"time"
)

// RoomInfo 是房间的持久化元数据。
type RoomInfo struct {
	ID          string
	Name        string
	Description string
	IsPrivate   bool
	CreatedAt   time.Time
}

// DurableLog 是消息与房间的持久化日志，内存状态以外的权威副本。
// 实现必须是并发安全的：写入在后台 worker 中执行，读取来自 HTTP 查询。
type DurableLog interface {
	AppendMessage(ctx context.Context, msg Message) error
	// UpdateMessage 在消息不存在时返回 (nil, nil)。
	UpdateMessage(ctx context.Context, id string, patch MessagePatch) (*Message, error)
	DeleteMessage(ctx context.Context, id string) (bool, error)
	ListMessages(ctx context.Context) ([]Message, error)
	// ListMessagesByRoom 跳过最新的 offset 条后取 limit 条，按时间正序返回。
	ListMessagesByRoom(ctx context.Context, roomID string, limit, offset int) ([]Message, error)
	ListRooms(ctx context.Context) ([]RoomInfo, error)
	UpsertRoom(ctx context.Context, room RoomInfo) error
}
