package models

import "time"

// Message 是持久化日志中的一条消息记录，包含私聊消息。
type Message struct {
	ID             string              `gorm:"primaryKey;size:32"`
	RoomID         string              `gorm:"index:idx_msg_room_id;size:64;not null"`
	SenderID       string              `gorm:"index;size:64;not null"`
	SenderUsername string              `gorm:"size:64;not null"`
	Body           string              `gorm:"column:message;type:text;not null"`
	IsPrivate      bool                `gorm:"not null;default:false"`
	RecipientID    string              `gorm:"size:64"`
	Reactions      map[string][]string `gorm:"serializer:json"`
	IsEdited       bool                `gorm:"not null;default:false"`
	EditedAt       *time.Time
	CreatedAt      time.Time `gorm:"index"`
}

// Room 只保存元数据，消息正文不按房间落盘。
type Room struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:500;not null"`
	Description string `gorm:"size:500"`
	IsPrivate   bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
}
