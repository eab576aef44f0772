package store

import (
	"context"
	"errors"
	"fmt"

	"chathub/internal/chat"
	"chathub/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLog 用 gorm 实现持久化日志，SQLite 与 Postgres 共用同一套代码。
type GormLog struct {
	db *gorm.DB
}

func NewGormLog(db *gorm.DB) *GormLog {
	return &GormLog{db: db}
}

var _ chat.DurableLog = (*GormLog)(nil)

func toModel(m chat.Message) models.Message {
	return models.Message{
		ID:             m.ID,
		RoomID:         m.RoomID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		Body:           m.Body,
		IsPrivate:      m.IsPrivate,
		RecipientID:    m.RecipientID,
		Reactions:      m.Reactions.Clone(),
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		CreatedAt:      m.CreatedAt,
	}
}

func fromModel(m models.Message) chat.Message {
	out := chat.Message{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		Body:           m.Body,
		RoomID:         m.RoomID,
		CreatedAt:      m.CreatedAt.UTC(),
		IsEdited:       m.IsEdited,
		IsPrivate:      m.IsPrivate,
		RecipientID:    m.RecipientID,
		Reactions:      chat.Reactions(m.Reactions).Clone(),
	}
	if m.EditedAt != nil {
		at := m.EditedAt.UTC()
		out.EditedAt = &at
	}
	return out
}

func (l *GormLog) AppendMessage(ctx context.Context, msg chat.Message) error {
	row := toModel(msg)
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append message %s: %w", msg.ID, err)
	}
	return nil
}

// UpdateMessage 在事务内读取、修改并整行写回。
func (l *GormLog) UpdateMessage(ctx context.Context, id string, patch chat.MessagePatch) (*chat.Message, error) {
	var updated *chat.Message
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Message
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if patch.Body != nil {
			row.Body = *patch.Body
		}
		if patch.IsEdited != nil {
			row.IsEdited = *patch.IsEdited
		}
		if patch.EditedAt != nil {
			at := patch.EditedAt.UTC()
			row.EditedAt = &at
		}
		if patch.Reactions != nil {
			row.Reactions = patch.Reactions.Clone()
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		m := fromModel(row)
		updated = &m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update message %s: %w", id, err)
	}
	return updated, nil
}

func (l *GormLog) DeleteMessage(ctx context.Context, id string) (bool, error) {
	res := l.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Message{})
	if res.Error != nil {
		return false, fmt.Errorf("delete message %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListMessages 返回全部消息（含私聊），按 id 升序，即发送顺序。
func (l *GormLog) ListMessages(ctx context.Context) ([]chat.Message, error) {
	var rows []models.Message
	if err := l.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModel(r))
	}
	return out, nil
}

func (l *GormLog) ListMessagesByRoom(ctx context.Context, roomID string, limit, offset int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	var rows []models.Message
	err := l.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages for room %s: %w", roomID, err)
	}

	// 反转为升序
	out := make([]chat.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, fromModel(rows[i]))
	}
	return out, nil
}

func (l *GormLog) ListRooms(ctx context.Context) ([]chat.RoomInfo, error) {
	var rows []models.Room
	if err := l.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]chat.RoomInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, chat.RoomInfo{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			IsPrivate:   r.IsPrivate,
			CreatedAt:   r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// UpsertRoom 按 id 插入或覆盖房间元数据。
func (l *GormLog) UpsertRoom(ctx context.Context, room chat.RoomInfo) error {
	row := models.Room{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CreatedAt:   room.CreatedAt,
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "is_private"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", room.ID, err)
	}
	return nil
}
