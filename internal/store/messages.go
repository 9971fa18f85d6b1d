package store

import (
	"context"
	"errors"

	"whatsapp-inbox/internal/models"

	"gorm.io/gorm"
)

// statusRank orders the outbound delivery stages. Unlisted statuses have rank 0.
var statusRank = map[string]int{
	models.StatusSent:      1,
	models.StatusDelivered: 2,
	models.StatusRead:      3,
}

// CreateMessage inserts msg. A message whose (account, external id) pair is
// already stored yields ErrDuplicate and leaves the table untouched.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	if ref := msg.ExternalRef(); ref != "" {
		var count int64
		err := s.conn(ctx).Model(&models.Message{}).
			Where("account_id = ? AND external_id = ?", msg.AccountID, ref).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
	}
	err := s.conn(ctx).Create(msg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) MessageByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.conn(ctx).First(&msg, id).Error; err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return &msg, nil
}

func (s *Store) MessageByExternalID(ctx context.Context, accountID uint, externalID string) (*models.Message, error) {
	var msg models.Message
	err := s.conn(ctx).Where("account_id = ? AND external_id = ?", accountID, externalID).First(&msg).Error
	if err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return &msg, nil
}

func (s *Store) SetMessageAttachment(ctx context.Context, id uint, url string) error {
	return s.updateMessage(ctx, id, map[string]any{"attachment": url})
}

// MarkMessageSent records the provider id for a queued outbound message.
func (s *Store) MarkMessageSent(ctx context.Context, id uint, externalID string) error {
	return s.updateMessage(ctx, id, map[string]any{
		"external_id": externalID,
		"status":      models.StatusSent,
	})
}

func (s *Store) MarkMessageFailed(ctx context.Context, id uint) error {
	return s.updateMessage(ctx, id, map[string]any{"status": models.StatusFailed})
}

func (s *Store) SetMessagesStatus(ctx context.Context, ids []uint, status string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.conn(ctx).Model(&models.Message{}).Where("id IN ?", ids).Update("status", status).Error
}

func (s *Store) updateMessage(ctx context.Context, id uint, fields map[string]any) error {
	res := s.conn(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyStatus moves the message identified by (account, external id) to
// status in a single conditional UPDATE. Failed messages and messages already
// past the given delivery stage are left alone. It reports whether a row changed;
// an unknown message is not an error.
func (s *Store) ApplyStatus(ctx context.Context, accountID uint, externalID, status, conversationID string) (bool, error) {
	fields := map[string]any{"status": status}
	if conversationID != "" {
		fields["conversation_id"] = conversationID
	}

	q := s.conn(ctx).Model(&models.Message{}).
		Where("account_id = ? AND external_id = ?", accountID, externalID)
	if blocked := blockedStatuses(status); len(blocked) > 0 {
		q = q.Where("(status IS NULL OR status NOT IN ?)", blocked)
	}

	res := q.Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func blockedStatuses(next string) []string {
	if next == models.StatusFailed {
		return nil
	}
	blocked := []string{models.StatusFailed}
	rank := statusRank[next]
	if rank == 0 {
		return blocked
	}
	for status, r := range statusRank {
		if r > rank {
			blocked = append(blocked, status)
		}
	}
	return blocked
}

type MessageFilter struct {
	ContactID uint
	BeforeID  uint
	Limit     int
}

// ListMessages returns a contact's messages newest first.
func (s *Store) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	q := s.conn(ctx).Where("contact_id = ?", filter.ContactID)
	if filter.BeforeID > 0 {
		q = q.Where("id < ?", filter.BeforeID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var messages []models.Message
	if err := q.Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// UnreadIncoming lists the latest incoming messages not yet acknowledged.
func (s *Store) UnreadIncoming(ctx context.Context, contactID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.conn(ctx).
		Where("contact_id = ? AND direction = ?", contactID, models.DirectionIncoming).
		Where("external_id IS NOT NULL").
		Where("(status IS NULL OR status <> ?)", models.StatusMarkedRead).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) CreateAttachment(ctx context.Context, attachment *models.Attachment) error {
	return s.conn(ctx).Create(attachment).Error
}

func (s *Store) AttachmentsForMessage(ctx context.Context, messageID uint) ([]models.Attachment, error) {
	var attachments []models.Attachment
	if err := s.conn(ctx).Where("message_id = ?", messageID).Order("id").Find(&attachments).Error; err != nil {
		return nil, err
	}
	return attachments, nil
}
