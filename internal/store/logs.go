package store

import (
	"context"
	"unicode/utf8"

	"whatsapp-inbox/internal/models"
)

const maxTitleLen = 255

// AppendWebhookLog writes one audit entry. Entries are never updated.
func (s *Store) AppendWebhookLog(ctx context.Context, kind, title, payload string) error {
	if utf8.RuneCountInString(title) > maxTitleLen {
		title = string([]rune(title)[:maxTitleLen])
	}
	return s.conn(ctx).Create(&models.WebhookLog{
		Kind:    kind,
		Title:   title,
		Payload: payload,
	}).Error
}

func (s *Store) ListWebhookLogs(ctx context.Context, kind string, limit int) ([]models.WebhookLog, error) {
	q := s.conn(ctx).Model(&models.WebhookLog{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit <= 0 {
		limit = 100
	}
	var logs []models.WebhookLog
	if err := q.Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// UpdateTemplateStatus sets the review status of the template with the given
// provider id. Unknown templates report false.
func (s *Store) UpdateTemplateStatus(ctx context.Context, externalID, status string) (bool, error) {
	res := s.conn(ctx).Model(&models.Template{}).Where("external_id = ?", externalID).Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) CreateTemplate(ctx context.Context, template *models.Template) error {
	return s.conn(ctx).Create(template).Error
}

func (s *Store) ListTemplates(ctx context.Context) ([]models.Template, error) {
	var templates []models.Template
	if err := s.conn(ctx).Order("name").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}
