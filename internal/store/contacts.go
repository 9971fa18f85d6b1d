package store

import (
	"context"
	"errors"
	"time"

	"whatsapp-inbox/internal/models"

	"gorm.io/gorm"
)

// StatsBump describes one message's effect on a contact's counters.
type StatsBump struct {
	At       time.Time
	Incoming bool
	// Preview replaces last_message when non-empty.
	Preview string
	// Language is written only if the contact has none yet.
	Language string
}

func (s *Store) ContactByID(ctx context.Context, id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.conn(ctx).First(&contact, id).Error; err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return &contact, nil
}

// FindContactByNumbers returns the oldest contact stored under any of numbers.
func (s *Store) FindContactByNumbers(ctx context.Context, numbers []string) (*models.Contact, error) {
	if len(numbers) == 0 {
		return nil, ErrNotFound
	}
	var contact models.Contact
	err := s.conn(ctx).
		Where("mobile_no IN ? OR number_key = ?", numbers, models.NumberKey(numbers[0])).
		Order("id").
		First(&contact).Error
	if err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return &contact, nil
}

// CreateContact inserts contact. Another row for either written form of the
// number yields ErrDuplicate.
func (s *Store) CreateContact(ctx context.Context, contact *models.Contact) error {
	err := s.conn(ctx).Create(contact).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *Store) UpdateContact(ctx context.Context, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := s.conn(ctx).Model(&models.Contact{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BumpContactStats applies a message to the contact's counters in one UPDATE.
// Counters are incremented in SQL so concurrent bumps never lose a write.
// Only incoming messages raise unread_count; an operator's own send is not unread.
func (s *Store) BumpContactStats(ctx context.Context, id uint, bump StatsBump) error {
	at := bump.At
	if at.IsZero() {
		at = time.Now()
	}
	fields := map[string]any{
		"total_messages":     gorm.Expr("total_messages + ?", 1),
		"last_message_date":  at,
		"first_message_date": gorm.Expr("COALESCE(first_message_date, ?)", at),
	}
	if bump.Incoming {
		fields["unread_count"] = gorm.Expr("unread_count + ?", 1)
		fields["is_read"] = false
	}
	if bump.Preview != "" {
		fields["last_message"] = bump.Preview
	}
	if bump.Language != "" {
		fields["detected_language"] = gorm.Expr(
			"CASE WHEN detected_language IS NULL OR detected_language = '' THEN ? ELSE detected_language END",
			bump.Language,
		)
	}
	return s.UpdateContact(ctx, id, fields)
}

// MarkContactRead clears the unread state. Repeating it is harmless.
func (s *Store) MarkContactRead(ctx context.Context, id uint) error {
	return s.UpdateContact(ctx, id, map[string]any{
		"is_read":      true,
		"unread_count": 0,
	})
}

// SetBotPause suspends automated replies until the given time; nil resumes them.
func (s *Store) SetBotPause(ctx context.Context, id uint, until *time.Time) error {
	return s.UpdateContact(ctx, id, map[string]any{"bot_paused_until": until})
}

func (s *Store) AssignContact(ctx context.Context, id uint, operator string) error {
	return s.UpdateContact(ctx, id, map[string]any{"assigned_to": operator})
}

type ContactFilter struct {
	Search     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

func (s *Store) ListContacts(ctx context.Context, filter ContactFilter) ([]models.Contact, error) {
	q := s.conn(ctx).Model(&models.Contact{})
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("mobile_no LIKE ? OR contact_name LIKE ?", like, like)
	}
	if filter.UnreadOnly {
		q = q.Where("unread_count > 0")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var contacts []models.Contact
	if err := q.Order("last_message_date DESC").Order("id DESC").Find(&contacts).Error; err != nil {
		return nil, err
	}
	return contacts, nil
}

// LeadByNumbers finds a CRM lead registered under any of numbers.
func (s *Store) LeadByNumbers(ctx context.Context, numbers []string) (*models.Lead, error) {
	if len(numbers) == 0 {
		return nil, ErrNotFound
	}
	var lead models.Lead
	if err := s.conn(ctx).Where("mobile_no IN ?", numbers).Order("id").First(&lead).Error; err != nil {
		return nil, notFound(err, ErrNotFound)
	}
	return &lead, nil
}

func (s *Store) CreateLead(ctx context.Context, lead *models.Lead) error {
	return s.conn(ctx).Create(lead).Error
}
