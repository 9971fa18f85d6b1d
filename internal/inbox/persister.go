package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"
)

// Record is a message ready to be stored against a resolved contact.
type Record struct {
	Contact *models.Contact
	Message *models.Message
	// Preview replaces the contact's last message when non-empty.
	Preview  string
	Incoming bool
}

// Persister stores messages and their effect on contact counters in one
// transaction, then announces them.
type Persister struct {
	store    *store.Store
	notifier *Notifier
	log      *logging.Logger
	now      func() time.Time
}

func NewPersister(s *store.Store, notifier *Notifier, log *logging.Logger) *Persister {
	return &Persister{store: s, notifier: notifier, log: log, now: time.Now}
}

// Persist inserts rec.Message and bumps the contact's stats. A redelivered
// message returns store.ErrDuplicate and changes nothing.
func (p *Persister) Persist(ctx context.Context, rec Record) (*models.Message, error) {
	msg := rec.Message
	msg.ContactID = rec.Contact.ID
	preview := Preview(rec.Preview)

	bump := store.StatsBump{At: p.now(), Incoming: rec.Incoming, Preview: preview}
	if preview != "" {
		bump.Language = DetectLanguage(preview)
	}

	err := p.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return err
		}
		return tx.BumpContactStats(ctx, rec.Contact.ID, bump)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, store.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("inbox: persist message: %w", err)
	}

	contact := rec.Contact
	if fresh, err := p.store.ContactByID(ctx, contact.ID); err == nil {
		contact = fresh
	}
	p.notifier.MessageStored(ctx, contact, msg, preview)
	if msg.ContentType == models.ContentFlow {
		p.notifier.FlowSubmitted(ctx, contact, msg)
	}
	return msg, nil
}

// AttachFile links a stored file to msg and announces the change.
func (p *Persister) AttachFile(ctx context.Context, msg *models.Message, file *models.Attachment) error {
	file.MessageID = msg.ID
	err := p.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateAttachment(ctx, file); err != nil {
			return err
		}
		return tx.SetMessageAttachment(ctx, msg.ID, file.URL)
	})
	if err != nil {
		return fmt.Errorf("inbox: attach file to message %d: %w", msg.ID, err)
	}
	msg.Attachment = file.URL
	p.notifier.MessageUpdated(ctx, msg.ContactID, msg)
	return nil
}
