package inbox

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"
)

const readReceiptBatch = 10

// Sender is the outbound half of the WhatsApp Cloud API.
type Sender interface {
	SendText(ctx context.Context, account *models.Account, to, body, replyTo string) (string, error)
	SendTemplate(ctx context.Context, account *models.Account, to, name, language string, params []string) (string, error)
	MarkRead(ctx context.Context, account *models.Account, externalID string) error
}

type TextMessage struct {
	AccountID uint
	To        string
	Body      string
	ReplyTo   string
}

type TemplateMessage struct {
	AccountID uint
	To        string
	Name      string
	Language  string
	Params    []string
}

// Conversations covers the operator-side actions on a conversation.
type Conversations struct {
	store     *store.Store
	resolver  *Resolver
	persister *Persister
	sender    Sender
	log       *logging.Logger
}

func NewConversations(s *store.Store, resolver *Resolver, persister *Persister, sender Sender, log *logging.Logger) *Conversations {
	return &Conversations{store: s, resolver: resolver, persister: persister, sender: sender, log: log}
}

// SendText records an outgoing text, sends it and stores the outcome. The
// returned message reflects the final status even when sending failed.
func (c *Conversations) SendText(ctx context.Context, in TextMessage) (*models.Message, error) {
	msg := &models.Message{ContentType: models.ContentText, WireType: "text", Body: in.Body, ReplyToID: in.ReplyTo, IsReply: in.ReplyTo != ""}
	return c.send(ctx, in.AccountID, in.To, msg, in.Body, func(account *models.Account, to string) (string, error) {
		return c.sender.SendText(ctx, account, to, in.Body, in.ReplyTo)
	})
}

func (c *Conversations) SendTemplate(ctx context.Context, in TemplateMessage) (*models.Message, error) {
	language := in.Language
	if language == "" {
		language = "en"
	}
	msg := &models.Message{ContentType: models.ContentTemplate, WireType: "template", Body: in.Name}
	return c.send(ctx, in.AccountID, in.To, msg, "", func(account *models.Account, to string) (string, error) {
		return c.sender.SendTemplate(ctx, account, to, in.Name, language, in.Params)
	})
}

func (c *Conversations) send(ctx context.Context, accountID uint, to string, msg *models.Message, preview string, deliver func(*models.Account, string) (string, error)) (*models.Message, error) {
	account, err := c.outgoingAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	contact, err := c.resolver.ResolveOrCreate(ctx, Identity{MobileNo: to, AccountID: account.ID, Source: models.SourceOutgoing})
	if err != nil {
		return nil, err
	}

	msg.AccountID = account.ID
	msg.Direction = models.DirectionOutgoing
	msg.Counterpart = contact.MobileNo
	msg.Status = models.StatusQueued
	msg.ReferenceType = "Contact"
	msg.ReferenceName = contact.MobileNo

	stored, err := c.persister.Persist(ctx, Record{Contact: contact, Message: msg, Preview: preview})
	if err != nil {
		return nil, err
	}

	externalID, sendErr := deliver(account, contact.MobileNo)
	if sendErr != nil {
		c.log.Warn("outgoing message failed", "message_id", stored.ID, "to", contact.MobileNo, "error", sendErr)
		if err := c.store.MarkMessageFailed(ctx, stored.ID); err != nil {
			return nil, errors.Join(sendErr, err)
		}
		stored.Status = models.StatusFailed
		c.persister.notifier.MessageUpdated(ctx, contact.ID, stored)
		return stored, sendErr
	}

	if err := c.store.MarkMessageSent(ctx, stored.ID, externalID); err != nil {
		return nil, fmt.Errorf("inbox: record sent message %d: %w", stored.ID, err)
	}
	stored.Status = models.StatusSent
	stored.ExternalID = &externalID
	c.persister.notifier.MessageUpdated(ctx, contact.ID, stored)
	return stored, nil
}

func (c *Conversations) outgoingAccount(ctx context.Context, accountID uint) (*models.Account, error) {
	if accountID != 0 {
		return c.store.AccountByID(ctx, accountID)
	}
	account, err := c.store.DefaultOutgoingAccount(ctx)
	if errors.Is(err, store.ErrAccountNotFound) {
		return c.store.DefaultIncomingAccount(ctx)
	}
	return account, err
}

// MarkRead clears the unread state of a conversation. When the contact's
// account sends read receipts, the latest unacknowledged incoming messages
// are reported read to the provider as well. Calling it twice is harmless.
func (c *Conversations) MarkRead(ctx context.Context, contactID uint) error {
	if err := c.store.MarkContactRead(ctx, contactID); err != nil {
		return err
	}
	contact, err := c.store.ContactByID(ctx, contactID)
	if err != nil {
		return err
	}
	if contact.AccountID == nil {
		return nil
	}
	account, err := c.store.AccountByID(ctx, *contact.AccountID)
	if err != nil || !account.AutoReadReceipt {
		return nil
	}

	unread, err := c.store.UnreadIncoming(ctx, contactID, readReceiptBatch)
	if err != nil {
		return fmt.Errorf("inbox: list unread messages: %w", err)
	}
	acked := make([]uint, 0, len(unread))
	for _, msg := range unread {
		if err := c.sender.MarkRead(ctx, account, msg.ExternalRef()); err != nil {
			c.log.Warn("read receipt failed", "message_id", msg.ExternalRef(), "error", err)
			continue
		}
		acked = append(acked, msg.ID)
	}
	return c.store.SetMessagesStatus(ctx, acked, models.StatusMarkedRead)
}
