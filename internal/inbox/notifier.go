package inbox

import (
	"context"
	"time"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/notify"
	"whatsapp-inbox/pkg/logging"
)

// ConversationUpdate is the payload of list and operator notifications.
type ConversationUpdate struct {
	Room        uint      `json:"room"`
	ContactName string    `json:"contact_name"`
	MobileNo    string    `json:"sender_user_no"`
	Content     string    `json:"content"`
	UnreadCount int       `json:"unread_count"`
	Creation    time.Time `json:"creation"`
}

// MessageEvent is the payload of conversation-scoped notifications.
type MessageEvent struct {
	Message *models.Message `json:"message"`
	Contact uint            `json:"contact_id"`
}

// Notifier turns committed inbox changes into realtime events. Publishing is
// best-effort and detached from the caller's cancellation.
type Notifier struct {
	pub     notify.Publisher
	log     *logging.Logger
	timeout time.Duration
}

func NewNotifier(pub notify.Publisher, log *logging.Logger) *Notifier {
	return &Notifier{pub: pub, log: log, timeout: 5 * time.Second}
}

// MessageStored announces a new message to its conversation, the
// conversation list and the assigned operator, if any.
func (n *Notifier) MessageStored(ctx context.Context, contact *models.Contact, msg *models.Message, preview string) {
	update := ConversationUpdate{
		Room:        contact.ID,
		ContactName: contact.ContactName,
		MobileNo:    contact.MobileNo,
		Content:     preview,
		UnreadCount: contact.UnreadCount,
		Creation:    msg.CreatedAt,
	}
	events := []notify.Event{
		{Topic: notify.ConversationTopic(contact.ID), Type: notify.EventNewMessage, Data: MessageEvent{Message: msg, Contact: contact.ID}},
		{Topic: notify.TopicConversationList, Type: notify.EventListUpdated, Data: update},
	}
	if contact.AssignedTo != "" {
		events = append(events, notify.Event{Topic: notify.OperatorTopic(contact.AssignedTo), Type: notify.EventListUpdated, Data: update})
	}
	n.publish(ctx, events...)
}

// FlowSubmitted sends the parsed form answers of a completed flow.
func (n *Notifier) FlowSubmitted(ctx context.Context, contact *models.Contact, msg *models.Message) {
	n.publish(ctx, notify.Event{
		Topic: notify.ConversationTopic(contact.ID),
		Type:  notify.EventFlowResponse,
		Data:  MessageEvent{Message: msg, Contact: contact.ID},
	})
}

func (n *Notifier) MessageUpdated(ctx context.Context, contactID uint, msg *models.Message) {
	n.publish(ctx, notify.Event{
		Topic: notify.ConversationTopic(contactID),
		Type:  notify.EventMessageUpdated,
		Data:  MessageEvent{Message: msg, Contact: contactID},
	})
}

func (n *Notifier) publish(ctx context.Context, events ...notify.Event) {
	if n == nil || n.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	for _, ev := range events {
		if err := n.pub.Publish(ctx, ev); err != nil {
			n.log.Warn("realtime publish failed", "topic", ev.Topic, "type", ev.Type, "error", err)
		}
	}
}
