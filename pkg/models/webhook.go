// Package models holds the provider-neutral shapes a webhook delivery is
// classified into before it reaches the inbox.
package models

import "time"

// EventKind tells which branch of the inbox handles a delivery.
type EventKind string

const (
	EventMessages       EventKind = "messages"
	EventStatuses       EventKind = "statuses"
	EventTemplateStatus EventKind = "template_status"
	EventUnknown        EventKind = "unknown"
)

const FieldTemplateStatusUpdate = "message_template_status_update"

// InboundEvent is one classified webhook delivery.
type InboundEvent struct {
	Kind  EventKind
	Field string
	// RoutingKey is the business phone number id the delivery is addressed to.
	RoutingKey  string
	ProfileName string

	Messages       []InboundMessage
	Statuses       []StatusUpdate
	TemplateUpdate *TemplateStatusUpdate
}

// InboundMessage is a single customer message in a batch.
type InboundMessage struct {
	ExternalID string
	From       string
	Timestamp  time.Time
	// WireType is the provider's type tag, kept verbatim.
	WireType string
	IsReply  bool
	ReplyTo  string
	Content  Content
}

// Content is the closed set of message payload kinds.
type Content interface {
	contentKind() string
}

// Kind returns the stored content kind of c.
func Kind(c Content) string {
	if c == nil {
		return "unknown"
	}
	return c.contentKind()
}

type TextContent struct {
	Body string
}

type ReactionContent struct {
	Emoji string
	// MessageID is the message being reacted to.
	MessageID string
}

type ButtonReplyContent struct {
	ID    string
	Title string
}

type ListReplyContent struct {
	ID          string
	Title       string
	Description string
}

// FlowSubmissionContent is a completed WhatsApp Flow form.
type FlowSubmissionContent struct {
	Name         string
	ResponseJSON string
	Summary      string
}

type MediaContent struct {
	MediaKind string
	MediaID   string
	MimeType  string
	Caption   string
	Filename  string
	SHA256    string
}

// ButtonContent is a tap on a template quick-reply button.
type ButtonContent struct {
	Text    string
	Payload string
}

// UnknownContent carries any type the inbox has no dedicated handling for.
type UnknownContent struct {
	Type string
	Body string
	Raw  string
}

func (TextContent) contentKind() string           { return "text" }
func (ReactionContent) contentKind() string       { return "reaction" }
func (ButtonReplyContent) contentKind() string    { return "button" }
func (ListReplyContent) contentKind() string      { return "button" }
func (FlowSubmissionContent) contentKind() string { return "flow" }
func (c MediaContent) contentKind() string        { return c.MediaKind }
func (ButtonContent) contentKind() string         { return "button" }
func (UnknownContent) contentKind() string        { return "unknown" }

// StatusUpdate is a delivery receipt for a message the business sent.
type StatusUpdate struct {
	ExternalID     string
	Status         string
	RecipientID    string
	ConversationID string
	Timestamp      time.Time
	ErrorTitle     string
}

// TemplateStatusUpdate reports a review decision on a message template.
type TemplateStatusUpdate struct {
	TemplateID string
	Name       string
	Event      string
	Reason     string
}
