package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DirectionIncoming = "Incoming"
	DirectionOutgoing = "Outgoing"
)

// Message delivery statuses. Incoming messages start as received and may be
// marked as read by an operator; outgoing ones move queued -> sent -> delivered -> read.
const (
	StatusReceived   = "received"
	StatusMarkedRead = "marked as read"
	StatusQueued     = "queued"
	StatusSent       = "sent"
	StatusDelivered  = "delivered"
	StatusRead       = "read"
	StatusFailed     = "failed"
)

// Content kinds stored on Message.ContentType.
const (
	ContentText     = "text"
	ContentReaction = "reaction"
	ContentButton   = "button"
	ContentFlow     = "flow"
	ContentImage    = "image"
	ContentAudio    = "audio"
	ContentVideo    = "video"
	ContentDocument = "document"
	ContentTemplate = "template"
	ContentUnknown  = "unknown"
)

const (
	SourceIncoming = "WhatsApp Incoming"
	SourceOutgoing = "WhatsApp Outgoing"

	QualificationNew = "New"
)

const (
	LogKindWebhook   = "webhook"
	LogKindError     = "error"
	LogKindRelay     = "relay"
	LogKindSignature = "signature"
)

// Account is a configured WhatsApp Business phone number.
type Account struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"type:varchar(140);uniqueIndex;not null" json:"name"`
	PhoneNumberID     string    `gorm:"type:varchar(64);index" json:"phone_number_id"`
	BusinessAccountID string    `gorm:"type:varchar(64)" json:"business_account_id"`
	APIURL            string    `gorm:"type:varchar(255)" json:"api_url"`
	APIVersion        string    `gorm:"type:varchar(20)" json:"api_version"`
	Token             string    `gorm:"type:text" json:"-"`
	VerifyToken       string    `gorm:"type:varchar(255);index" json:"-"`
	RelayURL          string    `gorm:"type:varchar(500)" json:"relay_url"`
	DefaultIncoming   bool      `gorm:"default:false" json:"default_incoming"`
	DefaultOutgoing   bool      `gorm:"default:false" json:"default_outgoing"`
	AutoReadReceipt   bool      `gorm:"default:false" json:"auto_read_receipt"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// GraphBaseURL joins the API host and version, e.g. https://graph.facebook.com/v19.0.
func (a *Account) GraphBaseURL() string {
	return strings.TrimRight(a.APIURL, "/") + "/" + strings.Trim(a.APIVersion, "/")
}

// Contact is the per-number conversation state.
type Contact struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	MobileNo            string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"mobile_no"`
	// NumberKey is MobileNo without separators or '+', so both written
	// forms of a number collide on insert.
	NumberKey           *string    `gorm:"type:varchar(32);uniqueIndex" json:"-"`
	ContactName         string     `gorm:"type:varchar(255)" json:"contact_name"`
	CountryCode         string     `gorm:"type:varchar(8)" json:"country_code"`
	AccountID           *uint      `gorm:"index" json:"account_id"`
	LeadReference       string     `gorm:"type:varchar(140)" json:"lead_reference"`
	ConvertedToLead     bool       `gorm:"default:false" json:"converted_to_lead"`
	QualificationStatus string     `gorm:"type:varchar(50)" json:"qualification_status"`
	Source              string     `gorm:"type:varchar(50)" json:"source"`
	AssignedTo          string     `gorm:"type:varchar(255);index" json:"assigned_to"`
	TotalMessages       int        `gorm:"not null;default:0" json:"total_messages"`
	UnreadCount         int        `gorm:"not null;default:0" json:"unread_count"`
	IsRead              bool       `gorm:"not null;default:false" json:"is_read"`
	LastMessage         string     `gorm:"type:text" json:"last_message"`
	LastMessageDate     *time.Time `json:"last_message_date"`
	FirstMessageDate    *time.Time `json:"first_message_date"`
	DetectedLanguage    string     `gorm:"type:varchar(20)" json:"detected_language"`
	BotPausedUntil      *time.Time `json:"bot_paused_until"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// BeforeCreate derives NumberKey from MobileNo.
func (c *Contact) BeforeCreate(*gorm.DB) error {
	if key := NumberKey(c.MobileNo); key != "" {
		c.NumberKey = &key
	}
	return nil
}

// NumberKey strips spaces, hyphens and the leading '+' from a phone number.
func NumberKey(number string) string {
	clean := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(number))
	return strings.TrimPrefix(clean, "+")
}

// BotPaused reports whether automated replies are suspended for this contact at t.
func (c *Contact) BotPaused(t time.Time) bool {
	return c.BotPausedUntil != nil && c.BotPausedUntil.After(t)
}

// Message is a single inbound or outbound chat message.
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AccountID      uint      `gorm:"not null;uniqueIndex:idx_messages_account_external" json:"account_id"`
	ExternalID     *string   `gorm:"type:varchar(255);uniqueIndex:idx_messages_account_external" json:"external_id"`
	ContactID      uint      `gorm:"index;not null" json:"contact_id"`
	Direction      string    `gorm:"type:varchar(10);not null" json:"direction"`
	Counterpart    string    `gorm:"type:varchar(32);index" json:"counterpart"`
	ContentType    string    `gorm:"type:varchar(20)" json:"content_type"`
	WireType       string    `gorm:"type:varchar(50)" json:"wire_type"`
	Body           string    `gorm:"type:text" json:"body"`
	Attachment     string    `gorm:"type:text" json:"attachment"`
	FlowResponse   string    `gorm:"type:text" json:"flow_response,omitempty"`
	IsReply        bool      `gorm:"default:false" json:"is_reply"`
	ReplyToID      string    `gorm:"type:varchar(255)" json:"reply_to_id"`
	Status         string    `gorm:"type:varchar(20);index" json:"status"`
	ConversationID string    `gorm:"type:varchar(255)" json:"conversation_id"`
	ProfileName    string    `gorm:"type:varchar(255)" json:"profile_name"`
	ReferenceType  string    `gorm:"type:varchar(50)" json:"reference_type,omitempty"`
	ReferenceName  string    `gorm:"type:varchar(140)" json:"reference_name,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// ExternalRef returns the provider message id or "" for unsent drafts.
func (m *Message) ExternalRef() string {
	if m.ExternalID == nil {
		return ""
	}
	return *m.ExternalID
}

// Attachment is a stored media file referenced by a Message.
type Attachment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MessageID  uint      `gorm:"index;not null" json:"message_id"`
	FileName   string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"file_name"`
	StorageKey string    `gorm:"type:varchar(500)" json:"storage_key"`
	URL        string    `gorm:"type:text" json:"url"`
	MimeType   string    `gorm:"type:varchar(255)" json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Attachment) TableName() string {
	return "attachments"
}

// Template represents a WhatsApp message template
type Template struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ExternalID string    `gorm:"type:varchar(64);uniqueIndex" json:"external_id"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	Language   string    `gorm:"type:varchar(50)" json:"language"`
	Category   string    `gorm:"type:varchar(100)" json:"category"`
	Status     string    `gorm:"type:varchar(50)" json:"status"`
	Components string    `gorm:"type:text" json:"components"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "templates"
}

// Lead is a CRM lead record. Contacts are linked to it by mobile number.
type Lead struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(140);uniqueIndex;not null" json:"name"`
	FirstName string    `gorm:"type:varchar(255)" json:"first_name"`
	MobileNo  string    `gorm:"type:varchar(32);index" json:"mobile_no"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Lead) TableName() string {
	return "leads"
}

// WebhookLog is the append-only audit trail of raw payloads and processing errors.
type WebhookLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"type:varchar(20);index" json:"kind"`
	Title     string    `gorm:"type:varchar(255)" json:"title"`
	Payload   string    `gorm:"type:text" json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}

// All lists every model for migrations and data copies, parents first.
func All() []any {
	return []any{
		&Account{},
		&Lead{},
		&Contact{},
		&Message{},
		&Attachment{},
		&Template{},
		&WebhookLog{},
	}
}
