package api

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"time"

	"whatsapp-inbox/internal/inbox"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"

	"github.com/gin-gonic/gin"
)

type ContactHandler struct {
	store         *store.Store
	conversations *inbox.Conversations
	log           *logging.Logger
}

func NewContactHandler(s *store.Store, conversations *inbox.Conversations, log *logging.Logger) *ContactHandler {
	return &ContactHandler{store: s, conversations: conversations, log: log}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	filter := store.ContactFilter{
		Search:     c.Query("search"),
		UnreadOnly: c.Query("unread") == "true",
		Limit:      queryInt(c, "limit", 100),
		Offset:     queryInt(c, "offset", 0),
	}
	contacts, err := h.store.ListContacts(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	// Return empty array instead of null
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

// GetMessages pages through a conversation, newest first. Pass before=<id>
// for the next page.
func (h *ContactHandler) GetMessages(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	messages, err := h.store.ListMessages(c.Request.Context(), store.MessageFilter{
		ContactID: id,
		BeforeID:  uint(queryInt(c, "before", 0)),
		Limit:     queryInt(c, "limit", 50),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

func (h *ContactHandler) MarkRead(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	if err := h.conversations.MarkRead(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Conversation marked as read"})
}

type BotPauseRequest struct {
	// Minutes of silence; zero resumes the bot.
	Minutes int `json:"minutes"`
}

func (h *ContactHandler) PauseBot(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	var req BotPauseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Minutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be a non-negative number"})
		return
	}

	var until *time.Time
	if req.Minutes > 0 {
		t := time.Now().Add(time.Duration(req.Minutes) * time.Minute)
		until = &t
	}
	if err := h.store.SetBotPause(c.Request.Context(), id, until); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_paused_until": until})
}

type AssignRequest struct {
	Operator string `json:"operator"`
}

func (h *ContactHandler) AssignContact(c *gin.Context) {
	id, ok := contactID(c)
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.AssignContact(c.Request.Context(), id, req.Operator); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Contact assigned", "assigned_to": req.Operator})
}

func (h *ContactHandler) ExportContacts(c *gin.Context) {
	contacts, err := h.store.ListContacts(c.Request.Context(), store.ContactFilter{})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=contacts.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"Mobile No", "Name", "Country Code", "Language", "Total Messages", "Unread", "Last Message At", "Lead", "Created At"})
	for _, contact := range contacts {
		_ = w.Write([]string{
			contact.MobileNo,
			contact.ContactName,
			contact.CountryCode,
			contact.DetectedLanguage,
			strconv.Itoa(contact.TotalMessages),
			strconv.Itoa(contact.UnreadCount),
			formatTime(contact.LastMessageDate),
			contact.LeadReference,
			contact.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.log.Error("contacts export failed", "error", err)
	}
}

func (h *ContactHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contact not found"})
		return
	}
	h.log.Error("contact request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func contactID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
