package api

import (
	"errors"
	"net/http"

	"whatsapp-inbox/internal/inbox"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"

	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the operator's outbound actions and the audit views.
type DashboardHandler struct {
	store         *store.Store
	conversations *inbox.Conversations
	log           *logging.Logger
}

func NewDashboardHandler(s *store.Store, conversations *inbox.Conversations, log *logging.Logger) *DashboardHandler {
	return &DashboardHandler{store: s, conversations: conversations, log: log}
}

type SendRequest struct {
	AccountID uint   `json:"account_id"`
	To        string `json:"to" binding:"required"`
	Content   string `json:"content" binding:"required"`
	ReplyTo   string `json:"reply_to"`
}

func (h *DashboardHandler) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.conversations.SendText(c.Request.Context(), inbox.TextMessage{
		AccountID: req.AccountID,
		To:        req.To,
		Body:      req.Content,
		ReplyTo:   req.ReplyTo,
	})
	h.respondSend(c, msg, err)
}

type SendTemplateRequest struct {
	AccountID uint     `json:"account_id"`
	To        string   `json:"to" binding:"required"`
	Name      string   `json:"name" binding:"required"`
	Language  string   `json:"language"`
	Params    []string `json:"params"`
}

func (h *DashboardHandler) SendTemplate(c *gin.Context) {
	var req SendTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.conversations.SendTemplate(c.Request.Context(), inbox.TemplateMessage{
		AccountID: req.AccountID,
		To:        req.To,
		Name:      req.Name,
		Language:  req.Language,
		Params:    req.Params,
	})
	h.respondSend(c, msg, err)
}

// respondSend reports a failed send as 502 with the stored message, since the
// failure is recorded on it.
func (h *DashboardHandler) respondSend(c *gin.Context, msg *models.Message, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, msg)
	case msg != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send message: " + err.Error(), "message": msg})
	case errors.Is(err, inbox.ErrMissingNumber):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrAccountNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no outgoing account configured"})
	default:
		h.log.Error("send failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *DashboardHandler) GetWebhookLogs(c *gin.Context) {
	logs, err := h.store.ListWebhookLogs(c.Request.Context(), c.Query("kind"), queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.WebhookLog{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *DashboardHandler) GetTemplates(c *gin.Context) {
	templates, err := h.store.ListTemplates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if templates == nil {
		templates = []models.Template{}
	}
	c.JSON(http.StatusOK, templates)
}
