package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"whatsapp-inbox/internal/inbox"
	"whatsapp-inbox/internal/metrics"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"
	wa "whatsapp-inbox/pkg/models"

	"github.com/gin-gonic/gin"
)

// ErrNoAccount means a delivery could not be routed to any configured account.
var ErrNoAccount = errors.New("webhook: no account for delivery")

// Acknowledgement is the body of every POST response.
const Acknowledgement = "EVENT_RECEIVED"

type HandlerConfig struct {
	FallbackAccountName string
	AppSecret           string
	RelaySkipStatusOnly bool
}

type Handler struct {
	store    *store.Store
	ingestor *inbox.Ingestor
	statuses *inbox.StatusUpdater
	relay    *Relay
	metrics  *metrics.WebhookMetrics
	log      *logging.Logger
	cfg      HandlerConfig
}

func NewHandler(s *store.Store, ingestor *inbox.Ingestor, statuses *inbox.StatusUpdater, relay *Relay, m *metrics.WebhookMetrics, log *logging.Logger, cfg HandlerConfig) *Handler {
	return &Handler{
		store:    s,
		ingestor: ingestor,
		statuses: statuses,
		relay:    relay,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}
}

// VerifyWebhook answers the subscription handshake. The verify token must
// belong to a configured account; hub.mode is optional but must be
// "subscribe" when present.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "" && mode != "subscribe" {
		c.Status(http.StatusForbidden)
		return
	}

	account, err := h.store.AccountByVerifyToken(c.Request.Context(), token)
	if err != nil {
		h.log.Warn("webhook verification rejected", "error", err)
		c.Status(http.StatusForbidden)
		return
	}
	h.log.Info("webhook verified", "account", account.Name)
	c.String(http.StatusOK, challenge)
}

// HandleMessage ingests one delivery. It always answers 200 so the provider
// does not retry deliveries this service has already seen; failures are
// logged and written to the audit trail instead.
func (h *Handler) HandleMessage(c *gin.Context) {
	start := time.Now()
	// A delivery is processed to the end even if the provider hangs up.
	ctx := context.WithoutCancel(c.Request.Context())

	body, err := c.GetRawData()
	if err != nil {
		h.log.Error("read webhook body", "error", err)
		h.metrics.ObserveWebhook("unreadable", "error")
		c.String(http.StatusOK, Acknowledgement)
		return
	}
	h.audit(ctx, models.LogKindWebhook, "incoming webhook", string(body))

	if h.cfg.AppSecret != "" && !ValidSignature(h.cfg.AppSecret, body, c.GetHeader(SignatureHeader)) {
		h.log.Warn("webhook signature mismatch")
		h.audit(ctx, models.LogKindSignature, "invalid signature", c.GetHeader(SignatureHeader))
		h.metrics.ObserveWebhook("unsigned", "rejected")
		c.String(http.StatusOK, Acknowledgement)
		return
	}

	ev := Classify(body)
	kind := string(ev.Kind)
	defer func() { h.metrics.ObserveLatency(kind, time.Since(start).Seconds()) }()

	if ev.Kind == wa.EventUnknown {
		h.log.Debug("webhook carried nothing to process", "field", ev.Field)
		h.metrics.ObserveWebhook(kind, "ignored")
		c.String(http.StatusOK, Acknowledgement)
		return
	}

	account, err := h.resolveAccount(ctx, ev.RoutingKey)
	if err != nil {
		h.log.Error("webhook account resolution failed", "phone_number_id", ev.RoutingKey, "error", err)
		h.audit(ctx, models.LogKindError, "no account for "+ev.RoutingKey, err.Error())
		h.metrics.ObserveWebhook(kind, "unrouted")
		c.String(http.StatusOK, Acknowledgement)
		return
	}

	if h.relay != nil && !(h.cfg.RelaySkipStatusOnly && ev.Kind != wa.EventMessages) {
		h.relay.Forward(ctx, account, body, ev)
	}

	outcome := "processed"
	if err := h.dispatch(ctx, account, ev); err != nil {
		outcome = "partial"
	}
	h.metrics.ObserveWebhook(kind, outcome)
	c.String(http.StatusOK, Acknowledgement)
}

func (h *Handler) dispatch(ctx context.Context, account *models.Account, ev wa.InboundEvent) error {
	log := h.log.With("account", account.Name, "kind", ev.Kind)

	switch ev.Kind {
	case wa.EventMessages:
		var errs []error
		for _, out := range h.ingestor.Ingest(ctx, account, ev) {
			if out.Err != nil {
				errs = append(errs, out.Err)
			}
		}
		log.Info("messages ingested", "count", len(ev.Messages), "failed", len(errs))
		return errors.Join(errs...)

	case wa.EventStatuses:
		var errs []error
		for _, update := range ev.Statuses {
			if _, err := h.statuses.Apply(ctx, account, update); err != nil {
				log.Error("status update failed", "message_id", update.ExternalID, "error", err)
				h.audit(ctx, models.LogKindError, "status "+update.ExternalID, err.Error())
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	case wa.EventTemplateStatus:
		if _, err := h.statuses.ApplyTemplate(ctx, *ev.TemplateUpdate); err != nil {
			log.Error("template status update failed", "template_id", ev.TemplateUpdate.TemplateID, "error", err)
			h.audit(ctx, models.LogKindError, "template "+ev.TemplateUpdate.TemplateID, err.Error())
			return err
		}
	}
	return nil
}

// resolveAccount tries the routing key, then the default incoming account,
// then the configured fallback name.
func (h *Handler) resolveAccount(ctx context.Context, routingKey string) (*models.Account, error) {
	account, err := h.store.AccountByPhoneNumberID(ctx, routingKey)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}
	h.log.Warn("no account for phone number id, falling back", "phone_number_id", routingKey)

	account, err = h.store.DefaultIncomingAccount(ctx)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}

	account, err = h.store.AccountByName(ctx, h.cfg.FallbackAccountName)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: phone number id %q", ErrNoAccount, routingKey)
	}
	return account, err
}

func (h *Handler) audit(ctx context.Context, kind, title, payload string) {
	if err := h.store.AppendWebhookLog(ctx, kind, title, payload); err != nil {
		h.log.Error("audit log write failed", "kind", kind, "error", err)
	}
}
