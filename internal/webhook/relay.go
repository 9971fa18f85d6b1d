package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"whatsapp-inbox/internal/metrics"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"
	wa "whatsapp-inbox/pkg/models"
)

const (
	BotStatusHeader = "X-Bot-Status"
	BotPaused       = "paused"
	BotActive       = "active"
)

// ContactLookup finds an existing contact without creating one.
type ContactLookup interface {
	Lookup(ctx context.Context, number string) (*models.Contact, error)
}

// Relay forwards raw deliveries to an account's downstream URL. Forwarding
// runs in the background and never affects the webhook response.
type Relay struct {
	client   *http.Client
	contacts ContactLookup
	store    *store.Store
	metrics  *metrics.WebhookMetrics
	log      *logging.Logger
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewRelay(client *http.Client, contacts ContactLookup, s *store.Store, m *metrics.WebhookMetrics, log *logging.Logger, timeout time.Duration) *Relay {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Relay{client: client, contacts: contacts, store: s, metrics: m, log: log, timeout: timeout, now: time.Now}
}

// Forward posts body to account.RelayURL once.
func (r *Relay) Forward(ctx context.Context, account *models.Account, body []byte, ev wa.InboundEvent) {
	if account.RelayURL == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		status := r.botStatus(ctx, ev)
		code, err := r.post(ctx, account.RelayURL, body, status)
		log := r.log.With("account", account.Name, "url", account.RelayURL)
		if err != nil {
			r.metrics.ObserveRelay("error")
			log.Warn("relay failed", "error", err)
			if r.store != nil {
				if auditErr := r.store.AppendWebhookLog(ctx, models.LogKindRelay, "relay to "+account.RelayURL, err.Error()); auditErr != nil {
					log.Error("audit log write failed", "error", auditErr)
				}
			}
			return
		}
		r.metrics.ObserveRelay("ok")
		log.Debug("relay delivered", "status", code, "bot_status", status)
	}()
}

// Wait blocks until in-flight relays have finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) botStatus(ctx context.Context, ev wa.InboundEvent) string {
	if len(ev.Messages) == 0 || r.contacts == nil {
		return BotActive
	}
	contact, err := r.contacts.Lookup(ctx, ev.Messages[0].From)
	if err != nil || !contact.BotPaused(r.now()) {
		return BotActive
	}
	return BotPaused
}

func (r *Relay) post(ctx context.Context, url string, body []byte, botStatus string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(BotStatusHeader, botStatus)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("relay answered %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
