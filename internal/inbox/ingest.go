package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsapp-inbox/internal/media"
	"whatsapp-inbox/internal/metrics"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"
	wa "whatsapp-inbox/pkg/models"
)

// MediaSource downloads provider media and writes it to attachment storage.
type MediaSource interface {
	Fetch(ctx context.Context, account *models.Account, mediaID string) (*media.Fetched, error)
	Save(ctx context.Context, fetched *media.Fetched) (*media.Stored, error)
}

// Outcome is the result of ingesting one message of a batch.
type Outcome struct {
	ExternalID string
	ContactID  uint
	MessageID  uint
	Duplicate  bool
	Err        error
}

type IngestorConfig struct {
	MediaTimeout time.Duration
	MediaWorkers int
}

// Ingestor stores every message of a delivery independently: one message
// failing never stops its siblings. Media downloads run in the background
// on a bounded pool.
type Ingestor struct {
	store     *store.Store
	resolver  *Resolver
	persister *Persister
	media     MediaSource
	metrics   *metrics.WebhookMetrics
	log       *logging.Logger

	mediaTimeout time.Duration
	sem          chan struct{}
	wg           sync.WaitGroup
}

func NewIngestor(s *store.Store, resolver *Resolver, persister *Persister, mediaSource MediaSource, m *metrics.WebhookMetrics, log *logging.Logger, cfg IngestorConfig) *Ingestor {
	if cfg.MediaWorkers <= 0 {
		cfg.MediaWorkers = 1
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 30 * time.Second
	}
	return &Ingestor{
		store:        s,
		resolver:     resolver,
		persister:    persister,
		media:        mediaSource,
		metrics:      m,
		log:          log,
		mediaTimeout: cfg.MediaTimeout,
		sem:          make(chan struct{}, cfg.MediaWorkers),
	}
}

// Ingest processes ev.Messages in order and reports one Outcome per message.
func (i *Ingestor) Ingest(ctx context.Context, account *models.Account, ev wa.InboundEvent) []Outcome {
	outcomes := make([]Outcome, 0, len(ev.Messages))
	for _, m := range ev.Messages {
		out := i.ingestOne(ctx, account, ev.ProfileName, m)
		switch {
		case out.Err != nil:
			i.metrics.ObserveInbound(wa.Kind(m.Content), "error")
			i.log.Error("message ingestion failed", "message_id", m.ExternalID, "from", m.From, "error", out.Err)
			i.audit(ctx, "message "+m.ExternalID, out.Err)
		case out.Duplicate:
			i.metrics.ObserveInbound(wa.Kind(m.Content), "duplicate")
		default:
			i.metrics.ObserveInbound(wa.Kind(m.Content), "stored")
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Wait blocks until background media downloads have finished.
func (i *Ingestor) Wait() {
	i.wg.Wait()
}

func (i *Ingestor) ingestOne(ctx context.Context, account *models.Account, profileName string, m wa.InboundMessage) (out Outcome) {
	out.ExternalID = m.ExternalID
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("inbox: panic ingesting %s: %v", m.ExternalID, r)
		}
	}()

	if m.ExternalID == "" {
		out.Err = errors.New("inbox: message has no id")
		return out
	}

	contact, err := i.resolver.ResolveOrCreate(ctx, Identity{
		MobileNo:    m.From,
		DisplayName: profileName,
		AccountID:   account.ID,
		Source:      models.SourceIncoming,
	})
	if err != nil {
		out.Err = err
		return out
	}
	out.ContactID = contact.ID

	externalID := m.ExternalID
	msg := &models.Message{
		AccountID:     account.ID,
		ExternalID:    &externalID,
		Direction:     models.DirectionIncoming,
		Counterpart:   m.From,
		WireType:      m.WireType,
		IsReply:       m.IsReply,
		ReplyToID:     m.ReplyTo,
		Status:        models.StatusReceived,
		ProfileName:   profileName,
		ReferenceType: "Contact",
		ReferenceName: contact.MobileNo,
	}
	preview := applyContent(msg, m.Content)

	stored, err := i.persister.Persist(ctx, Record{Contact: contact, Message: msg, Preview: preview, Incoming: true})
	if errors.Is(err, store.ErrDuplicate) {
		out.Duplicate = true
		return out
	}
	if err != nil {
		out.Err = err
		return out
	}
	out.MessageID = stored.ID

	if c, ok := m.Content.(wa.MediaContent); ok && c.MediaID != "" {
		i.fetchMedia(ctx, account, stored, c)
	}
	return out
}

// applyContent fills the content columns of msg and returns the preview text.
func applyContent(msg *models.Message, content wa.Content) string {
	msg.ContentType = wa.Kind(content)
	switch c := content.(type) {
	case wa.TextContent:
		msg.Body = c.Body
		return c.Body
	case wa.ReactionContent:
		msg.Body = c.Emoji
		msg.ReplyToID = c.MessageID
		return ""
	case wa.ButtonReplyContent:
		msg.Body = c.ID
		return firstNonEmpty(c.Title, c.ID)
	case wa.ListReplyContent:
		msg.Body = c.ID
		return firstNonEmpty(c.Title, c.ID)
	case wa.FlowSubmissionContent:
		msg.Body = c.Summary
		msg.FlowResponse = c.ResponseJSON
		return c.Summary
	case wa.MediaContent:
		msg.Body = c.Caption
		return c.Caption
	case wa.ButtonContent:
		msg.Body = c.Text
		return c.Text
	case wa.UnknownContent:
		msg.Body = c.Body
		return c.Body
	default:
		msg.ContentType = models.ContentUnknown
		return ""
	}
}

func (i *Ingestor) fetchMedia(ctx context.Context, account *models.Account, msg *models.Message, c wa.MediaContent) {
	if i.media == nil {
		return
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.sem <- struct{}{}
		defer func() { <-i.sem }()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.mediaTimeout)
		defer cancel()

		log := i.log.With("message_id", msg.ExternalRef(), "media_id", c.MediaID)
		if err := i.attach(ctx, account, msg, c); err != nil {
			i.metrics.ObserveMedia("error")
			log.Warn("media download failed", "error", err)
			i.audit(ctx, "media "+c.MediaID, err)
			return
		}
		i.metrics.ObserveMedia("stored")
		log.Info("media attached", "kind", c.MediaKind)
	}()
}

func (i *Ingestor) attach(ctx context.Context, account *models.Account, msg *models.Message, c wa.MediaContent) error {
	fetched, err := i.media.Fetch(ctx, account, c.MediaID)
	if err != nil {
		return err
	}
	if fetched.MimeType == "" {
		fetched.MimeType = c.MimeType
	}
	saved, err := i.media.Save(ctx, fetched)
	if err != nil {
		return err
	}
	return i.persister.AttachFile(ctx, msg, &models.Attachment{
		FileName:   saved.FileName,
		StorageKey: saved.Key,
		URL:        saved.URL,
		MimeType:   saved.MimeType,
		SizeBytes:  saved.Size,
	})
}

func (i *Ingestor) audit(ctx context.Context, title string, cause error) {
	if err := i.store.AppendWebhookLog(context.WithoutCancel(ctx), models.LogKindError, title, cause.Error()); err != nil {
		i.log.Error("audit log write failed", "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
