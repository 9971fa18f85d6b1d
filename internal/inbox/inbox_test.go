package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"whatsapp-inbox/internal/media"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/notify"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/internal/store/storetest"
	"whatsapp-inbox/pkg/logging"
	wa "whatsapp-inbox/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	err error
}

func (f fakeMedia) Fetch(context.Context, *models.Account, string) (*media.Fetched, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &media.Fetched{Data: []byte("jpeg"), MimeType: "image/jpeg", Extension: "jpeg"}, nil
}

func (f fakeMedia) Save(_ context.Context, fetched *media.Fetched) (*media.Stored, error) {
	return &media.Stored{
		FileName: "a1b2c3d4e5.jpeg",
		Key:      "2026/10/a1b2c3d4e5.jpeg",
		URL:      "/files/2026/10/a1b2c3d4e5.jpeg",
		MimeType: fetched.MimeType,
		Size:     int64(len(fetched.Data)),
	}, nil
}

type fakeSender struct {
	mu       sync.Mutex
	sendErr  error
	sent     []string
	receipts []string
}

func (f *fakeSender) SendText(_ context.Context, _ *models.Account, to, body, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, to+":"+body)
	return fmt.Sprintf("wamid.OUT%d", len(f.sent)), nil
}

func (f *fakeSender) SendTemplate(_ context.Context, _ *models.Account, to, name, _ string, _ []string) (string, error) {
	return f.SendText(context.Background(), nil, to, name, "")
}

func (f *fakeSender) MarkRead(_ context.Context, _ *models.Account, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, externalID)
	return nil
}

type harness struct {
	store         *store.Store
	account       *models.Account
	recorder      *notify.Recorder
	resolver      *Resolver
	ingestor      *Ingestor
	statuses      *StatusUpdater
	conversations *Conversations
	sender        *fakeSender
}

func newHarness(t *testing.T, mediaSource MediaSource) *harness {
	t.Helper()
	db := storetest.NewDB(t)
	account := storetest.Account(t, db, "Main Office Number", "1000001", func(a *models.Account) {
		a.DefaultIncoming = true
		a.DefaultOutgoing = true
	})

	log := logging.Discard()
	s := store.New(db)
	recorder := &notify.Recorder{}
	notifier := NewNotifier(recorder, log)
	resolver := NewResolver(s, log)
	persister := NewPersister(s, notifier, log)
	sender := &fakeSender{}

	return &harness{
		store:         s,
		account:       account,
		recorder:      recorder,
		resolver:      resolver,
		ingestor:      NewIngestor(s, resolver, persister, mediaSource, nil, log, IngestorConfig{MediaWorkers: 2}),
		statuses:      NewStatusUpdater(s, notifier, log),
		conversations: NewConversations(s, resolver, persister, sender, log),
		sender:        sender,
	}
}

func textMessage(id, from, body string) wa.InboundMessage {
	return wa.InboundMessage{ExternalID: id, From: from, WireType: "text", Content: wa.TextContent{Body: body}}
}

func countRows(t *testing.T, s *store.Store, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB().Model(model).Count(&n).Error)
	return n
}

func TestPhoneVariants(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"15551234567", []string{"15551234567", "+15551234567"}},
		{"+15551234567", []string{"+15551234567", "15551234567"}},
		{" +1 555-123-4567 ", []string{"+15551234567", "15551234567"}},
		{"", nil},
		{"+", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, PhoneVariants(tt.in))
		})
	}
}

func TestCountryCode(t *testing.T) {
	assert.Equal(t, "9665", CountryCode("+966501234567"))
	assert.Equal(t, "1555", CountryCode("15551234567"))
	assert.Equal(t, "44", CountryCode("+44"))
	assert.Equal(t, "", CountryCode("abc"))
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty", "", LanguageEnglish},
		{"english", "hello there", LanguageEnglish},
		{"arabic", "مرحبا كيف حالك", LanguageArabic},
		{"mostly latin", "hello there friend مر", LanguageEnglish},
		{"mixed above threshold", "ok مرحبا", LanguageArabic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text))
		})
	}
}

func TestPreviewTruncatesRunes(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "م"
	}
	assert.Len(t, []rune(Preview(long)), 500)
	assert.Equal(t, "short", Preview("short"))
}

func TestResolveOrCreateFindsEitherVariant(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	created, err := h.resolver.ResolveOrCreate(ctx, Identity{MobileNo: "+15551234567", AccountID: h.account.ID})
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", created.ContactName)
	assert.Equal(t, "1555", created.CountryCode)
	assert.Equal(t, models.QualificationNew, created.QualificationStatus)
	assert.Equal(t, models.SourceIncoming, created.Source)
	assert.Equal(t, LanguageEnglish, created.DetectedLanguage)

	found, err := h.resolver.ResolveOrCreate(ctx, Identity{MobileNo: "15551234567", DisplayName: "Sam"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Sam", found.ContactName)
	assert.Equal(t, int64(1), countRows(t, h.store, &models.Contact{}))

	_, err = h.resolver.ResolveOrCreate(ctx, Identity{MobileNo: " "})
	assert.ErrorIs(t, err, ErrMissingNumber)
}

func TestResolveOrCreateLinksLead(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.CreateLead(ctx, &models.Lead{Name: "CRM-LEAD-0007", MobileNo: "+15551234567"}))

	contact, err := h.resolver.ResolveOrCreate(ctx, Identity{MobileNo: "15551234567", DisplayName: "سارة"})
	require.NoError(t, err)
	assert.Equal(t, "CRM-LEAD-0007", contact.LeadReference)
	assert.True(t, contact.ConvertedToLead)
	assert.Equal(t, LanguageArabic, contact.DetectedLanguage)
	assert.Equal(t, int64(1), countRows(t, h.store, &models.Lead{}))
}

func TestResolveOrCreateConcurrentFirstContact(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	const n = 10
	ids := make([]uint, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			contact, err := h.resolver.ResolveOrCreate(ctx, Identity{MobileNo: "15551234567"})
			if assert.NoError(t, err) {
				ids[i] = contact.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), countRows(t, h.store, &models.Contact{}))
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolveOrCreateConcurrentMixedForms(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	const rounds = 25
	for i := 0; i < rounds; i++ {
		number := fmt.Sprintf("1555000%04d", i)
		ids := make([]uint, 2)
		var wg sync.WaitGroup
		for j, form := range []string{number, "+" + number} {
			wg.Add(1)
			go func(j int, form string) {
				defer wg.Done()
				contact, err := h.resolver.ResolveOrCreate(ctx, Identity{MobileNo: form})
				if assert.NoError(t, err) {
					ids[j] = contact.ID
				}
			}(j, form)
		}
		wg.Wait()
		assert.Equal(t, ids[0], ids[1], number)
	}
	assert.Equal(t, int64(rounds), countRows(t, h.store, &models.Contact{}))
}

func TestIngestConcurrentDeliveriesCountEveryMessage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := wa.InboundEvent{
				Kind:     wa.EventMessages,
				Messages: []wa.InboundMessage{textMessage(fmt.Sprintf("wamid.%d", i), "15551234567", "hi")},
			}
			for _, out := range h.ingestor.Ingest(ctx, h.account, ev) {
				assert.NoError(t, out.Err)
			}
		}(i)
	}
	wg.Wait()

	contact, err := h.store.FindContactByNumbers(ctx, PhoneVariants("15551234567"))
	require.NoError(t, err)
	assert.Equal(t, n, contact.TotalMessages)
	assert.Equal(t, n, contact.UnreadCount)
	assert.Equal(t, int64(1), countRows(t, h.store, &models.Contact{}))
	assert.Equal(t, int64(n), countRows(t, h.store, &models.Message{}))
}

func TestIngestBatchIsolatesFailures(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	ev := wa.InboundEvent{
		Kind:        wa.EventMessages,
		ProfileName: "Sam",
		Messages: []wa.InboundMessage{
			textMessage("wamid.1", "15551234567", "first"),
			textMessage("wamid.2", "", "no sender"),
			textMessage("wamid.3", "15551234567", "third"),
		},
	}
	outcomes := h.ingestor.Ingest(ctx, h.account, ev)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, ErrMissingNumber)
	assert.NoError(t, outcomes[2].Err)

	_, err := h.store.MessageByExternalID(ctx, h.account.ID, "wamid.1")
	assert.NoError(t, err)
	_, err = h.store.MessageByExternalID(ctx, h.account.ID, "wamid.3")
	assert.NoError(t, err)

	contact, err := h.store.ContactByID(ctx, outcomes[0].ContactID)
	require.NoError(t, err)
	assert.Equal(t, 2, contact.TotalMessages)
	assert.Equal(t, "third", contact.LastMessage)
	assert.Equal(t, "Sam", contact.ContactName)

	logs, err := h.store.ListWebhookLogs(ctx, models.LogKindError, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestIngestSkipsRedelivery(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	ev := wa.InboundEvent{Kind: wa.EventMessages, Messages: []wa.InboundMessage{textMessage("wamid.1", "15551234567", "hi")}}

	first := h.ingestor.Ingest(ctx, h.account, ev)
	require.NoError(t, first[0].Err)
	published := len(h.recorder.Events())

	second := h.ingestor.Ingest(ctx, h.account, ev)
	require.NoError(t, second[0].Err)
	assert.True(t, second[0].Duplicate)

	contact, err := h.store.ContactByID(ctx, first[0].ContactID)
	require.NoError(t, err)
	assert.Equal(t, 1, contact.TotalMessages)
	assert.Len(t, h.recorder.Events(), published)
}

func TestIngestPublishesAfterCommit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	out := h.ingestor.Ingest(ctx, h.account, wa.InboundEvent{Messages: []wa.InboundMessage{textMessage("wamid.1", "15551234567", "hi")}})
	require.NoError(t, out[0].Err)
	require.NoError(t, h.store.AssignContact(ctx, out[0].ContactID, "agent@example.com"))
	h.ingestor.Ingest(ctx, h.account, wa.InboundEvent{Messages: []wa.InboundMessage{textMessage("wamid.2", "15551234567", "again")}})

	assert.Len(t, h.recorder.ByTopic(notify.ConversationTopic(out[0].ContactID)), 2)
	assert.Len(t, h.recorder.ByTopic(notify.TopicConversationList), 2)
	operator := h.recorder.ByTopic(notify.OperatorTopic("agent@example.com"))
	require.Len(t, operator, 1)
	update := operator[0].Data.(ConversationUpdate)
	assert.Equal(t, "again", update.Content)
	assert.Equal(t, 2, update.UnreadCount)
}

func TestIngestContentKinds(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	seed := h.ingestor.Ingest(ctx, h.account, wa.InboundEvent{Messages: []wa.InboundMessage{textMessage("wamid.0", "15551234567", "hello")}})
	require.NoError(t, seed[0].Err)

	ev := wa.InboundEvent{Messages: []wa.InboundMessage{
		{ExternalID: "wamid.r", From: "15551234567", WireType: "reaction", Content: wa.ReactionContent{Emoji: "👍", MessageID: "wamid.0"}},
		{ExternalID: "wamid.b", From: "15551234567", WireType: "interactive", Content: wa.ButtonReplyContent{ID: "yes", Title: "Yes please"}},
		{ExternalID: "wamid.f", From: "15551234567", WireType: "interactive", Content: wa.FlowSubmissionContent{ResponseJSON: `{"name":"Sam"}`, Summary: "name: Sam"}},
		{ExternalID: "wamid.u", From: "15551234567", WireType: "location", Content: wa.UnknownContent{Type: "location", Body: `{"latitude":1}`}},
	}}
	for _, out := range h.ingestor.Ingest(ctx, h.account, ev) {
		require.NoError(t, out.Err)
	}

	reaction, err := h.store.MessageByExternalID(ctx, h.account.ID, "wamid.r")
	require.NoError(t, err)
	assert.Equal(t, models.ContentReaction, reaction.ContentType)
	assert.Equal(t, "👍", reaction.Body)
	assert.Equal(t, "wamid.0", reaction.ReplyToID)

	button, err := h.store.MessageByExternalID(ctx, h.account.ID, "wamid.b")
	require.NoError(t, err)
	assert.Equal(t, models.ContentButton, button.ContentType)
	assert.Equal(t, "yes", button.Body)

	flow, err := h.store.MessageByExternalID(ctx, h.account.ID, "wamid.f")
	require.NoError(t, err)
	assert.Equal(t, models.ContentFlow, flow.ContentType)
	assert.Equal(t, `{"name":"Sam"}`, flow.FlowResponse)

	unknown, err := h.store.MessageByExternalID(ctx, h.account.ID, "wamid.u")
	require.NoError(t, err)
	assert.Equal(t, models.ContentUnknown, unknown.ContentType)
	assert.Equal(t, "location", unknown.WireType)

	contact, err := h.store.ContactByID(ctx, seed[0].ContactID)
	require.NoError(t, err)
	assert.Equal(t, 5, contact.TotalMessages)
	assert.Equal(t, `{"latitude":1}`, contact.LastMessage)

	flowEvents := 0
	for _, ev := range h.recorder.Events() {
		if ev.Type == notify.EventFlowResponse {
			flowEvents++
		}
	}
	assert.Equal(t, 1, flowEvents)
}

func TestReactionKeepsPreview(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	out := h.ingestor.Ingest(ctx, h.account, wa.InboundEvent{Messages: []wa.InboundMessage{
		textMessage("wamid.0", "15551234567", "hello"),
		{ExternalID: "wamid.r", From: "15551234567", WireType: "reaction", Content: wa.ReactionContent{Emoji: "❤️", MessageID: "wamid.0"}},
	}})
	contact, err := h.store.ContactByID(ctx, out[0].ContactID)
	require.NoError(t, err)
	assert.Equal(t, "hello", contact.LastMessage)
	assert.Equal(t, 2, contact.TotalMessages)
}

func TestIngestMediaAttachesInBackground(t *testing.T) {
	h := newHarness(t, fakeMedia{})
	ctx := context.Background()

	out := h.ingestor.Ingest(ctx, h.account, wa.InboundEvent{Messages: []wa.InboundMessage{{
		ExternalID: "wamid.img", From: "15551234567", WireType: "image",
		Content: wa.MediaContent{MediaKind: "image", MediaID: "media-1", Caption: "look"},
	}}})
	require.NoError(t, out[0].Err)
	h.ingestor.Wait()

	msg, err := h.store.MessageByExternalID(ctx, h.account.ID, "wamid.img")
	require.NoError(t, err)
	assert.Equal(t, models.ContentImage, msg.ContentType)
	assert.Equal(t, "look", msg.Body)
	assert.Equal(t, "/files/2026/10/a1b2c3d4e5.jpeg", msg.Attachment)

	files, err := h.store.AttachmentsForMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "image/jpeg", files[0].MimeType)
}

func TestIngestMediaFailureKeepsMessage(t *testing.T) {
	h := newHarness(t, fakeMedia{err: media.ErrProviderUnavailable})
	ctx := context.Background()

	out := h.ingestor.Ingest(ctx, h.account, wa.InboundEvent{Messages: []wa.InboundMessage{{
		ExternalID: "wamid.doc", From: "15551234567", WireType: "document",
		Content: wa.MediaContent{MediaKind: "document", MediaID: "media-9"},
	}}})
	require.NoError(t, out[0].Err)
	h.ingestor.Wait()

	msg, err := h.store.MessageByExternalID(ctx, h.account.ID, "wamid.doc")
	require.NoError(t, err)
	assert.Empty(t, msg.Attachment)

	logs, err := h.store.ListWebhookLogs(ctx, models.LogKindError, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Payload, "provider unavailable")
}

func TestStatusUpdates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	changed, err := h.statuses.Apply(ctx, h.account, wa.StatusUpdate{ExternalID: "wamid.unknown", Status: "delivered"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, countRows(t, h.store, &models.Message{}))

	sent, err := h.conversations.SendText(ctx, TextMessage{To: "15551234567", Body: "hello"})
	require.NoError(t, err)

	changed, err = h.statuses.Apply(ctx, h.account, wa.StatusUpdate{ExternalID: sent.ExternalRef(), Status: "read", ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = h.statuses.Apply(ctx, h.account, wa.StatusUpdate{ExternalID: sent.ExternalRef(), Status: "delivered"})
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := h.store.MessageByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, got.Status)
	assert.Equal(t, "conv-1", got.ConversationID)
}

func TestTemplateStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.CreateTemplate(ctx, &models.Template{ExternalID: "594425479261596", Name: "welcome", Status: "PENDING"}))

	changed, err := h.statuses.ApplyTemplate(ctx, wa.TemplateStatusUpdate{TemplateID: "594425479261596", Event: "APPROVED"})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = h.statuses.ApplyTemplate(ctx, wa.TemplateStatusUpdate{TemplateID: "404", Event: "REJECTED"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSendTextRecordsOutcome(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	msg, err := h.conversations.SendText(ctx, TextMessage{To: "+15551234567", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "wamid.OUT1", msg.ExternalRef())

	contact, err := h.store.ContactByID(ctx, msg.ContactID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceOutgoing, contact.Source)
	assert.Equal(t, 1, contact.TotalMessages)
	assert.Zero(t, contact.UnreadCount)

	h.sender.sendErr = errors.New("graph down")
	failed, err := h.conversations.SendText(ctx, TextMessage{To: "15551234567", Body: "again"})
	require.Error(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, models.StatusFailed, failed.Status)

	stored, err := h.store.MessageByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, contact.ID, stored.ContactID)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.DB().Model(h.account).Update("auto_read_receipt", true).Error)

	out := h.ingestor.Ingest(ctx, h.account, wa.InboundEvent{Messages: []wa.InboundMessage{
		textMessage("wamid.1", "15551234567", "one"),
		textMessage("wamid.2", "15551234567", "two"),
	}})
	contactID := out[0].ContactID

	require.NoError(t, h.conversations.MarkRead(ctx, contactID))
	require.NoError(t, h.conversations.MarkRead(ctx, contactID))

	contact, err := h.store.ContactByID(ctx, contactID)
	require.NoError(t, err)
	assert.True(t, contact.IsRead)
	assert.Zero(t, contact.UnreadCount)
	assert.ElementsMatch(t, []string{"wamid.1", "wamid.2"}, h.sender.receipts)

	msg, err := h.store.MessageByExternalID(ctx, h.account.ID, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusMarkedRead, msg.Status)
}
