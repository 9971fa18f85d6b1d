package inbox

import (
	"context"
	"fmt"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"
	wa "whatsapp-inbox/pkg/models"
)

// StatusUpdater applies delivery receipts and template review results.
type StatusUpdater struct {
	store    *store.Store
	notifier *Notifier
	log      *logging.Logger
}

func NewStatusUpdater(s *store.Store, notifier *Notifier, log *logging.Logger) *StatusUpdater {
	return &StatusUpdater{store: s, notifier: notifier, log: log}
}

// Apply records a delivery receipt. Receipts for messages this system never
// stored are dropped without error.
func (u *StatusUpdater) Apply(ctx context.Context, account *models.Account, update wa.StatusUpdate) (bool, error) {
	if update.ExternalID == "" || update.Status == "" {
		return false, nil
	}
	changed, err := u.store.ApplyStatus(ctx, account.ID, update.ExternalID, update.Status, update.ConversationID)
	if err != nil {
		return false, fmt.Errorf("inbox: apply status %s to %s: %w", update.Status, update.ExternalID, err)
	}
	if !changed {
		u.log.Debug("status ignored", "message_id", update.ExternalID, "status", update.Status)
		return false, nil
	}
	if update.ErrorTitle != "" {
		u.log.Warn("message delivery failed", "message_id", update.ExternalID, "reason", update.ErrorTitle)
	}

	if msg, err := u.store.MessageByExternalID(ctx, account.ID, update.ExternalID); err == nil {
		u.notifier.MessageUpdated(ctx, msg.ContactID, msg)
	}
	return true, nil
}

// ApplyTemplate stores a template's new review status.
func (u *StatusUpdater) ApplyTemplate(ctx context.Context, update wa.TemplateStatusUpdate) (bool, error) {
	if update.TemplateID == "" || update.Event == "" {
		return false, nil
	}
	changed, err := u.store.UpdateTemplateStatus(ctx, update.TemplateID, update.Event)
	if err != nil {
		return false, fmt.Errorf("inbox: template %s status: %w", update.TemplateID, err)
	}
	if changed {
		u.log.Info("template status updated", "template_id", update.TemplateID, "name", update.Name, "status", update.Event)
	}
	return changed, nil
}
