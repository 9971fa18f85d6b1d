package inbox

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/pkg/logging"
)

var ErrMissingNumber = errors.New("inbox: message has no sender number")

// Identity is what a message tells us about its counterpart.
type Identity struct {
	MobileNo    string
	DisplayName string
	AccountID   uint
	Source      string
}

// Resolver maps phone numbers to exactly one Contact.
type Resolver struct {
	store *store.Store
	log   *logging.Logger
}

func NewResolver(s *store.Store, log *logging.Logger) *Resolver {
	return &Resolver{store: s, log: log}
}

// Lookup finds the contact for number without creating one.
func (r *Resolver) Lookup(ctx context.Context, number string) (*models.Contact, error) {
	return r.store.FindContactByNumbers(ctx, PhoneVariants(number))
}

// ResolveOrCreate returns the contact for id.MobileNo, creating it on first
// sight. Two concurrent first messages from the same number converge on one
// row: the loser of the insert race re-reads the winner's.
func (r *Resolver) ResolveOrCreate(ctx context.Context, id Identity) (*models.Contact, error) {
	variants := PhoneVariants(id.MobileNo)
	if len(variants) == 0 {
		return nil, ErrMissingNumber
	}

	contact, err := r.store.FindContactByNumbers(ctx, variants)
	switch {
	case err == nil:
		return r.refresh(ctx, contact, id, variants)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("inbox: lookup contact: %w", err)
	}

	name := firstNonEmpty(id.DisplayName, variants[0])
	contact = &models.Contact{
		MobileNo:            variants[0],
		ContactName:         name,
		CountryCode:         CountryCode(variants[0]),
		QualificationStatus: models.QualificationNew,
		Source:              id.Source,
		DetectedLanguage:    DetectLanguage(name),
	}
	if contact.Source == "" {
		contact.Source = models.SourceIncoming
	}
	if id.AccountID != 0 {
		accountID := id.AccountID
		contact.AccountID = &accountID
	}
	if lead, err := r.store.LeadByNumbers(ctx, variants); err == nil {
		contact.LeadReference = lead.Name
		contact.ConvertedToLead = true
	}

	createErr := r.store.CreateContact(ctx, contact)
	if createErr == nil {
		r.log.Info("contact created", "contact_id", contact.ID, "mobile_no", contact.MobileNo)
		return contact, nil
	}

	existing, err := r.store.FindContactByNumbers(ctx, variants)
	if err != nil {
		return nil, fmt.Errorf("inbox: create contact: %w", createErr)
	}
	if !errors.Is(createErr, store.ErrDuplicate) {
		r.log.Warn("contact insert failed, using concurrent row", "mobile_no", variants[0], "error", createErr)
	}
	return r.refresh(ctx, existing, id, variants)
}

// refresh fills in facts the stored contact is still missing.
func (r *Resolver) refresh(ctx context.Context, contact *models.Contact, id Identity, variants []string) (*models.Contact, error) {
	fields := map[string]any{}
	if id.DisplayName != "" && (contact.ContactName == "" || contact.ContactName == contact.MobileNo) {
		fields["contact_name"] = id.DisplayName
		contact.ContactName = id.DisplayName
	}
	if contact.AccountID == nil && id.AccountID != 0 {
		accountID := id.AccountID
		fields["account_id"] = accountID
		contact.AccountID = &accountID
	}
	if contact.LeadReference == "" {
		if lead, err := r.store.LeadByNumbers(ctx, variants); err == nil {
			fields["lead_reference"] = lead.Name
			fields["converted_to_lead"] = true
			contact.LeadReference = lead.Name
			contact.ConvertedToLead = true
		}
	}
	if len(fields) == 0 {
		return contact, nil
	}
	if err := r.store.UpdateContact(ctx, contact.ID, fields); err != nil {
		return nil, fmt.Errorf("inbox: update contact %d: %w", contact.ID, err)
	}
	return contact, nil
}
