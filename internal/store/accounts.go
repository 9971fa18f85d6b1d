package store

import (
	"context"
	"fmt"

	"whatsapp-inbox/internal/models"
)

func (s *Store) AccountByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := s.conn(ctx).First(&account, id).Error; err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return &account, nil
}

// AccountByPhoneNumberID finds the account whose routing key matches.
func (s *Store) AccountByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Account, error) {
	if phoneNumberID == "" {
		return nil, ErrAccountNotFound
	}
	var account models.Account
	if err := s.conn(ctx).Where("phone_number_id = ?", phoneNumberID).Order("id").First(&account).Error; err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return &account, nil
}

func (s *Store) AccountByName(ctx context.Context, name string) (*models.Account, error) {
	if name == "" {
		return nil, ErrAccountNotFound
	}
	var account models.Account
	if err := s.conn(ctx).Where("name = ?", name).First(&account).Error; err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return &account, nil
}

// AccountByVerifyToken is used by the subscription handshake.
func (s *Store) AccountByVerifyToken(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, ErrAccountNotFound
	}
	var account models.Account
	if err := s.conn(ctx).Where("verify_token = ?", token).Order("id").First(&account).Error; err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return &account, nil
}

func (s *Store) DefaultIncomingAccount(ctx context.Context) (*models.Account, error) {
	return s.defaultAccount(ctx, "default_incoming")
}

func (s *Store) DefaultOutgoingAccount(ctx context.Context) (*models.Account, error) {
	return s.defaultAccount(ctx, "default_outgoing")
}

func (s *Store) defaultAccount(ctx context.Context, column string) (*models.Account, error) {
	var account models.Account
	err := s.conn(ctx).Where(fmt.Sprintf("%s = ?", column), true).Order("id").First(&account).Error
	if err != nil {
		return nil, notFound(err, ErrAccountNotFound)
	}
	return &account, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	return s.conn(ctx).Create(account).Error
}
