package clinic

import (
	"context"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/delivery"
)

// ContactBook resolves delivery addresses and preferences for the relay.
type ContactBook struct {
	users    UserRepository
	settings SettingsRepository
}

func NewContactBook(users UserRepository, settings SettingsRepository) *ContactBook {
	return &ContactBook{users: users, settings: settings}
}

func (b *ContactBook) Contact(ctx context.Context, userID uuid.UUID) (delivery.Contact, error) {
	u, err := b.users.GetByID(ctx, userID)
	if err != nil {
		return delivery.Contact{}, err
	}
	st, err := b.settings.Get(ctx, userID)
	if err != nil {
		return delivery.Contact{}, err
	}
	c := delivery.Contact{
		Email:        u.Email,
		Enabled:      u.IsActive && st.NotificationsEnabled,
		EmailEnabled: st.EmailEnabled,
		SMSEnabled:   st.SMSEnabled,
	}
	if u.Phone != nil {
		c.Phone = *u.Phone
	}
	return c, nil
}
