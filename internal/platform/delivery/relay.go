package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/notification"
	"github.com/medbook/medbook/internal/platform/metrics"
)

// Contact is what the relay needs to know about a recipient.
type Contact struct {
	Email        string
	Phone        string
	Enabled      bool
	EmailEnabled bool
	SMSEnabled   bool
}

// ContactLookup resolves a recipient's addresses and channel preferences.
type ContactLookup interface {
	Contact(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// smsActions are the action types time-sensitive enough to text.
var smsActions = map[string]bool{
	"appointment_reminder": true,
	"medicine_reminder":    true,
}

// Relay implements notification.Listener by mirroring rows to email and SMS.
// A nil sender disables its channel.
type Relay struct {
	contacts ContactLookup
	email    EmailSender
	sms      SMSSender
	attempts int
	backoff  time.Duration
	logger   zerolog.Logger
}

func NewRelay(contacts ContactLookup, email EmailSender, sms SMSSender, logger zerolog.Logger) *Relay {
	return &Relay{
		contacts: contacts,
		email:    email,
		sms:      sms,
		attempts: 3,
		backoff:  200 * time.Millisecond,
		logger:   logger.With().Str("component", "delivery_relay").Logger(),
	}
}

// WithRetry overrides the per-channel attempt count and the base backoff.
func (r *Relay) WithRetry(attempts int, backoff time.Duration) *Relay {
	if attempts < 1 {
		attempts = 1
	}
	r.attempts = attempts
	r.backoff = backoff
	return r
}

func (r *Relay) NotificationCreated(ctx context.Context, n *notification.Notification) error {
	if r.email == nil && r.sms == nil {
		return nil
	}
	contact, err := r.contacts.Contact(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("lookup contact for %s: %w", n.UserID, err)
	}
	if !contact.Enabled {
		return nil
	}

	if r.email != nil && contact.EmailEnabled && contact.Email != "" {
		r.deliver(ctx, "email", n, func(ctx context.Context) error {
			return r.email.SendEmail(ctx, contact.Email, n.Title, n.Message)
		})
	}

	action := ""
	if n.ActionType != nil {
		action = *n.ActionType
	}
	if r.sms != nil && contact.SMSEnabled && contact.Phone != "" && smsActions[action] {
		r.deliver(ctx, "sms", n, func(ctx context.Context) error {
			return r.sms.SendSMS(ctx, contact.Phone, n.Title+": "+n.Message)
		})
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, channel string, n *notification.Notification, send func(context.Context) error) {
	var err error
retry:
	for attempt := 1; ; attempt++ {
		if err = send(ctx); err == nil {
			metrics.DeliveryAttempts.WithLabelValues(channel, "sent").Inc()
			return
		}
		metrics.DeliveryAttempts.WithLabelValues(channel, "failed").Inc()
		if attempt >= r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
	r.logger.Error().Err(err).
		Str("channel", channel).
		Str("notification", n.ID.String()).
		Str("user_id", n.UserID.String()).
		Msg("delivery failed")
}
