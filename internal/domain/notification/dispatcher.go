package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/async"
	"github.com/medbook/medbook/internal/platform/metrics"
)

// DefaultListenerTimeout bounds the inline listener pass of one NotifyUsers
// call when no runner is configured.
const DefaultListenerTimeout = 10 * time.Second

// Listener observes rows after they are stored (realtime push, email/SMS
// mirrors). A listener error is logged and never affects other recipients.
type Listener interface {
	NotificationCreated(ctx context.Context, n *Notification) error
}

// Submitter runs a named task in the background. *async.Runner satisfies it.
type Submitter interface {
	Go(name string, fn async.Task)
}

// Dispatcher turns one Message into one stored row per recipient.
type Dispatcher struct {
	store           Store
	listeners       []Listener
	runner          Submitter
	listenerTimeout time.Duration
	logger          zerolog.Logger
}

func NewDispatcher(store Store, logger zerolog.Logger, listeners ...Listener) *Dispatcher {
	return &Dispatcher{
		store:           store,
		listeners:       listeners,
		listenerTimeout: DefaultListenerTimeout,
		logger:          logger.With().Str("component", "notification_dispatcher").Logger(),
	}
}

// WithRunner hands every listener call to r as its own task, so a slow
// listener holds neither the caller nor other deliveries.
func (d *Dispatcher) WithRunner(r Submitter) *Dispatcher {
	d.runner = r
	return d
}

// WithListenerTimeout bounds the inline listener pass used without a runner.
func (d *Dispatcher) WithListenerTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.listenerTimeout = timeout
	}
	return d
}

// AddListener registers l for every subsequent row.
func (d *Dispatcher) AddListener(l Listener) {
	d.listeners = append(d.listeners, l)
}

// NotifyUsers writes msg once for each distinct recipient, in order. A user
// id repeated within one call gets a single row. uuid.Nil entries stand for
// owners that could not be resolved and are skipped silently. A failed write
// is logged and the loop moves on. Listeners see the stored rows only after
// every write has been attempted, on the runner when one is set.
// The return value is the number of rows written; callers may ignore it.
func (d *Dispatcher) NotifyUsers(ctx context.Context, msg Message, recipients ...uuid.UUID) int {
	seen := make(map[uuid.UUID]struct{}, len(recipients))
	stored := make([]*Notification, 0, len(recipients))

	for _, userID := range recipients {
		if userID == uuid.Nil {
			metrics.NotificationsSkipped.WithLabelValues(msg.Action).Inc()
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		n := msg.For(userID)
		if err := d.store.Create(ctx, n); err != nil {
			metrics.NotificationsFailed.WithLabelValues(msg.Action).Inc()
			d.logger.Error().Err(err).
				Str("user_id", userID.String()).
				Str("action_type", msg.Action).
				Msg("failed to create notification")
			continue
		}
		metrics.NotificationsCreated.WithLabelValues(msg.Action).Inc()
		stored = append(stored, n)
	}

	d.fanOut(ctx, stored)
	return len(stored)
}

func (d *Dispatcher) fanOut(ctx context.Context, stored []*Notification) {
	if len(d.listeners) == 0 || len(stored) == 0 {
		return
	}

	if d.runner != nil {
		for _, n := range stored {
			for _, l := range d.listeners {
				n, l := n, l
				d.runner.Go("notification_listener", func(ctx context.Context) error {
					return l.NotificationCreated(ctx, n)
				})
			}
		}
		return
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.listenerTimeout)
	defer cancel()
	for _, n := range stored {
		for _, l := range d.listeners {
			if err := l.NotificationCreated(lctx, n); err != nil {
				d.logger.Warn().Err(err).
					Str("notification", n.ID.String()).
					Msg("notification listener failed")
			}
		}
	}
}
