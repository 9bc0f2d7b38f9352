package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/clinic"
)

const medicineJob = "medicine"

type ReminderStore interface {
	ListDueReminders(ctx context.Context, now time.Time) ([]*clinic.MedicineReminder, error)
	UpdateReminderTrigger(ctx context.Context, id uuid.UUID, next *time.Time, last time.Time) error
	SetNextTrigger(ctx context.Context, id uuid.UUID, next *time.Time) error
}

type SettingsLookup interface {
	Get(ctx context.Context, userID uuid.UUID) (*clinic.NotificationSettings, error)
}

type MedicineNotifier interface {
	MedicineReminder(ctx context.Context, r *clinic.MedicineReminder) error
}

type MedicineReminderConfig struct {
	Interval time.Duration
	Window   time.Duration
	Location *time.Location
}

// MedicineReminderJob fires due medicine reminders and schedules their next
// occurrence.
type MedicineReminderJob struct {
	store    ReminderStore
	settings SettingsLookup
	notifier MedicineNotifier
	cfg      MedicineReminderConfig
	logger   zerolog.Logger
	once     sync.Once
}

func NewMedicineReminderJob(store ReminderStore, settings SettingsLookup, notifier MedicineNotifier, cfg MedicineReminderConfig, logger zerolog.Logger) *MedicineReminderJob {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &MedicineReminderJob{
		store:    store,
		settings: settings,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "reminder").Str("job", medicineJob).Logger(),
	}
}

func (j *MedicineReminderJob) Start(ctx context.Context) {
	j.once.Do(func() {
		go loop(ctx, j.cfg.Interval, func(ctx context.Context, now time.Time) {
			if _, err := j.Tick(ctx, now); err != nil {
				j.logger.Error().Err(err).Msg("medicine reminder poll failed")
			}
		})
	})
}

// Tick fires every due reminder and returns how many fired. Per-reminder
// failures are logged and do not stop the poll.
func (j *MedicineReminderJob) Tick(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	now = now.In(j.cfg.Location)

	due, err := j.store.ListDueReminders(ctx, now)
	if err != nil {
		observe(medicineJob, start, "failed")
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	fired := 0
	for _, r := range due {
		ok, err := j.process(ctx, r, now)
		if err != nil {
			j.logger.Error().Err(err).Str("reminder_id", r.ID.String()).Msg("medicine reminder failed")
			continue
		}
		if ok {
			fired++
		}
	}

	observe(medicineJob, start, "sent")
	if fired > 0 {
		j.logger.Info().Int("fired", fired).Int("candidates", len(due)).Msg("medicine reminders sent")
	}
	return fired, nil
}

func (j *MedicineReminderJob) process(ctx context.Context, r *clinic.MedicineReminder, now time.Time) (bool, error) {
	if r.NextTrigger == nil && !IsDue(r.ReminderTime, r.DaysOfWeek, now, j.cfg.Window) {
		return false, nil
	}
	if r.Medicine == nil || !r.Medicine.IsActive {
		return false, j.skip(ctx, r, now, "medicine inactive")
	}
	owner := r.OwningUserID()
	if owner == uuid.Nil {
		return false, j.skip(ctx, r, now, "no linked user")
	}
	st, err := j.settings.Get(ctx, owner)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	if !st.NotificationsEnabled {
		return false, j.skip(ctx, r, now, "notifications disabled")
	}

	if err := j.notifier.MedicineReminder(ctx, r); err != nil {
		return false, fmt.Errorf("notify: %w", err)
	}

	// last_triggered is recorded even when no next occurrence is found.
	next, nerr := NextTrigger(r.ReminderTime, r.DaysOfWeek, now)
	if err := j.store.UpdateReminderTrigger(ctx, r.ID, next, now); err != nil {
		return true, fmt.Errorf("update next trigger: %w", err)
	}
	return true, nerr
}

// skip moves a due reminder to its next occurrence without firing it, so it
// is not re-selected on every poll and does not fire late once re-enabled.
// last_triggered is left alone.
func (j *MedicineReminderJob) skip(ctx context.Context, r *clinic.MedicineReminder, now time.Time, reason string) error {
	next, err := NextTrigger(r.ReminderTime, r.DaysOfWeek, now)
	if err != nil {
		return err
	}
	if err := j.store.SetNextTrigger(ctx, r.ID, next); err != nil {
		return fmt.Errorf("advance skipped reminder: %w", err)
	}
	j.logger.Debug().Str("reminder_id", r.ID.String()).Str("reason", reason).Msg("medicine reminder skipped")
	return nil
}
