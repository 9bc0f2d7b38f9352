package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/clinic"
	"github.com/medbook/medbook/internal/domain/trigger"
)

const appointmentsJob = "appointments"

type AppointmentLister interface {
	ListByDate(ctx context.Context, day time.Time, statuses []string) ([]*clinic.Appointment, error)
}

// DailyNotifier sends the aggregated reminders. *trigger.Library satisfies it.
type DailyNotifier interface {
	DailyAppointmentsForPatient(ctx context.Context, userID uuid.UUID, appts []trigger.AppointmentSummary) error
	DailyAppointmentsForDoctor(ctx context.Context, userID uuid.UUID, count int) error
}

type AppointmentReminderConfig struct {
	Hour     int
	Location *time.Location
	Interval time.Duration
}

// AppointmentReminder sends each patient and doctor one digest of the day's
// appointments, once per calendar day, during the configured hour.
type AppointmentReminder struct {
	appointments AppointmentLister
	notifier     DailyNotifier
	guard        GuardStore
	cfg          AppointmentReminderConfig
	logger       zerolog.Logger
	once         sync.Once
}

func NewAppointmentReminder(appointments AppointmentLister, notifier DailyNotifier, guard GuardStore, cfg AppointmentReminderConfig, logger zerolog.Logger) *AppointmentReminder {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if guard == nil {
		guard = NewMemoryGuard()
	}
	return &AppointmentReminder{
		appointments: appointments,
		notifier:     notifier,
		guard:        guard,
		cfg:          cfg,
		logger:       logger.With().Str("component", "reminder").Str("job", appointmentsJob).Logger(),
	}
}

// Start runs the job in the background until ctx is cancelled. Calls after
// the first are no-ops.
func (j *AppointmentReminder) Start(ctx context.Context) {
	j.once.Do(func() {
		go loop(ctx, j.cfg.Interval, func(ctx context.Context, now time.Time) {
			if _, err := j.Tick(ctx, now); err != nil {
				j.logger.Error().Err(err).Msg("daily appointment reminder failed")
			}
		})
	})
}

// Tick sweeps today's appointments if now is in the reminder hour and today
// has not been claimed yet. It reports whether a sweep completed. A failed
// sweep releases the claim so a later tick retries.
func (j *AppointmentReminder) Tick(ctx context.Context, now time.Time) (bool, error) {
	start := time.Now()
	now = now.In(j.cfg.Location)
	if now.Hour() != j.cfg.Hour {
		observe(appointmentsJob, start, "skipped")
		return false, nil
	}

	day := dayKey(now)
	claimed, err := j.guard.Claim(ctx, day)
	if err != nil {
		observe(appointmentsJob, start, "failed")
		return false, err
	}
	if !claimed {
		observe(appointmentsJob, start, "skipped")
		return false, nil
	}

	if err := j.sweep(ctx, startOfDay(now)); err != nil {
		if rerr := j.guard.Release(ctx, day); rerr != nil {
			j.logger.Error().Err(rerr).Str("day", day).Msg("failed to release reminder guard")
		}
		observe(appointmentsJob, start, "failed")
		return false, err
	}
	observe(appointmentsJob, start, "sent")
	return true, nil
}

func (j *AppointmentReminder) sweep(ctx context.Context, day time.Time) error {
	appts, err := j.appointments.ListByDate(ctx, day, []string{clinic.StatusScheduled, clinic.StatusConfirmed})
	if err != nil {
		return fmt.Errorf("list appointments for %s: %w", dayKey(day), err)
	}

	var patientOrder, doctorOrder []uuid.UUID
	byPatient := map[uuid.UUID][]trigger.AppointmentSummary{}
	byDoctor := map[uuid.UUID]int{}

	for _, a := range appts {
		if pu := a.Patient.OwningUserID(); pu != uuid.Nil {
			if _, seen := byPatient[pu]; !seen {
				patientOrder = append(patientOrder, pu)
			}
			byPatient[pu] = append(byPatient[pu], trigger.AppointmentSummary{
				AppointmentID: a.ID,
				Time:          a.AppointmentTime,
				DoctorName:    a.Doctor.DisplayName(),
			})
		}
		if du := a.Doctor.OwningUserID(); du != uuid.Nil {
			if _, seen := byDoctor[du]; !seen {
				doctorOrder = append(doctorOrder, du)
			}
			byDoctor[du]++
		}
	}

	for _, id := range patientOrder {
		if err := j.notifier.DailyAppointmentsForPatient(ctx, id, byPatient[id]); err != nil {
			j.logger.Error().Err(err).Str("user_id", id.String()).Msg("patient reminder failed")
		}
	}
	for _, id := range doctorOrder {
		if err := j.notifier.DailyAppointmentsForDoctor(ctx, id, byDoctor[id]); err != nil {
			j.logger.Error().Err(err).Str("user_id", id.String()).Msg("doctor reminder failed")
		}
	}

	j.logger.Info().
		Int("appointments", len(appts)).
		Int("patients", len(patientOrder)).
		Int("doctors", len(doctorOrder)).
		Msg("daily appointment reminders sent")
	return nil
}
