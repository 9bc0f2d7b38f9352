package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, active bool) error
	ListActiveAdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	MarkVerificationRequested(ctx context.Context, id uuid.UUID, at time.Time) error
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, cancellationReason *string) error
	Reschedule(ctx context.Context, id uuid.UUID, date time.Time, at string) error
	// ListByDate returns the day's appointments in the given statuses with
	// patient, doctor and their users loaded.
	ListByDate(ctx context.Context, day time.Time, statuses []string) ([]*Appointment, error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, rx *Prescription) error
}

type LabOrderRepository interface {
	Create(ctx context.Context, o *LabOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error)
	SetResult(ctx context.Context, id uuid.UUID, result string) error
}

type RatingRepository interface {
	Create(ctx context.Context, r *Rating) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rating, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

type MedicineRepository interface {
	Create(ctx context.Context, m *Medicine) error
	CreateReminder(ctx context.Context, r *MedicineReminder) error
	// ListDueReminders returns active reminders whose next_trigger is unset
	// or not after now, with medicine, patient and user loaded.
	ListDueReminders(ctx context.Context, now time.Time) ([]*MedicineReminder, error)
	UpdateReminderTrigger(ctx context.Context, id uuid.UUID, next *time.Time, last time.Time) error
	// SetNextTrigger moves next_trigger without recording a firing.
	SetNextTrigger(ctx context.Context, id uuid.UUID, next *time.Time) error
}

type SettingsRepository interface {
	// Get returns DefaultSettings when the user has no row.
	Get(ctx context.Context, userID uuid.UUID) (*NotificationSettings, error)
	Upsert(ctx context.Context, s *NotificationSettings) error
}
