package clinic

import (
	"time"

	"github.com/google/uuid"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

const (
	LabOrdered    = "ordered"
	LabInProgress = "in_progress"
	LabCompleted  = "completed"
	LabCancelled  = "cancelled"
)

const (
	RatingPending  = "pending"
	RatingApproved = "approved"
	RatingRejected = "rejected"
)

// HasOwningUser is implemented by every record that can stand in for a
// notification recipient. uuid.Nil means no user account is linked.
type HasOwningUser interface {
	OwningUserID() uuid.UUID
}

type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Role         string    `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) OwningUserID() uuid.UUID {
	if u == nil {
		return uuid.Nil
	}
	return u.ID
}

type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	User        *User      `db:"-" json:"user,omitempty"`
}

// OwningUserID prefers the user_id column and falls back to the joined user.
func (p *Patient) OwningUserID() uuid.UUID {
	if p == nil {
		return uuid.Nil
	}
	if p.UserID != nil && *p.UserID != uuid.Nil {
		return *p.UserID
	}
	return p.User.OwningUserID()
}

func (p *Patient) DisplayName() string {
	if p == nil || p.User == nil || p.User.Name == "" {
		return "Patient"
	}
	return p.User.Name
}

type Doctor struct {
	ID                      uuid.UUID  `db:"id" json:"id"`
	UserID                  *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Specialization          string     `db:"specialization" json:"specialization"`
	IsVerified              bool       `db:"is_verified" json:"is_verified"`
	VerificationRequestedAt *time.Time `db:"verification_requested_at" json:"verification_requested_at,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
	User                    *User      `db:"-" json:"user,omitempty"`
}

func (d *Doctor) OwningUserID() uuid.UUID {
	if d == nil {
		return uuid.Nil
	}
	if d.UserID != nil && *d.UserID != uuid.Nil {
		return *d.UserID
	}
	return d.User.OwningUserID()
}

// DisplayName is "Dr. <name>", or "Doctor" when no user is loaded.
func (d *Doctor) DisplayName() string {
	if d == nil || d.User == nil || d.User.Name == "" {
		return "Doctor"
	}
	return "Dr. " + d.User.Name
}

type Appointment struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	PatientID          uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID `db:"doctor_id" json:"doctor_id"`
	AppointmentDate    time.Time `db:"appointment_date" json:"appointment_date"`
	AppointmentTime    string    `db:"appointment_time" json:"appointment_time"`
	Status             string    `db:"status" json:"status"`
	Reason             *string   `db:"reason" json:"reason,omitempty"`
	CancellationReason *string   `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
	Patient            *Patient  `db:"-" json:"patient,omitempty"`
	Doctor             *Doctor   `db:"-" json:"doctor,omitempty"`
}

// Active reports whether the appointment still counts toward reminders.
func (a *Appointment) Active() bool {
	return a.Status == StatusScheduled || a.Status == StatusConfirmed
}

type Prescription struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Medication    string     `db:"medication" json:"medication"`
	Dosage        string     `db:"dosage" json:"dosage"`
	Instructions  *string    `db:"instructions" json:"instructions,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

type LabOrder struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	TestName  string    `db:"test_name" json:"test_name"`
	Status    string    `db:"status" json:"status"`
	Result    *string   `db:"result" json:"result,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Rating struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Score         int        `db:"score" json:"score"`
	Comment       *string    `db:"comment" json:"comment,omitempty"`
	Status        string     `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

type Medicine struct {
	ID        uuid.UUID           `db:"id" json:"id"`
	PatientID uuid.UUID           `db:"patient_id" json:"patient_id"`
	Name      string              `db:"name" json:"name"`
	Dosage    string              `db:"dosage" json:"dosage"`
	IsActive  bool                `db:"is_active" json:"is_active"`
	CreatedAt time.Time           `db:"created_at" json:"created_at"`
	Patient   *Patient            `db:"-" json:"patient,omitempty"`
	Reminders []*MedicineReminder `db:"-" json:"reminders,omitempty"`
}

// MedicineReminder fires at ReminderTime ("HH:MM" or "HH:MM:SS") on each
// weekday in DaysOfWeek (0 = Sunday).
type MedicineReminder struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	MedicineID    uuid.UUID  `db:"medicine_id" json:"medicine_id"`
	ReminderTime  string     `db:"reminder_time" json:"reminder_time"`
	DaysOfWeek    []int      `db:"days_of_week" json:"days_of_week"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	NextTrigger   *time.Time `db:"next_trigger" json:"next_trigger,omitempty"`
	LastTriggered *time.Time `db:"last_triggered" json:"last_triggered,omitempty"`
	Medicine      *Medicine  `db:"-" json:"medicine,omitempty"`
}

// OwningUserID resolves through the medicine to the patient's user.
func (r *MedicineReminder) OwningUserID() uuid.UUID {
	if r == nil || r.Medicine == nil {
		return uuid.Nil
	}
	return r.Medicine.Patient.OwningUserID()
}

type NotificationSettings struct {
	UserID               uuid.UUID `db:"user_id" json:"user_id"`
	NotificationsEnabled bool      `db:"notifications_enabled" json:"notifications_enabled"`
	EmailEnabled         bool      `db:"email_enabled" json:"email_enabled"`
	SMSEnabled           bool      `db:"sms_enabled" json:"sms_enabled"`
}

// DefaultSettings applies when a user has never saved preferences.
func DefaultSettings(userID uuid.UUID) *NotificationSettings {
	return &NotificationSettings{UserID: userID, NotificationsEnabled: true}
}
