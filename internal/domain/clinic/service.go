package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medbook/medbook/internal/platform/async"
	"github.com/medbook/medbook/internal/platform/db"
)

// Notifier receives domain events after the write that caused them has
// committed.
type Notifier interface {
	UserRegistered(ctx context.Context, u *User) error
	AccountStatusChanged(ctx context.Context, u *User, active bool) error
	DoctorVerificationRequested(ctx context.Context, d *Doctor) error
	DoctorVerificationDecided(ctx context.Context, d *Doctor, approved bool) error
	AppointmentCreated(ctx context.Context, a *Appointment, p *Patient, d *Doctor) error
	AppointmentConfirmed(ctx context.Context, a *Appointment, p *Patient, d *Doctor) error
	AppointmentCancelled(ctx context.Context, a *Appointment, p *Patient, d *Doctor, cancelledBy string) error
	AppointmentRescheduled(ctx context.Context, a *Appointment, p *Patient, d *Doctor, rescheduledBy string) error
	AppointmentCompleted(ctx context.Context, a *Appointment, p *Patient, d *Doctor) error
	PrescriptionCreated(ctx context.Context, rx *Prescription, p *Patient, d *Doctor) error
	LabOrderCreated(ctx context.Context, o *LabOrder, p *Patient, d *Doctor) error
	LabResultReady(ctx context.Context, o *LabOrder, p *Patient, d *Doctor) error
	RatingSubmitted(ctx context.Context, r *Rating, p *Patient, d *Doctor) error
	RatingModerated(ctx context.Context, r *Rating, p *Patient, d *Doctor) error
}

// Submitter runs a named task in the background. *async.Runner satisfies it.
type Submitter interface {
	Go(name string, fn async.Task)
}

// TxFunc runs fn in a transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// PoolTx adapts db.WithTx to a TxFunc.
func PoolTx(pool db.TxBeginner) TxFunc {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
}

type Repos struct {
	Users         UserRepository
	Patients      PatientRepository
	Doctors       DoctorRepository
	Appointments  AppointmentRepository
	Prescriptions PrescriptionRepository
	LabOrders     LabOrderRepository
	Ratings       RatingRepository
	Medicines     MedicineRepository
	Settings      SettingsRepository
}

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type Service struct {
	repos    Repos
	tx       TxFunc
	notifier Notifier
	runner   Submitter
	now      func() time.Time
}

func NewService(repos Repos, tx TxFunc, notifier Notifier, runner Submitter) *Service {
	if tx == nil {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{repos: repos, tx: tx, notifier: notifier, runner: runner, now: time.Now}
}

// fire hands a trigger to the runner. The caller's operation has already
// succeeded and is never affected by the outcome.
func (s *Service) fire(name string, fn async.Task) {
	if s.notifier == nil || s.runner == nil {
		return
	}
	s.runner.Go(name, fn)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// -- Users --

type RegisterInput struct {
	Name           string
	Email          string
	Password       string
	Phone          *string
	Role           string
	Specialization string
	DateOfBirth    *time.Time
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if in.Role != RolePatient && in.Role != RoleDoctor {
		return nil, invalid("role must be patient or doctor")
	}
	if in.Role == RoleDoctor && strings.TrimSpace(in.Specialization) == "" {
		return nil, invalid("specialization is required for doctors")
	}
	if _, err := s.repos.Users.GetByEmail(ctx, in.Email); err == nil {
		return nil, fmt.Errorf("email %s: %w", in.Email, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Name:         in.Name,
		Email:        strings.ToLower(in.Email),
		Phone:        in.Phone,
		Role:         in.Role,
		IsActive:     true,
		PasswordHash: string(hash),
	}
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.repos.Users.Create(ctx, u); err != nil {
			return err
		}
		if in.Role == RoleDoctor {
			return s.repos.Doctors.Create(ctx, &Doctor{UserID: &u.ID, Specialization: in.Specialization})
		}
		return s.repos.Patients.Create(ctx, &Patient{UserID: &u.ID, DateOfBirth: in.DateOfBirth})
	})
	if err != nil {
		return nil, err
	}

	s.fire("user_registered", func(ctx context.Context) error {
		return s.notifier.UserRegistered(ctx, u)
	})
	return u, nil
}

func (s *Service) SetUserStatus(ctx context.Context, id uuid.UUID, active bool) (*User, error) {
	u, err := s.repos.Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.IsActive == active {
		return u, nil
	}
	if err := s.repos.Users.UpdateStatus(ctx, id, active); err != nil {
		return nil, err
	}
	u.IsActive = active

	s.fire("account_status_changed", func(ctx context.Context) error {
		return s.notifier.AccountStatusChanged(ctx, u, active)
	})
	return u, nil
}

// -- Doctor verification --

func (s *Service) RequestVerification(ctx context.Context, actor Actor, doctorID uuid.UUID) (*Doctor, error) {
	d, err := s.repos.Doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && d.OwningUserID() != actor.UserID {
		return nil, ErrForbidden
	}
	if d.IsVerified {
		return nil, invalid("doctor is already verified")
	}
	now := s.now()
	if err := s.repos.Doctors.MarkVerificationRequested(ctx, d.ID, now); err != nil {
		return nil, err
	}
	d.VerificationRequestedAt = &now

	s.fire("doctor_verification_requested", func(ctx context.Context) error {
		return s.notifier.DoctorVerificationRequested(ctx, d)
	})
	return d, nil
}

func (s *Service) DecideVerification(ctx context.Context, doctorID uuid.UUID, approved bool) (*Doctor, error) {
	d, err := s.repos.Doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Doctors.SetVerified(ctx, d.ID, approved); err != nil {
		return nil, err
	}
	d.IsVerified = approved

	s.fire("doctor_verification_decided", func(ctx context.Context) error {
		return s.notifier.DoctorVerificationDecided(ctx, d, approved)
	})
	return d, nil
}

// -- Appointments --

type AppointmentInput struct {
	PatientID *uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      string
	Reason    *string
}

// actingPatient resolves the patient an actor is acting as. Admins must name
// the patient explicitly.
func (s *Service) actingPatient(ctx context.Context, actor Actor, patientID *uuid.UUID) (*Patient, error) {
	switch {
	case actor.Role == RolePatient:
		return s.repos.Patients.GetByUserID(ctx, actor.UserID)
	case actor.IsAdmin() && patientID != nil:
		return s.repos.Patients.GetByID(ctx, *patientID)
	case actor.IsAdmin():
		return nil, invalid("patient_id is required")
	}
	return nil, ErrForbidden
}

func (s *Service) actingDoctor(ctx context.Context, actor Actor, doctorID *uuid.UUID) (*Doctor, error) {
	switch {
	case actor.Role == RoleDoctor:
		return s.repos.Doctors.GetByUserID(ctx, actor.UserID)
	case actor.IsAdmin() && doctorID != nil:
		return s.repos.Doctors.GetByID(ctx, *doctorID)
	case actor.IsAdmin():
		return nil, invalid("doctor_id is required")
	}
	return nil, ErrForbidden
}

func (s *Service) CreateAppointment(ctx context.Context, actor Actor, in AppointmentInput) (*Appointment, error) {
	p, err := s.actingPatient(ctx, actor, in.PatientID)
	if err != nil {
		return nil, err
	}
	d, err := s.repos.Doctors.GetByID(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}
	if !d.IsVerified {
		return nil, invalid("doctor is not verified")
	}

	a := &Appointment{
		PatientID:       p.ID,
		DoctorID:        d.ID,
		AppointmentDate: in.Date,
		AppointmentTime: in.Time,
		Status:          StatusScheduled,
		Reason:          in.Reason,
	}
	if err := s.repos.Appointments.Create(ctx, a); err != nil {
		return nil, err
	}
	a.Patient, a.Doctor = p, d

	s.fire("appointment_created", func(ctx context.Context) error {
		return s.notifier.AppointmentCreated(ctx, a, p, d)
	})
	return a, nil
}

func (s *Service) loadAppointment(ctx context.Context, id uuid.UUID) (*Appointment, *Patient, *Doctor, error) {
	a, err := s.repos.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	p, err := s.repos.Patients.GetByID(ctx, a.PatientID)
	if err != nil {
		return nil, nil, nil, err
	}
	d, err := s.repos.Doctors.GetByID(ctx, a.DoctorID)
	if err != nil {
		return nil, nil, nil, err
	}
	a.Patient, a.Doctor = p, d
	return a, p, d, nil
}

// partyRole reports which side of the appointment the actor is on.
func partyRole(actor Actor, p *Patient, d *Doctor) (string, error) {
	switch {
	case actor.IsAdmin():
		return RoleAdmin, nil
	case actor.UserID != uuid.Nil && actor.UserID == p.OwningUserID():
		return RolePatient, nil
	case actor.UserID != uuid.Nil && actor.UserID == d.OwningUserID():
		return RoleDoctor, nil
	}
	return "", ErrForbidden
}

func (s *Service) UpdateAppointmentStatus(ctx context.Context, actor Actor, id uuid.UUID, status string, reason *string) (*Appointment, error) {
	a, p, d, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	by, err := partyRole(actor, p, d)
	if err != nil {
		return nil, err
	}
	if !a.Active() {
		return nil, invalid("appointment is already %s", a.Status)
	}

	switch status {
	case StatusConfirmed:
		if a.Status != StatusScheduled {
			return nil, invalid("only scheduled appointments can be confirmed")
		}
		fallthrough
	case StatusCompleted, StatusNoShow:
		if by == RolePatient {
			return nil, ErrForbidden
		}
	case StatusCancelled:
	default:
		return nil, invalid("unsupported status %q", status)
	}

	var cancellation *string
	if status == StatusCancelled {
		cancellation = reason
	}
	if err := s.repos.Appointments.UpdateStatus(ctx, a.ID, status, cancellation); err != nil {
		return nil, err
	}
	a.Status = status
	if cancellation != nil {
		a.CancellationReason = cancellation
	}

	switch status {
	case StatusConfirmed:
		s.fire("appointment_confirmed", func(ctx context.Context) error {
			return s.notifier.AppointmentConfirmed(ctx, a, p, d)
		})
	case StatusCancelled:
		s.fire("appointment_cancelled", func(ctx context.Context) error {
			return s.notifier.AppointmentCancelled(ctx, a, p, d, by)
		})
	case StatusCompleted:
		s.fire("appointment_completed", func(ctx context.Context) error {
			return s.notifier.AppointmentCompleted(ctx, a, p, d)
		})
	}
	return a, nil
}

func (s *Service) RescheduleAppointment(ctx context.Context, actor Actor, id uuid.UUID, date time.Time, at string) (*Appointment, error) {
	a, p, d, err := s.loadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	by, err := partyRole(actor, p, d)
	if err != nil {
		return nil, err
	}
	if !a.Active() {
		return nil, invalid("appointment is already %s", a.Status)
	}
	if err := s.repos.Appointments.Reschedule(ctx, a.ID, date, at); err != nil {
		return nil, err
	}
	a.AppointmentDate, a.AppointmentTime, a.Status = date, at, StatusScheduled

	s.fire("appointment_rescheduled", func(ctx context.Context) error {
		return s.notifier.AppointmentRescheduled(ctx, a, p, d, by)
	})
	return a, nil
}

// -- Prescriptions and lab orders --

type PrescriptionInput struct {
	PatientID     uuid.UUID
	DoctorID      *uuid.UUID
	AppointmentID *uuid.UUID
	Medication    string
	Dosage        string
	Instructions  *string
}

func (s *Service) CreatePrescription(ctx context.Context, actor Actor, in PrescriptionInput) (*Prescription, error) {
	d, err := s.actingDoctor(ctx, actor, in.DoctorID)
	if err != nil {
		return nil, err
	}
	p, err := s.repos.Patients.GetByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	rx := &Prescription{
		AppointmentID: in.AppointmentID,
		PatientID:     p.ID,
		DoctorID:      d.ID,
		Medication:    in.Medication,
		Dosage:        in.Dosage,
		Instructions:  in.Instructions,
	}
	if err := s.repos.Prescriptions.Create(ctx, rx); err != nil {
		return nil, err
	}

	s.fire("prescription_created", func(ctx context.Context) error {
		return s.notifier.PrescriptionCreated(ctx, rx, p, d)
	})
	return rx, nil
}

type LabOrderInput struct {
	PatientID uuid.UUID
	DoctorID  *uuid.UUID
	TestName  string
}

func (s *Service) CreateLabOrder(ctx context.Context, actor Actor, in LabOrderInput) (*LabOrder, error) {
	d, err := s.actingDoctor(ctx, actor, in.DoctorID)
	if err != nil {
		return nil, err
	}
	p, err := s.repos.Patients.GetByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	o := &LabOrder{PatientID: p.ID, DoctorID: d.ID, TestName: in.TestName, Status: LabOrdered}
	if err := s.repos.LabOrders.Create(ctx, o); err != nil {
		return nil, err
	}

	s.fire("lab_order_created", func(ctx context.Context) error {
		return s.notifier.LabOrderCreated(ctx, o, p, d)
	})
	return o, nil
}

func (s *Service) RecordLabResult(ctx context.Context, actor Actor, id uuid.UUID, result string) (*LabOrder, error) {
	o, err := s.repos.LabOrders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := s.repos.Doctors.GetByID(ctx, o.DoctorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && d.OwningUserID() != actor.UserID {
		return nil, ErrForbidden
	}
	if o.Status == LabCancelled {
		return nil, invalid("lab order is cancelled")
	}
	p, err := s.repos.Patients.GetByID(ctx, o.PatientID)
	if err != nil {
		return nil, err
	}
	if err := s.repos.LabOrders.SetResult(ctx, o.ID, result); err != nil {
		return nil, err
	}
	o.Status, o.Result = LabCompleted, &result

	s.fire("lab_result_ready", func(ctx context.Context) error {
		return s.notifier.LabResultReady(ctx, o, p, d)
	})
	return o, nil
}

// -- Ratings --

type RatingInput struct {
	DoctorID      uuid.UUID
	AppointmentID *uuid.UUID
	Score         int
	Comment       *string
}

func (s *Service) SubmitRating(ctx context.Context, actor Actor, in RatingInput) (*Rating, error) {
	if actor.Role != RolePatient {
		return nil, ErrForbidden
	}
	if in.Score < 1 || in.Score > 5 {
		return nil, invalid("score must be between 1 and 5")
	}
	p, err := s.repos.Patients.GetByUserID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	d, err := s.repos.Doctors.GetByID(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}
	if in.AppointmentID != nil {
		a, err := s.repos.Appointments.GetByID(ctx, *in.AppointmentID)
		if err != nil {
			return nil, err
		}
		if a.PatientID != p.ID || a.DoctorID != d.ID {
			return nil, ErrForbidden
		}
		if a.Status != StatusCompleted {
			return nil, invalid("only completed appointments can be rated")
		}
	}

	r := &Rating{
		PatientID:     p.ID,
		DoctorID:      d.ID,
		AppointmentID: in.AppointmentID,
		Score:         in.Score,
		Comment:       in.Comment,
		Status:        RatingPending,
	}
	if err := s.repos.Ratings.Create(ctx, r); err != nil {
		return nil, err
	}

	s.fire("rating_submitted", func(ctx context.Context) error {
		return s.notifier.RatingSubmitted(ctx, r, p, d)
	})
	return r, nil
}

func (s *Service) ModerateRating(ctx context.Context, id uuid.UUID, approved bool) (*Rating, error) {
	r, err := s.repos.Ratings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != RatingPending {
		return nil, invalid("rating is already %s", r.Status)
	}
	p, err := s.repos.Patients.GetByID(ctx, r.PatientID)
	if err != nil {
		return nil, err
	}
	d, err := s.repos.Doctors.GetByID(ctx, r.DoctorID)
	if err != nil {
		return nil, err
	}
	status := RatingRejected
	if approved {
		status = RatingApproved
	}
	if err := s.repos.Ratings.SetStatus(ctx, r.ID, status); err != nil {
		return nil, err
	}
	r.Status = status

	s.fire("rating_moderated", func(ctx context.Context) error {
		return s.notifier.RatingModerated(ctx, r, p, d)
	})
	return r, nil
}

// -- Medicines and settings --

type ReminderInput struct {
	Time string
	Days []int
}

type MedicineInput struct {
	PatientID *uuid.UUID
	Name      string
	Dosage    string
	Reminders []ReminderInput
}

// CreateMedicine stores a medicine with its reminders. Reminders start with
// no next_trigger and are picked up by the due-window check.
func (s *Service) CreateMedicine(ctx context.Context, actor Actor, in MedicineInput) (*Medicine, error) {
	p, err := s.actingPatient(ctx, actor, in.PatientID)
	if err != nil {
		return nil, err
	}
	for _, r := range in.Reminders {
		for _, day := range r.Days {
			if day < 0 || day > 6 {
				return nil, invalid("days_of_week must be between 0 and 6, got %d", day)
			}
		}
	}

	m := &Medicine{PatientID: p.ID, Name: in.Name, Dosage: in.Dosage, IsActive: true, Patient: p}
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.repos.Medicines.Create(ctx, m); err != nil {
			return err
		}
		for _, r := range in.Reminders {
			rm := &MedicineReminder{MedicineID: m.ID, ReminderTime: r.Time, DaysOfWeek: r.Days, IsActive: true}
			if err := s.repos.Medicines.CreateReminder(ctx, rm); err != nil {
				return err
			}
			m.Reminders = append(m.Reminders, rm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Settings(ctx context.Context, actor Actor) (*NotificationSettings, error) {
	return s.repos.Settings.Get(ctx, actor.UserID)
}

func (s *Service) UpdateSettings(ctx context.Context, actor Actor, in NotificationSettings) (*NotificationSettings, error) {
	in.UserID = actor.UserID
	if err := s.repos.Settings.Upsert(ctx, &in); err != nil {
		return nil, err
	}
	return &in, nil
}
