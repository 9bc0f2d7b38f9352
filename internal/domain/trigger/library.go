// Package trigger turns domain events into notifications. Each method
// derives its recipients from the domain objects it is given, formats one
// message per audience and hands them to the dispatcher.
package trigger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/clinic"
	"github.com/medbook/medbook/internal/domain/notification"
)

const DefaultDateLayout = "1/2/2006"

// Dispatcher fans a message out to recipients. *notification.Dispatcher
// satisfies it.
type Dispatcher interface {
	NotifyUsers(ctx context.Context, msg notification.Message, recipients ...uuid.UUID) int
}

// AdminResolver lists the user ids of active administrators.
type AdminResolver interface {
	ListActiveAdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AppointmentSummary is one line of a patient's daily reminder.
type AppointmentSummary struct {
	AppointmentID uuid.UUID
	Time          string
	DoctorName    string
}

type Library struct {
	dispatcher Dispatcher
	admins     AdminResolver
	dateLayout string
	logger     zerolog.Logger
}

var _ clinic.Notifier = (*Library)(nil)

func NewLibrary(dispatcher Dispatcher, admins AdminResolver, dateLayout string, logger zerolog.Logger) *Library {
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}
	return &Library{
		dispatcher: dispatcher,
		admins:     admins,
		dateLayout: dateLayout,
		logger:     logger.With().Str("component", "trigger").Logger(),
	}
}

func entity(typ string, id uuid.UUID) *notification.EntityRef {
	return &notification.EntityRef{ID: id.String(), Type: typ}
}

// shortTime cuts "HH:MM:SS" down to "HH:MM".
func shortTime(s string) string {
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

func (l *Library) when(a *clinic.Appointment) string {
	return fmt.Sprintf("%s at %s", a.AppointmentDate.Format(l.dateLayout), shortTime(a.AppointmentTime))
}

// send notifies the owner of o. Records with no linked user are skipped.
func (l *Library) send(ctx context.Context, msg notification.Message, o clinic.HasOwningUser) {
	id := o.OwningUserID()
	if id == uuid.Nil {
		l.logger.Debug().Str("action_type", msg.Action).Msg("recipient has no linked user, skipping")
		return
	}
	l.dispatcher.NotifyUsers(ctx, msg, id)
}

func (l *Library) notifyAdmins(ctx context.Context, msg notification.Message) error {
	ids, err := l.admins.ListActiveAdminIDs(ctx)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	l.dispatcher.NotifyUsers(ctx, msg, ids...)
	return nil
}

func audienceOf(role string) notification.Audience {
	a := notification.Audience(role)
	if !a.Valid() {
		return ""
	}
	return a
}

// -- Accounts --

func (l *Library) UserRegistered(ctx context.Context, u *clinic.User) error {
	l.send(ctx, notification.Message{
		Audience: audienceOf(u.Role),
		Title:    "Welcome to MedBook",
		Body:     fmt.Sprintf("Welcome, %s! Your account has been created.", u.Name),
		Type:     notification.TypeSuccess,
		Action:   "user_registered",
		Entity:   entity("user", u.ID),
	}, u)

	return l.notifyAdmins(ctx, notification.Message{
		Audience: notification.AudienceAdmin,
		Title:    "New user registration",
		Body:     fmt.Sprintf("%s registered as a %s.", u.Name, u.Role),
		Type:     notification.TypeInfo,
		Action:   "new_user_registration",
		Entity:   entity("user", u.ID),
	})
}

func (l *Library) AccountStatusChanged(ctx context.Context, u *clinic.User, active bool) error {
	if active {
		l.send(ctx, notification.Message{
			Audience: audienceOf(u.Role),
			Title:    "Account reactivated",
			Body:     "Your account has been reactivated. You can sign in again.",
			Type:     notification.TypeSuccess,
			Action:   "account_activated",
			Entity:   entity("user", u.ID),
		}, u)
		return nil
	}

	l.send(ctx, notification.Message{
		Audience: audienceOf(u.Role),
		Title:    "Account deactivated",
		Body:     "Your account has been deactivated. Contact support if you think this is a mistake.",
		Type:     notification.TypeWarning,
		Action:   "account_deactivated",
		Entity:   entity("user", u.ID),
	}, u)
	return l.notifyAdmins(ctx, notification.Message{
		Audience: notification.AudienceAdmin,
		Title:    "User deactivated",
		Body:     fmt.Sprintf("%s (%s) was deactivated.", u.Name, u.Email),
		Type:     notification.TypeInfo,
		Action:   "user_deactivated",
		Entity:   entity("user", u.ID),
	})
}

func (l *Library) DoctorVerificationRequested(ctx context.Context, d *clinic.Doctor) error {
	return l.notifyAdmins(ctx, notification.Message{
		Audience: notification.AudienceAdmin,
		Title:    "Doctor verification requested",
		Body:     fmt.Sprintf("%s (%s) has requested verification.", d.DisplayName(), d.Specialization),
		Type:     notification.TypeInfo,
		Action:   "doctor_verification_requested",
		Entity:   entity("doctor", d.ID),
	})
}

func (l *Library) DoctorVerificationDecided(ctx context.Context, d *clinic.Doctor, approved bool) error {
	msg := notification.Message{
		Audience: notification.AudienceDoctor,
		Title:    "Verification approved",
		Body:     "Your profile has been verified. Patients can now book appointments with you.",
		Type:     notification.TypeSuccess,
		Action:   "doctor_verified",
		Entity:   entity("doctor", d.ID),
	}
	if !approved {
		msg.Title = "Verification rejected"
		msg.Body = "Your verification request was not approved. Please review your profile and try again."
		msg.Type = notification.TypeWarning
		msg.Action = "doctor_verification_rejected"
	}
	l.send(ctx, msg, d)
	return nil
}

// -- Appointments --

func (l *Library) AppointmentCreated(ctx context.Context, a *clinic.Appointment, p *clinic.Patient, d *clinic.Doctor) error {
	l.send(ctx, notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "Appointment requested",
		Body:     fmt.Sprintf("Your appointment request with %s on %s has been submitted.", d.DisplayName(), l.when(a)),
		Type:     notification.TypeInfo,
		Action:   "appointment_created",
		Entity:   entity("appointment", a.ID),
	}, p)
	l.send(ctx, notification.Message{
		Audience: notification.AudienceDoctor,
		Title:    "New appointment request",
		Body:     fmt.Sprintf("%s requested an appointment on %s.", p.DisplayName(), l.when(a)),
		Type:     notification.TypeInfo,
		Action:   "appointment_requested",
		Entity:   entity("appointment", a.ID),
	}, d)
	return nil
}

func (l *Library) AppointmentConfirmed(ctx context.Context, a *clinic.Appointment, p *clinic.Patient, d *clinic.Doctor) error {
	l.send(ctx, notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "Appointment confirmed",
		Body:     fmt.Sprintf("%s confirmed your appointment on %s.", d.DisplayName(), l.when(a)),
		Type:     notification.TypeSuccess,
		Action:   "appointment_confirmed",
		Entity:   entity("appointment", a.ID),
	}, p)
	return nil
}

// AppointmentCancelled notifies the party that did not cancel. An admin
// cancellation notifies both.
func (l *Library) AppointmentCancelled(ctx context.Context, a *clinic.Appointment, p *clinic.Patient, d *clinic.Doctor, cancelledBy string) error {
	reason := ""
	if a.CancellationReason != nil && strings.TrimSpace(*a.CancellationReason) != "" {
		reason = " Reason: " + strings.TrimSpace(*a.CancellationReason)
	}
	if cancelledBy != clinic.RolePatient {
		l.send(ctx, notification.Message{
			Audience: notification.AudiencePatient,
			Title:    "Appointment cancelled",
			Body:     fmt.Sprintf("Your appointment with %s on %s was cancelled.%s", d.DisplayName(), l.when(a), reason),
			Type:     notification.TypeWarning,
			Action:   "appointment_cancelled",
			Entity:   entity("appointment", a.ID),
		}, p)
	}
	if cancelledBy != clinic.RoleDoctor {
		l.send(ctx, notification.Message{
			Audience: notification.AudienceDoctor,
			Title:    "Appointment cancelled",
			Body:     fmt.Sprintf("The appointment with %s on %s was cancelled.%s", p.DisplayName(), l.when(a), reason),
			Type:     notification.TypeWarning,
			Action:   "appointment_cancelled",
			Entity:   entity("appointment", a.ID),
		}, d)
	}
	return nil
}

func (l *Library) AppointmentRescheduled(ctx context.Context, a *clinic.Appointment, p *clinic.Patient, d *clinic.Doctor, rescheduledBy string) error {
	if rescheduledBy != clinic.RolePatient {
		l.send(ctx, notification.Message{
			Audience: notification.AudiencePatient,
			Title:    "Appointment rescheduled",
			Body:     fmt.Sprintf("Your appointment with %s was moved to %s.", d.DisplayName(), l.when(a)),
			Type:     notification.TypeInfo,
			Action:   "appointment_rescheduled",
			Entity:   entity("appointment", a.ID),
		}, p)
	}
	if rescheduledBy != clinic.RoleDoctor {
		l.send(ctx, notification.Message{
			Audience: notification.AudienceDoctor,
			Title:    "Appointment rescheduled",
			Body:     fmt.Sprintf("%s moved their appointment to %s.", p.DisplayName(), l.when(a)),
			Type:     notification.TypeInfo,
			Action:   "appointment_rescheduled",
			Entity:   entity("appointment", a.ID),
		}, d)
	}
	return nil
}

func (l *Library) AppointmentCompleted(ctx context.Context, a *clinic.Appointment, p *clinic.Patient, d *clinic.Doctor) error {
	l.send(ctx, notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "Appointment completed",
		Body:     fmt.Sprintf("Your appointment with %s is complete. Please take a moment to rate your visit.", d.DisplayName()),
		Type:     notification.TypeSuccess,
		Action:   "appointment_completed",
		Entity:   entity("appointment", a.ID),
	}, p)
	return nil
}

// -- Clinical --

func (l *Library) PrescriptionCreated(ctx context.Context, rx *clinic.Prescription, p *clinic.Patient, d *clinic.Doctor) error {
	l.send(ctx, notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "New prescription",
		Body:     fmt.Sprintf("%s prescribed %s (%s).", d.DisplayName(), rx.Medication, rx.Dosage),
		Type:     notification.TypeInfo,
		Action:   "prescription_created",
		Entity:   entity("prescription", rx.ID),
	}, p)
	return nil
}

func (l *Library) LabOrderCreated(ctx context.Context, o *clinic.LabOrder, p *clinic.Patient, d *clinic.Doctor) error {
	l.send(ctx, notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "Lab test ordered",
		Body:     fmt.Sprintf("%s ordered a %s test for you.", d.DisplayName(), o.TestName),
		Type:     notification.TypeInfo,
		Action:   "lab_order_created",
		Entity:   entity("lab_order", o.ID),
	}, p)
	return nil
}

func (l *Library) LabResultReady(ctx context.Context, o *clinic.LabOrder, p *clinic.Patient, d *clinic.Doctor) error {
	l.send(ctx, notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "Lab results ready",
		Body:     fmt.Sprintf("Your %s results are available.", o.TestName),
		Type:     notification.TypeSuccess,
		Action:   "lab_result_ready",
		Entity:   entity("lab_order", o.ID),
	}, p)
	l.send(ctx, notification.Message{
		Audience: notification.AudienceDoctor,
		Title:    "Lab results recorded",
		Body:     fmt.Sprintf("%s results for %s are available.", o.TestName, p.DisplayName()),
		Type:     notification.TypeInfo,
		Action:   "lab_result_ready",
		Entity:   entity("lab_order", o.ID),
	}, d)
	return nil
}

// -- Ratings --

func (l *Library) RatingSubmitted(ctx context.Context, r *clinic.Rating, p *clinic.Patient, d *clinic.Doctor) error {
	return l.notifyAdmins(ctx, notification.Message{
		Audience: notification.AudienceAdmin,
		Title:    "Rating pending moderation",
		Body:     fmt.Sprintf("%s rated %s %d/5.", p.DisplayName(), d.DisplayName(), r.Score),
		Type:     notification.TypeInfo,
		Action:   "rating_pending_moderation",
		Entity:   entity("rating", r.ID),
	})
}

func (l *Library) RatingModerated(ctx context.Context, r *clinic.Rating, p *clinic.Patient, d *clinic.Doctor) error {
	if r.Status != clinic.RatingApproved {
		l.send(ctx, notification.Message{
			Audience: notification.AudiencePatient,
			Title:    "Rating rejected",
			Body:     fmt.Sprintf("Your rating for %s did not meet our review guidelines.", d.DisplayName()),
			Type:     notification.TypeWarning,
			Action:   "rating_rejected",
			Entity:   entity("rating", r.ID),
		}, p)
		return nil
	}

	l.send(ctx, notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "Rating approved",
		Body:     fmt.Sprintf("Your rating for %s is now public. Thank you for your feedback.", d.DisplayName()),
		Type:     notification.TypeSuccess,
		Action:   "rating_approved",
		Entity:   entity("rating", r.ID),
	}, p)
	l.send(ctx, notification.Message{
		Audience: notification.AudienceDoctor,
		Title:    "New rating",
		Body:     fmt.Sprintf("You received a %d/5 rating.", r.Score),
		Type:     notification.TypeInfo,
		Action:   "new_rating",
		Entity:   entity("rating", r.ID),
	}, d)
	return nil
}

// -- Reminders --

func (l *Library) MedicineReminder(ctx context.Context, r *clinic.MedicineReminder) error {
	what := "your medicine"
	if r.Medicine != nil && r.Medicine.Name != "" {
		what = r.Medicine.Name
		if r.Medicine.Dosage != "" {
			what += " (" + r.Medicine.Dosage + ")"
		}
	}
	l.send(ctx, notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "Medicine reminder",
		Body:     fmt.Sprintf("It's %s. Time to take %s.", shortTime(r.ReminderTime), what),
		Type:     notification.TypeInfo,
		Action:   "medicine_reminder",
		Entity:   entity("medicine_reminder", r.ID),
	}, r)
	return nil
}

// DailyAppointmentsForPatient sends one aggregated reminder. A single
// appointment is described in full; several are counted and listed.
func (l *Library) DailyAppointmentsForPatient(ctx context.Context, userID uuid.UUID, appts []AppointmentSummary) error {
	if userID == uuid.Nil || len(appts) == 0 {
		return nil
	}
	msg := notification.Message{
		Audience: notification.AudiencePatient,
		Title:    "Appointment reminder",
		Type:     notification.TypeInfo,
		Action:   "appointment_reminder",
	}
	if len(appts) == 1 {
		a := appts[0]
		msg.Body = fmt.Sprintf("You have an appointment today with %s at %s.", a.DoctorName, shortTime(a.Time))
		msg.Entity = entity("appointment", a.AppointmentID)
	} else {
		lines := make([]string, len(appts))
		for i, a := range appts {
			lines[i] = fmt.Sprintf("%s with %s", shortTime(a.Time), a.DoctorName)
		}
		msg.Body = fmt.Sprintf("You have %d appointments today: %s.", len(appts), strings.Join(lines, ", "))
	}
	l.dispatcher.NotifyUsers(ctx, msg, userID)
	return nil
}

func (l *Library) DailyAppointmentsForDoctor(ctx context.Context, userID uuid.UUID, count int) error {
	if userID == uuid.Nil || count == 0 {
		return nil
	}
	noun := "appointments"
	if count == 1 {
		noun = "appointment"
	}
	l.dispatcher.NotifyUsers(ctx, notification.Message{
		Audience: notification.AudienceDoctor,
		Title:    "Today's schedule",
		Body:     fmt.Sprintf("You have %d %s scheduled today.", count, noun),
		Type:     notification.TypeInfo,
		Action:   "appointment_reminder",
	}, userID)
	return nil
}

