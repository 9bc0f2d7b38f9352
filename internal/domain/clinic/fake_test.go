package clinic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/async"
)

// memDB backs every repository interface with maps.
type memDB struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*User
	patients      map[uuid.UUID]*Patient
	doctors       map[uuid.UUID]*Doctor
	appointments  map[uuid.UUID]*Appointment
	prescriptions map[uuid.UUID]*Prescription
	labOrders     map[uuid.UUID]*LabOrder
	ratings       map[uuid.UUID]*Rating
	medicines     map[uuid.UUID]*Medicine
	reminders     map[uuid.UUID]*MedicineReminder
	settings      map[uuid.UUID]*NotificationSettings
	failCreate    error
}

func newMemDB() *memDB {
	return &memDB{
		users:         map[uuid.UUID]*User{},
		patients:      map[uuid.UUID]*Patient{},
		doctors:       map[uuid.UUID]*Doctor{},
		appointments:  map[uuid.UUID]*Appointment{},
		prescriptions: map[uuid.UUID]*Prescription{},
		labOrders:     map[uuid.UUID]*LabOrder{},
		ratings:       map[uuid.UUID]*Rating{},
		medicines:     map[uuid.UUID]*Medicine{},
		reminders:     map[uuid.UUID]*MedicineReminder{},
		settings:      map[uuid.UUID]*NotificationSettings{},
	}
}

func (m *memDB) repos() Repos {
	return Repos{
		Users:         memUsers{m},
		Patients:      memPatients{m},
		Doctors:       memDoctors{m},
		Appointments:  memAppointments{m},
		Prescriptions: memPrescriptions{m},
		LabOrders:     memLabOrders{m},
		Ratings:       memRatings{m},
		Medicines:     memMedicines{m},
		Settings:      memSettings{m},
	}
}

func missing(what string) error { return fmt.Errorf("%s: %w", what, ErrNotFound) }

type memUsers struct{ m *memDB }

func (r memUsers) Create(_ context.Context, u *User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failCreate != nil {
		return r.m.failCreate
	}
	u.ID = uuid.New()
	r.m.users[u.ID] = u
	return nil
}

func (r memUsers) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, ok := r.m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, missing("user")
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, missing("user")
}

func (r memUsers) UpdateStatus(_ context.Context, id uuid.UUID, active bool) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return missing("user")
	}
	u.IsActive = active
	return nil
}

func (r memUsers) ListActiveAdminIDs(context.Context) ([]uuid.UUID, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var ids []uuid.UUID
	for _, u := range r.m.users {
		if u.Role == RoleAdmin && u.IsActive {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

type memPatients struct{ m *memDB }

func (r memPatients) Create(_ context.Context, p *Patient) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p.ID = uuid.New()
	r.m.patients[p.ID] = p
	return nil
}

func (r memPatients) withUser(p *Patient) *Patient {
	cp := *p
	if p.UserID != nil {
		cp.User = r.m.users[*p.UserID]
	}
	return &cp
}

func (r memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if p, ok := r.m.patients[id]; ok {
		return r.withUser(p), nil
	}
	return nil, missing("patient")
}

func (r memPatients) GetByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, p := range r.m.patients {
		if p.UserID != nil && *p.UserID == userID {
			return r.withUser(p), nil
		}
	}
	return nil, missing("patient")
}

type memDoctors struct{ m *memDB }

func (r memDoctors) Create(_ context.Context, d *Doctor) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d.ID = uuid.New()
	r.m.doctors[d.ID] = d
	return nil
}

func (r memDoctors) withUser(d *Doctor) *Doctor {
	cp := *d
	if d.UserID != nil {
		cp.User = r.m.users[*d.UserID]
	}
	return &cp
}

func (r memDoctors) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if d, ok := r.m.doctors[id]; ok {
		return r.withUser(d), nil
	}
	return nil, missing("doctor")
}

func (r memDoctors) GetByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, d := range r.m.doctors {
		if d.UserID != nil && *d.UserID == userID {
			return r.withUser(d), nil
		}
	}
	return nil, missing("doctor")
}

func (r memDoctors) MarkVerificationRequested(_ context.Context, id uuid.UUID, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.doctors[id]
	if !ok {
		return missing("doctor")
	}
	d.VerificationRequestedAt = &at
	return nil
}

func (r memDoctors) SetVerified(_ context.Context, id uuid.UUID, verified bool) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.doctors[id]
	if !ok {
		return missing("doctor")
	}
	d.IsVerified = verified
	return nil
}

type memAppointments struct{ m *memDB }

func (r memAppointments) Create(_ context.Context, a *Appointment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a.ID = uuid.New()
	cp := *a
	r.m.appointments[a.ID] = &cp
	return nil
}

func (r memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if a, ok := r.m.appointments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, missing("appointment")
}

func (r memAppointments) UpdateStatus(_ context.Context, id uuid.UUID, status string, reason *string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.appointments[id]
	if !ok {
		return missing("appointment")
	}
	a.Status = status
	if reason != nil {
		a.CancellationReason = reason
	}
	return nil
}

func (r memAppointments) Reschedule(_ context.Context, id uuid.UUID, date time.Time, at string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.appointments[id]
	if !ok {
		return missing("appointment")
	}
	a.AppointmentDate, a.AppointmentTime, a.Status = date, at, StatusScheduled
	return nil
}

func (r memAppointments) ListByDate(context.Context, time.Time, []string) ([]*Appointment, error) {
	return nil, nil
}

type memPrescriptions struct{ m *memDB }

func (r memPrescriptions) Create(_ context.Context, rx *Prescription) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rx.ID = uuid.New()
	r.m.prescriptions[rx.ID] = rx
	return nil
}

type memLabOrders struct{ m *memDB }

func (r memLabOrders) Create(_ context.Context, o *LabOrder) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o.ID = uuid.New()
	cp := *o
	r.m.labOrders[o.ID] = &cp
	return nil
}

func (r memLabOrders) GetByID(_ context.Context, id uuid.UUID) (*LabOrder, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if o, ok := r.m.labOrders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, missing("lab order")
}

func (r memLabOrders) SetResult(_ context.Context, id uuid.UUID, result string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.labOrders[id]
	if !ok {
		return missing("lab order")
	}
	o.Result, o.Status = &result, LabCompleted
	return nil
}

type memRatings struct{ m *memDB }

func (r memRatings) Create(_ context.Context, rt *Rating) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rt.ID = uuid.New()
	cp := *rt
	r.m.ratings[rt.ID] = &cp
	return nil
}

func (r memRatings) GetByID(_ context.Context, id uuid.UUID) (*Rating, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if rt, ok := r.m.ratings[id]; ok {
		cp := *rt
		return &cp, nil
	}
	return nil, missing("rating")
}

func (r memRatings) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rt, ok := r.m.ratings[id]
	if !ok {
		return missing("rating")
	}
	rt.Status = status
	return nil
}

type memMedicines struct{ m *memDB }

func (r memMedicines) Create(_ context.Context, med *Medicine) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	med.ID = uuid.New()
	r.m.medicines[med.ID] = med
	return nil
}

func (r memMedicines) CreateReminder(_ context.Context, rm *MedicineReminder) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failCreate != nil {
		return r.m.failCreate
	}
	rm.ID = uuid.New()
	r.m.reminders[rm.ID] = rm
	return nil
}

func (r memMedicines) ListDueReminders(context.Context, time.Time) ([]*MedicineReminder, error) {
	return nil, nil
}

func (r memMedicines) UpdateReminderTrigger(context.Context, uuid.UUID, *time.Time, time.Time) error {
	return nil
}

func (r memMedicines) SetNextTrigger(context.Context, uuid.UUID, *time.Time) error {
	return nil
}

type memSettings struct{ m *memDB }

func (r memSettings) Get(_ context.Context, userID uuid.UUID) (*NotificationSettings, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if s, ok := r.m.settings[userID]; ok {
		cp := *s
		return &cp, nil
	}
	return DefaultSettings(userID), nil
}

func (r memSettings) Upsert(_ context.Context, s *NotificationSettings) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *s
	r.m.settings[s.UserID] = &cp
	return nil
}

// recordingNotifier captures events; err is returned from every call.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *recordingNotifier) record(event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *recordingNotifier) UserRegistered(context.Context, *User) error {
	return n.record("user_registered")
}
func (n *recordingNotifier) AccountStatusChanged(_ context.Context, _ *User, active bool) error {
	return n.record(fmt.Sprintf("account_status:%v", active))
}
func (n *recordingNotifier) DoctorVerificationRequested(context.Context, *Doctor) error {
	return n.record("verification_requested")
}
func (n *recordingNotifier) DoctorVerificationDecided(_ context.Context, _ *Doctor, approved bool) error {
	return n.record(fmt.Sprintf("verification_decided:%v", approved))
}
func (n *recordingNotifier) AppointmentCreated(context.Context, *Appointment, *Patient, *Doctor) error {
	return n.record("appointment_created")
}
func (n *recordingNotifier) AppointmentConfirmed(context.Context, *Appointment, *Patient, *Doctor) error {
	return n.record("appointment_confirmed")
}
func (n *recordingNotifier) AppointmentCancelled(_ context.Context, _ *Appointment, _ *Patient, _ *Doctor, by string) error {
	return n.record("appointment_cancelled:" + by)
}
func (n *recordingNotifier) AppointmentRescheduled(_ context.Context, _ *Appointment, _ *Patient, _ *Doctor, by string) error {
	return n.record("appointment_rescheduled:" + by)
}
func (n *recordingNotifier) AppointmentCompleted(context.Context, *Appointment, *Patient, *Doctor) error {
	return n.record("appointment_completed")
}
func (n *recordingNotifier) PrescriptionCreated(context.Context, *Prescription, *Patient, *Doctor) error {
	return n.record("prescription_created")
}
func (n *recordingNotifier) LabOrderCreated(context.Context, *LabOrder, *Patient, *Doctor) error {
	return n.record("lab_order_created")
}
func (n *recordingNotifier) LabResultReady(context.Context, *LabOrder, *Patient, *Doctor) error {
	return n.record("lab_result_ready")
}
func (n *recordingNotifier) RatingSubmitted(context.Context, *Rating, *Patient, *Doctor) error {
	return n.record("rating_submitted")
}
func (n *recordingNotifier) RatingModerated(context.Context, *Rating, *Patient, *Doctor) error {
	return n.record("rating_moderated")
}

// fixture is a service wired to memDB with a real async runner.
type fixture struct {
	db       *memDB
	notifier *recordingNotifier
	runner   *async.Runner
	failures []string
	mu       sync.Mutex
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{db: newMemDB(), notifier: &recordingNotifier{}}
	f.runner = async.NewRunner(2, time.Second, func(task string, err error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.failures = append(f.failures, task)
	})
	f.svc = NewService(f.db.repos(), nil, f.notifier, f.runner)
	return f
}

func (f *fixture) events() []string {
	f.runner.Wait()
	return f.notifier.Events()
}

func (f *fixture) addUser(role, name string) *User {
	u := &User{ID: uuid.New(), Name: name, Email: strings.ToLower(name) + "@example.com", Role: role, IsActive: true}
	f.db.users[u.ID] = u
	return u
}

func (f *fixture) addPatient(name string) (*User, *Patient) {
	u := f.addUser(RolePatient, name)
	p := &Patient{ID: uuid.New(), UserID: &u.ID}
	f.db.patients[p.ID] = p
	return u, p
}

func (f *fixture) addDoctor(name string, verified bool) (*User, *Doctor) {
	u := f.addUser(RoleDoctor, name)
	d := &Doctor{ID: uuid.New(), UserID: &u.ID, Specialization: "cardiology", IsVerified: verified}
	f.db.doctors[d.ID] = d
	return u, d
}
