package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/db"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func affected(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func dateArg(t time.Time) string {
	return t.Format("2006-01-02")
}

// -- Users --

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, name, email, phone, role, is_active, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.IsActive,
		&u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, name, email, phone, role, is_active, password_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.Email, u.Phone, u.Role, u.IsActive, u.PasswordHash,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", u.Email, ErrConflict)
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (r *userRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	return affected(tag, err, "user")
}

func (r *userRepoPG) ListActiveAdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id FROM users WHERE role = 'admin' AND is_active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// joinedUser scans the nullable user columns of a LEFT JOIN.
type joinedUser struct {
	id    *uuid.UUID
	name  *string
	email *string
	phone *string
}

func (j *joinedUser) dest() []interface{} {
	return []interface{}{&j.id, &j.name, &j.email, &j.phone}
}

func (j *joinedUser) user() *User {
	if j.id == nil {
		return nil
	}
	u := &User{ID: *j.id, Phone: j.phone}
	if j.name != nil {
		u.Name = *j.name
	}
	if j.email != nil {
		u.Email = *j.email
	}
	return u
}

// -- Patients --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const patientSelect = `SELECT p.id, p.user_id, p.date_of_birth, p.created_at,
	u.id, u.name, u.email, u.phone
	FROM patients p LEFT JOIN users u ON u.id = p.user_id`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var ju joinedUser
	dest := append([]interface{}{&p.ID, &p.UserID, &p.DateOfBirth, &p.CreatedAt}, ju.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err, "patient")
	}
	p.User = ju.user()
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, user_id, date_of_birth) VALUES ($1,$2,$3)
		RETURNING created_at`,
		p.ID, p.UserID, p.DateOfBirth,
	).Scan(&p.CreatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, patientSelect+` WHERE p.id = $1`, id))
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, patientSelect+` WHERE p.user_id = $1`, userID))
}

// -- Doctors --

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const doctorSelect = `SELECT d.id, d.user_id, d.specialization, d.is_verified,
	d.verification_requested_at, d.created_at,
	u.id, u.name, u.email, u.phone
	FROM doctors d LEFT JOIN users u ON u.id = d.user_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var ju joinedUser
	dest := append([]interface{}{&d.ID, &d.UserID, &d.Specialization, &d.IsVerified,
		&d.VerificationRequestedAt, &d.CreatedAt}, ju.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err, "doctor")
	}
	d.User = ju.user()
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, user_id, specialization, is_verified) VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		d.ID, d.UserID, d.Specialization, d.IsVerified,
	).Scan(&d.CreatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, doctorSelect+` WHERE d.id = $1`, id))
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, doctorSelect+` WHERE d.user_id = $1`, userID))
}

func (r *doctorRepoPG) MarkVerificationRequested(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE doctors SET verification_requested_at = $2 WHERE id = $1`, id, at)
	return affected(tag, err, "doctor")
}

func (r *doctorRepoPG) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE doctors SET is_verified = $2 WHERE id = $1`, id, verified)
	return affected(tag, err, "doctor")
}

// -- Appointments --

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const apptCols = `a.id, a.patient_id, a.doctor_id, a.appointment_date, a.appointment_time::text,
	a.status, a.reason, a.cancellation_reason, a.created_at, a.updated_at`

func scanAppt(row pgx.Row, extra ...interface{}) (*Appointment, error) {
	var a Appointment
	dest := append([]interface{}{&a.ID, &a.PatientID, &a.DoctorID, &a.AppointmentDate,
		&a.AppointmentTime, &a.Status, &a.Reason, &a.CancellationReason,
		&a.CreatedAt, &a.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err, "appointment")
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, appointment_time,
			status, reason)
		VALUES ($1,$2,$3,$4::date,$5::time,$6,$7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, dateArg(a.AppointmentDate), a.AppointmentTime,
		a.Status, a.Reason,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments a WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, cancellationReason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status = $2,
			cancellation_reason = COALESCE($3, cancellation_reason),
			updated_at = NOW()
		WHERE id = $1`, id, status, cancellationReason)
	return affected(tag, err, "appointment")
}

func (r *appointmentRepoPG) Reschedule(ctx context.Context, id uuid.UUID, date time.Time, at string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET appointment_date = $2::date, appointment_time = $3::time,
			status = 'scheduled', updated_at = NOW()
		WHERE id = $1`, id, dateArg(date), at)
	return affected(tag, err, "appointment")
}

func (r *appointmentRepoPG) ListByDate(ctx context.Context, day time.Time, statuses []string) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+`,
			p.user_id, pu.id, pu.name, pu.email, pu.phone,
			d.user_id, d.specialization, du.id, du.name, du.email, du.phone
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		LEFT JOIN users pu ON pu.id = p.user_id
		JOIN doctors d ON d.id = a.doctor_id
		LEFT JOIN users du ON du.id = d.user_id
		WHERE a.appointment_date = $1::date AND a.status = ANY($2)
		ORDER BY a.appointment_time, a.id`,
		dateArg(day), statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		var patientUser, doctorUser *uuid.UUID
		var specialization string
		var pu, du joinedUser
		extra := []interface{}{&patientUser}
		extra = append(extra, pu.dest()...)
		extra = append(extra, &doctorUser, &specialization)
		extra = append(extra, du.dest()...)

		a, err := scanAppt(rows, extra...)
		if err != nil {
			return nil, err
		}
		a.Patient = &Patient{ID: a.PatientID, UserID: patientUser, User: pu.user()}
		a.Doctor = &Doctor{ID: a.DoctorID, UserID: doctorUser, Specialization: specialization, User: du.user()}
		out = append(out, a)
	}
	return out, rows.Err()
}

// -- Prescriptions --

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) Create(ctx context.Context, rx *Prescription) error {
	rx.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, patient_id, doctor_id, medication, dosage, instructions)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		rx.ID, rx.AppointmentID, rx.PatientID, rx.DoctorID, rx.Medication, rx.Dosage, rx.Instructions,
	).Scan(&rx.CreatedAt)
}

// -- Lab orders --

type labOrderRepoPG struct{ pool *pgxpool.Pool }

func NewLabOrderRepoPG(pool *pgxpool.Pool) LabOrderRepository {
	return &labOrderRepoPG{pool: pool}
}

func (r *labOrderRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *labOrderRepoPG) Create(ctx context.Context, o *LabOrder) error {
	o.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_orders (id, patient_id, doctor_id, test_name, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		o.ID, o.PatientID, o.DoctorID, o.TestName, o.Status,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
}

func (r *labOrderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	var o LabOrder
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, test_name, status, result, created_at, updated_at
		FROM lab_orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.PatientID, &o.DoctorID, &o.TestName, &o.Status, &o.Result, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "lab order")
	}
	return &o, nil
}

func (r *labOrderRepoPG) SetResult(ctx context.Context, id uuid.UUID, result string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_orders SET result = $2, status = 'completed', updated_at = NOW()
		WHERE id = $1`, id, result)
	return affected(tag, err, "lab order")
}

// -- Ratings --

type ratingRepoPG struct{ pool *pgxpool.Pool }

func NewRatingRepoPG(pool *pgxpool.Pool) RatingRepository {
	return &ratingRepoPG{pool: pool}
}

func (r *ratingRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *ratingRepoPG) Create(ctx context.Context, rt *Rating) error {
	rt.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ratings (id, patient_id, doctor_id, appointment_id, score, comment, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		rt.ID, rt.PatientID, rt.DoctorID, rt.AppointmentID, rt.Score, rt.Comment, rt.Status,
	).Scan(&rt.CreatedAt, &rt.UpdatedAt)
}

func (r *ratingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rating, error) {
	var rt Rating
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, appointment_id, score, comment, status, created_at, updated_at
		FROM ratings WHERE id = $1`, id,
	).Scan(&rt.ID, &rt.PatientID, &rt.DoctorID, &rt.AppointmentID, &rt.Score, &rt.Comment,
		&rt.Status, &rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "rating")
	}
	return &rt, nil
}

func (r *ratingRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE ratings SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return affected(tag, err, "rating")
}

// -- Medicines --

type medicineRepoPG struct{ pool *pgxpool.Pool }

func NewMedicineRepoPG(pool *pgxpool.Pool) MedicineRepository {
	return &medicineRepoPG{pool: pool}
}

func (r *medicineRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *medicineRepoPG) Create(ctx context.Context, m *Medicine) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medicines (id, patient_id, name, dosage, is_active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		m.ID, m.PatientID, m.Name, m.Dosage, m.IsActive,
	).Scan(&m.CreatedAt)
}

func toInt32s(days []int) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func (r *medicineRepoPG) CreateReminder(ctx context.Context, rm *MedicineReminder) error {
	rm.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medicine_reminders (id, medicine_id, reminder_time, days_of_week, is_active, next_trigger)
		VALUES ($1,$2,$3::time,$4,$5,$6)`,
		rm.ID, rm.MedicineID, rm.ReminderTime, toInt32s(rm.DaysOfWeek), rm.IsActive, rm.NextTrigger)
	return err
}

func (r *medicineRepoPG) ListDueReminders(ctx context.Context, now time.Time) ([]*MedicineReminder, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT mr.id, mr.medicine_id, mr.reminder_time::text, mr.days_of_week, mr.is_active,
			mr.next_trigger, mr.last_triggered,
			m.id, m.patient_id, m.name, m.dosage, m.is_active,
			p.id, p.user_id, u.id, u.name, u.email, u.phone
		FROM medicine_reminders mr
		JOIN medicines m ON m.id = mr.medicine_id
		LEFT JOIN patients p ON p.id = m.patient_id
		LEFT JOIN users u ON u.id = p.user_id
		WHERE mr.is_active AND (mr.next_trigger IS NULL OR mr.next_trigger <= $1)
		ORDER BY mr.next_trigger NULLS LAST, mr.id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MedicineReminder
	for rows.Next() {
		var rm MedicineReminder
		var m Medicine
		var days []int32
		var patientID, patientUser *uuid.UUID
		var ju joinedUser
		dest := []interface{}{&rm.ID, &rm.MedicineID, &rm.ReminderTime, &days, &rm.IsActive,
			&rm.NextTrigger, &rm.LastTriggered,
			&m.ID, &m.PatientID, &m.Name, &m.Dosage, &m.IsActive,
			&patientID, &patientUser}
		dest = append(dest, ju.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rm.DaysOfWeek = make([]int, len(days))
		for i, d := range days {
			rm.DaysOfWeek[i] = int(d)
		}
		if patientID != nil {
			m.Patient = &Patient{ID: *patientID, UserID: patientUser, User: ju.user()}
		}
		rm.Medicine = &m
		out = append(out, &rm)
	}
	return out, rows.Err()
}

func (r *medicineRepoPG) UpdateReminderTrigger(ctx context.Context, id uuid.UUID, next *time.Time, last time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine_reminders SET next_trigger = $2, last_triggered = $3 WHERE id = $1`,
		id, next, last)
	return affected(tag, err, "medicine reminder")
}

func (r *medicineRepoPG) SetNextTrigger(ctx context.Context, id uuid.UUID, next *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine_reminders SET next_trigger = $2 WHERE id = $1`,
		id, next)
	return affected(tag, err, "medicine reminder")
}

// -- Notification settings --

type settingsRepoPG struct{ pool *pgxpool.Pool }

func NewSettingsRepoPG(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepoPG{pool: pool}
}

func (r *settingsRepoPG) Get(ctx context.Context, userID uuid.UUID) (*NotificationSettings, error) {
	s := NotificationSettings{UserID: userID}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT notifications_enabled, email_enabled, sms_enabled
		FROM notification_settings WHERE user_id = $1`, userID,
	).Scan(&s.NotificationsEnabled, &s.EmailEnabled, &s.SMSEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepoPG) Upsert(ctx context.Context, s *NotificationSettings) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO notification_settings (user_id, notifications_enabled, email_enabled, sms_enabled)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE SET
			notifications_enabled = EXCLUDED.notifications_enabled,
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			updated_at = NOW()`,
		s.UserID, s.NotificationsEnabled, s.EmailEnabled, s.SMSEnabled)
	return err
}
