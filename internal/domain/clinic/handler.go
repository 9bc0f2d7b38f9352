package clinic

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/pkg/validate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the authenticated clinic endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/admin", auth.RequireRole(RoleAdmin))
	admin.PATCH("/users/:id/status", h.SetUserStatus)
	admin.PATCH("/doctors/:id/verification", h.DecideVerification)
	admin.PATCH("/ratings/:id/moderation", h.ModerateRating)

	doctors := api.Group("", auth.RequireRole(RoleDoctor))
	doctors.POST("/doctors/:id/verification-request", h.RequestVerification)
	doctors.POST("/prescriptions", h.CreatePrescription)
	doctors.POST("/lab-orders", h.CreateLabOrder)
	doctors.PATCH("/lab-orders/:id/result", h.RecordLabResult)

	patients := api.Group("", auth.RequireRole(RolePatient))
	patients.POST("/appointments", h.CreateAppointment)
	patients.POST("/ratings", h.SubmitRating)
	patients.POST("/medicines", h.CreateMedicine)

	parties := api.Group("", auth.RequireRole(RolePatient, RoleDoctor))
	parties.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)
	parties.PATCH("/appointments/:id/reschedule", h.RescheduleAppointment)
	parties.GET("/notification-settings", h.GetSettings)
	parties.PUT("/notification-settings", h.UpdateSettings)
}

// RegisterPublicRoutes mounts endpoints that need no token.
func (h *Handler) RegisterPublicRoutes(public *echo.Group) {
	public.POST("/users/register", h.Register)
}

func actorFrom(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return Actor{UserID: uid, Role: auth.RoleFromContext(ctx)}, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not allowed")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return d, nil
}

// -- Users --

type registerRequest struct {
	Name           string  `json:"name" validate:"required,max=120"`
	Email          string  `json:"email" validate:"required,email"`
	Password       string  `json:"password" validate:"required,min=8,max=72"`
	Phone          *string `json:"phone" validate:"omitempty,e164"`
	Role           string  `json:"role" validate:"required,oneof=patient doctor"`
	Specialization string  `json:"specialization" validate:"required_if=Role doctor"`
	DateOfBirth    string  `json:"date_of_birth" validate:"omitempty,date"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	in := RegisterInput{
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.Password,
		Phone:          req.Phone,
		Role:           req.Role,
		Specialization: req.Specialization,
	}
	if req.DateOfBirth != "" {
		dob, err := parseDate(req.DateOfBirth)
		if err != nil {
			return err
		}
		in.DateOfBirth = &dob
	}
	u, err := h.svc.Register(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

type statusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (h *Handler) SetUserStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	u, err := h.svc.SetUserStatus(c.Request().Context(), id, *req.IsActive)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

// -- Doctor verification --

func (h *Handler) RequestVerification(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.RequestVerification(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, d)
}

type decisionRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

func (h *Handler) DecideVerification(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req decisionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	d, err := h.svc.DecideVerification(c.Request().Context(), id, *req.Approved)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Appointments --

type appointmentRequest struct {
	PatientID *uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID  `json:"doctor_id" validate:"required"`
	Date      string     `json:"appointment_date" validate:"required,date"`
	Time      string     `json:"appointment_time" validate:"required,timeofday"`
	Reason    *string    `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req appointmentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return err
	}
	a, err := h.svc.CreateAppointment(c.Request().Context(), actor, AppointmentInput{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      date,
		Time:      req.Time,
		Reason:    req.Reason,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type appointmentStatusRequest struct {
	Status string  `json:"status" validate:"required,oneof=confirmed completed cancelled no_show"`
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req appointmentStatusRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	a, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), actor, id, req.Status, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	Date string `json:"appointment_date" validate:"required,date"`
	Time string `json:"appointment_time" validate:"required,timeofday"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return err
	}
	a, err := h.svc.RescheduleAppointment(c.Request().Context(), actor, id, date, req.Time)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Prescriptions and lab orders --

type prescriptionRequest struct {
	PatientID     uuid.UUID  `json:"patient_id" validate:"required"`
	DoctorID      *uuid.UUID `json:"doctor_id"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
	Medication    string     `json:"medication" validate:"required,max=200"`
	Dosage        string     `json:"dosage" validate:"required,max=200"`
	Instructions  *string    `json:"instructions"`
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req prescriptionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	rx, err := h.svc.CreatePrescription(c.Request().Context(), actor, PrescriptionInput{
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		AppointmentID: req.AppointmentID,
		Medication:    req.Medication,
		Dosage:        req.Dosage,
		Instructions:  req.Instructions,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rx)
}

type labOrderRequest struct {
	PatientID uuid.UUID  `json:"patient_id" validate:"required"`
	DoctorID  *uuid.UUID `json:"doctor_id"`
	TestName  string     `json:"test_name" validate:"required,max=200"`
}

func (h *Handler) CreateLabOrder(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req labOrderRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	o, err := h.svc.CreateLabOrder(c.Request().Context(), actor, LabOrderInput{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		TestName:  req.TestName,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

type labResultRequest struct {
	Result string `json:"result" validate:"required"`
}

func (h *Handler) RecordLabResult(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req labResultRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	o, err := h.svc.RecordLabResult(c.Request().Context(), actor, id, req.Result)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

// -- Ratings --

type ratingRequest struct {
	DoctorID      uuid.UUID  `json:"doctor_id" validate:"required"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
	Score         int        `json:"score" validate:"required,min=1,max=5"`
	Comment       *string    `json:"comment" validate:"omitempty,max=1000"`
}

func (h *Handler) SubmitRating(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req ratingRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	r, err := h.svc.SubmitRating(c.Request().Context(), actor, RatingInput{
		DoctorID:      req.DoctorID,
		AppointmentID: req.AppointmentID,
		Score:         req.Score,
		Comment:       req.Comment,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ModerateRating(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req decisionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	r, err := h.svc.ModerateRating(c.Request().Context(), id, *req.Approved)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- Medicines and settings --

type reminderRequest struct {
	Time string `json:"reminder_time" validate:"required,timeofday"`
	Days []int  `json:"days_of_week" validate:"required,min=1,dive,min=0,max=6"`
}

type medicineRequest struct {
	PatientID *uuid.UUID        `json:"patient_id"`
	Name      string            `json:"name" validate:"required,max=200"`
	Dosage    string            `json:"dosage" validate:"required,max=200"`
	Reminders []reminderRequest `json:"reminders" validate:"omitempty,dive"`
}

func (h *Handler) CreateMedicine(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req medicineRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	in := MedicineInput{PatientID: req.PatientID, Name: req.Name, Dosage: req.Dosage}
	for _, r := range req.Reminders {
		in.Reminders = append(in.Reminders, ReminderInput{Time: r.Time, Days: r.Days})
	}
	m, err := h.svc.CreateMedicine(c.Request().Context(), actor, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetSettings(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Settings(c.Request().Context(), actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type settingsRequest struct {
	NotificationsEnabled *bool `json:"notifications_enabled" validate:"required"`
	EmailEnabled         *bool `json:"email_enabled" validate:"required"`
	SMSEnabled           *bool `json:"sms_enabled" validate:"required"`
}

func (h *Handler) UpdateSettings(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req settingsRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	st, err := h.svc.UpdateSettings(c.Request().Context(), actor, NotificationSettings{
		NotificationsEnabled: *req.NotificationsEnabled,
		EmailEnabled:         *req.EmailEnabled,
		SMSEnabled:           *req.SMSEnabled,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}
