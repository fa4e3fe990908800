package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/auth"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/validate"
	"github.com/gabeliss/therascheduler-sub001/pkg/pagination"
)

const defaultSlotMinutes = 60

type Handler struct {
	svc       *Service
	validator *validate.Validator
}

func NewHandler(svc *Service, v *validate.Validator) *Handler {
	return &Handler{svc: svc, validator: v}
}

// RegisterRoutes mounts the therapist API on api and the client booking
// widget on widget. Both groups must already carry authentication.
func (h *Handler) RegisterRoutes(api *echo.Group, widget *echo.Group) {
	// Therapist endpoints: therapists act on their own calendar, admins on any
	t := api.Group("/therapists/:id", auth.RequireRole(auth.RoleTherapist), auth.RequireSelf("id"))
	t.GET("/timeline", h.GetTimeline)
	t.POST("/conflicts", h.CheckConflicts)
	t.GET("/availability", h.ListAvailability)
	t.POST("/availability", h.AddAvailability)
	t.DELETE("/availability/:rid", h.DeleteAvailability)
	t.GET("/time-off", h.ListTimeOff)
	t.POST("/time-off", h.AddTimeOff)
	t.DELETE("/time-off/:rid", h.DeleteTimeOff)
	t.GET("/appointments", h.ListAppointments)
	t.POST("/appointments", h.BookAppointment)
	t.PATCH("/appointments/:aid/status", h.UpdateAppointmentStatus)

	// Widget endpoints
	w := widget.Group("/therapists/:id", auth.RequireRole(auth.RoleClient))
	w.GET("/slots", h.GetOpenSlots)
	w.POST("/bookings", h.WidgetBooking)
}

// -- request bodies --

type recordRequest struct {
	StartTime  time.Time         `json:"start_time" validate:"required"`
	EndTime    time.Time         `json:"end_time" validate:"required,gtfield=StartTime"`
	Recurrence *WeeklyRecurrence `json:"recurrence"`
	// Older clients send a single weekday instead of a recurrence.
	DayOfWeek   *int `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	IsRecurring bool `json:"is_recurring"`
}

func (r *recordRequest) recurrence() (*WeeklyRecurrence, error) {
	if r.Recurrence != nil {
		return r.Recurrence, nil
	}
	return RecurrenceFromDayOfWeek(r.DayOfWeek, r.IsRecurring)
}

type timeOffRequest struct {
	recordRequest
	Reason string `json:"reason" validate:"max=500"`
}

type conflictRequest struct {
	StartTime            time.Time  `json:"start_time" validate:"required"`
	EndTime              time.Time  `json:"end_time" validate:"required,gtfield=StartTime"`
	ExcludeAppointmentID *uuid.UUID `json:"exclude_appointment_id"`
}

type bookingRequest struct {
	ClientID       uuid.UUID `json:"client_id"`
	ClientName     string    `json:"client_name" validate:"max=200"`
	StartTime      time.Time `json:"start_time" validate:"required"`
	EndTime        time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Status         string    `json:"status" validate:"omitempty,oneof=pending confirmed"`
	Notes          *string   `json:"notes" validate:"omitempty,max=2000"`
	Force          bool      `json:"force"`
	OverrideReason string    `json:"override_reason" validate:"max=500"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed cancelled completed"`
}

func (h *Handler) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Validate(req); err != nil {
		return validationError(err)
	}
	return nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// dateParam reads ?date=YYYY-MM-DD, defaulting to today.
func (h *Handler) dateParam(c echo.Context) (Date, error) {
	raw := c.QueryParam("date")
	if raw == "" {
		return DateOf(h.svc.engine.now().In(h.svc.engine.Location())), nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return Date{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return d, nil
}

// -- Timeline --

func (h *Handler) GetTimeline(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	date, err := h.dateParam(c)
	if err != nil {
		return err
	}
	blocks, err := h.svc.Timeline(c.Request().Context(), therapistID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"therapist_id": therapistID,
		"date":         date,
		"blocks":       blocks,
	})
}

func (h *Handler) CheckConflicts(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req conflictRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	report, err := h.svc.CheckConflicts(c.Request().Context(), Proposal{
		TherapistID:          therapistID,
		Start:                req.StartTime,
		End:                  req.EndTime,
		ExcludeAppointmentID: req.ExcludeAppointmentID,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// -- Availability --

func (h *Handler) ListAvailability(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListAvailability(c.Request().Context(), therapistID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []AvailabilityWindow{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddAvailability(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req recordRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	rec, err := req.recurrence()
	if err != nil {
		return httpError(err)
	}
	w, err := h.svc.AddAvailability(c.Request().Context(), &AvailabilityWindow{
		TherapistID: therapistID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Recurrence:  rec,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "rid")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailability(c.Request().Context(), therapistID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Time off --

func (h *Handler) ListTimeOff(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListTimeOff(c.Request().Context(), therapistID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []TimeOffBlock{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddTimeOff(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req timeOffRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	rec, err := req.recurrence()
	if err != nil {
		return httpError(err)
	}
	b, err := h.svc.AddTimeOff(c.Request().Context(), &TimeOffBlock{
		TherapistID: therapistID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Reason:      req.Reason,
		Recurrence:  rec,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) DeleteTimeOff(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "rid")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTimeOff(c.Request().Context(), therapistID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointments --

func (h *Handler) ListAppointments(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), therapistID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.Write(c, pg, items, total))
}

func (h *Handler) BookAppointment(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req bookingRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	return h.book(c, BookingRequest{
		TherapistID:    therapistID,
		ClientID:       req.ClientID,
		ClientName:     req.ClientName,
		Start:          req.StartTime,
		End:            req.EndTime,
		Status:         req.Status,
		Notes:          req.Notes,
		Force:          req.Force,
		OverrideReason: req.OverrideReason,
	})
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "aid")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	appt, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), therapistID, id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// -- Widget --

func (h *Handler) GetOpenSlots(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	date, err := h.dateParam(c)
	if err != nil {
		return err
	}
	duration := defaultSlotMinutes
	if raw := c.QueryParam("duration"); raw != "" {
		if duration, err = strconv.Atoi(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "duration must be a number of minutes")
		}
	}
	slots, err := h.svc.OpenSlots(c.Request().Context(), therapistID, date, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"therapist_id": therapistID,
		"date":         date,
		"duration":     duration,
		"slots":        slots,
	})
}

// WidgetBooking books on behalf of the calling client. The client is taken
// from the token; force and status in the body are ignored.
func (h *Handler) WidgetBooking(c echo.Context) error {
	therapistID, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	clientID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "caller is not a registered client")
	}
	var req bookingRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	name := req.ClientName
	if name == "" {
		name = auth.UserNameFromContext(ctx)
	}
	return h.book(c, BookingRequest{
		TherapistID: therapistID,
		ClientID:    clientID,
		ClientName:  name,
		Start:       req.StartTime,
		End:         req.EndTime,
		Status:      StatusPending,
		Notes:       req.Notes,
		FromClient:  true,
	})
}

func (h *Handler) book(c echo.Context, req BookingRequest) error {
	appt, err := h.svc.BookAppointment(c.Request().Context(), req)
	if report, ok := IsConflict(err); ok {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"message": err.Error(),
			"report":  report,
		})
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

// -- errors --

func validationError(err error) error {
	var verr *validate.Error
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message": verr.Error(),
			"fields":  verr.Fields,
		})
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// httpError maps service errors onto HTTP statuses. Unknown errors pass
// through and become a 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbiddenTherapist):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrDoubleBooked),
		errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrRequired),
		errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidTimeFormat),
		errors.Is(err, ErrMalformedRecurrence),
		errors.Is(err, ErrOverrideReason):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
