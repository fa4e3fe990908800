package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/gabeliss/therascheduler-sub001/internal/platform/auth"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/validate"
)

func newTestHandler(t *testing.T) (*Handler, *testDeps, *echo.Echo) {
	t.Helper()
	svc, d := newTestService()
	v, err := validate.New()
	if err != nil {
		t.Fatalf("validate.New: %v", err)
	}
	return NewHandler(svc, v), d, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func withParams(c echo.Context, kv ...string) {
	var names, values []string
	for i := 0; i+1 < len(kv); i += 2 {
		names = append(names, kv[i])
		values = append(values, kv[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"), e.Group("/widget"))

	want := map[string]bool{
		"GET /api/v1/therapists/:id/timeline":                  false,
		"POST /api/v1/therapists/:id/conflicts":                false,
		"POST /api/v1/therapists/:id/availability":             false,
		"DELETE /api/v1/therapists/:id/time-off/:rid":          false,
		"PATCH /api/v1/therapists/:id/appointments/:aid/status": false,
		"GET /widget/therapists/:id/slots":                     false,
		"POST /widget/therapists/:id/bookings":                 false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("expected route %s", route)
		}
	}
}

func TestHandler_GetTimeline(t *testing.T) {
	h, _, e := newTestHandler(t)
	seedMonday(t, h.svc)

	req := httptest.NewRequest(http.MethodGet, "/?date=2030-01-07", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	withParams(c, "id", testTherapist.String())

	if err := h.GetTimeline(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Date   string      `json:"date"`
		Blocks []TimeBlock `json:"blocks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Date != "2030-01-07" {
		t.Errorf("expected date 2030-01-07, got %s", body.Date)
	}
	if len(body.Blocks) != 1 || body.Blocks[0].StartTime != "09:00:00" || body.Blocks[0].EndTime != "17:00:00" {
		t.Errorf("expected one 09:00-17:00 block, got %+v", body.Blocks)
	}
}

func TestHandler_GetTimeline_BadInput(t *testing.T) {
	h, _, e := newTestHandler(t)

	tests := []struct {
		name, target, id string
	}{
		{"bad date", "/?date=07/01/2030", testTherapist.String()},
		{"impossible date", "/?date=2030-02-30", testTherapist.String()},
		{"bad therapist", "/?date=2030-01-07", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodGet, tt.target, nil), httptest.NewRecorder())
			withParams(c, "id", tt.id)
			expectHTTPError(t, h.GetTimeline(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_CheckConflicts(t *testing.T) {
	h, _, e := newTestHandler(t)
	seedMonday(t, h.svc)

	body := `{"start_time":"2030-01-07T16:30:00Z","end_time":"2030-01-07T17:30:00Z"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	withParams(c, "id", testTherapist.String())

	if err := h.CheckConflicts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report ConflictReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !report.HasConflict || report.AvailabilityConflict == nil {
		t.Errorf("expected an availability conflict, got %+v", report)
	}
	if report.AvailabilityConflict.Severity != SeverityMedium {
		t.Errorf("expected medium, got %s", report.AvailabilityConflict.Severity)
	}
}

func TestHandler_CheckConflicts_EndBeforeStart(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"start_time":"2030-01-07T11:00:00Z","end_time":"2030-01-07T10:00:00Z"}`
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
	withParams(c, "id", testTherapist.String())

	expectHTTPError(t, h.CheckConflicts(c), http.StatusBadRequest)
}

func TestHandler_AddAvailability_LegacyDayOfWeek(t *testing.T) {
	h, d, e := newTestHandler(t)
	body := `{"start_time":"2029-12-03T09:00:00Z","end_time":"2029-12-03T17:00:00Z","day_of_week":1,"is_recurring":true}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	withParams(c, "id", testTherapist.String())

	if err := h.AddAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"recurrence":"weekly:1"`) {
		t.Errorf("expected weekly:1 recurrence in %s", rec.Body.String())
	}
	if len(d.avail.items) != 1 || d.avail.items[0].TherapistID != testTherapist {
		t.Errorf("expected one stored window for the path therapist, got %+v", d.avail.items)
	}
}

func TestHandler_AddAvailability_RecurrenceList(t *testing.T) {
	h, d, e := newTestHandler(t)
	body := `{"start_time":"2029-12-03T09:00:00Z","end_time":"2029-12-03T12:00:00Z","recurrence":[1,3,5]}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	withParams(c, "id", testTherapist.String())

	if err := h.AddAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.avail.items[0].Recurrence; got == nil || got.String() != "weekly:1,3,5" {
		t.Errorf("expected weekly:1,3,5, got %v", got)
	}
}

func TestHandler_AddAvailability_Invalid(t *testing.T) {
	h, _, e := newTestHandler(t)

	tests := []struct {
		name, body string
	}{
		{"end before start", `{"start_time":"2030-01-07T10:00:00Z","end_time":"2030-01-07T09:00:00Z"}`},
		{"missing start", `{"end_time":"2030-01-07T09:00:00Z"}`},
		{"bad weekday", `{"start_time":"2030-01-07T09:00:00Z","end_time":"2030-01-07T10:00:00Z","day_of_week":7,"is_recurring":true}`},
		{"recurring without day", `{"start_time":"2030-01-07T09:00:00Z","end_time":"2030-01-07T10:00:00Z","is_recurring":true}`},
		{"malformed recurrence", `{"start_time":"2030-01-07T09:00:00Z","end_time":"2030-01-07T10:00:00Z","recurrence":"monthly"}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(jsonRequest(http.MethodPost, "/", tt.body), httptest.NewRecorder())
			withParams(c, "id", testTherapist.String())
			expectHTTPError(t, h.AddAvailability(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_TimeOffLifecycle(t *testing.T) {
	h, d, e := newTestHandler(t)

	body := `{"start_time":"2030-01-07T12:00:00Z","end_time":"2030-01-07T13:00:00Z","reason":"Lunch"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	withParams(c, "id", testTherapist.String())
	if err := h.AddTimeOff(c); err != nil {
		t.Fatalf("AddTimeOff: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	id := d.timeOff.items[0].ID

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	withParams(c, "id", testTherapist.String())
	if err := h.ListTimeOff(c); err != nil {
		t.Fatalf("ListTimeOff: %v", err)
	}
	var items []TimeOffBlock
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 1 || items[0].Reason != "Lunch" {
		t.Errorf("expected one Lunch block, got %+v", items)
	}

	other := uuid.New()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	withParams(c, "id", other.String(), "rid", id.String())
	expectHTTPError(t, h.DeleteTimeOff(c), http.StatusForbidden)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	withParams(c, "id", testTherapist.String(), "rid", id.String())
	if err := h.DeleteTimeOff(c); err != nil {
		t.Fatalf("DeleteTimeOff: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	withParams(c, "id", testTherapist.String(), "rid", id.String())
	expectHTTPError(t, h.DeleteTimeOff(c), http.StatusNotFound)
}

func TestHandler_ListAvailability_EmptyIsArray(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	withParams(c, "id", testTherapist.String())

	if err := h.ListAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected [], got %s", rec.Body.String())
	}
}

func TestHandler_BookAppointment_Conflict(t *testing.T) {
	h, d, e := newTestHandler(t)
	seedMonday(t, h.svc)
	lunch := recurringTimeOff(time.Monday, "12:00", "13:00", "Lunch")
	h.svc.AddTimeOff(context.Background(), &lunch)

	body := `{"client_id":"` + uuid.New().String() + `","client_name":"Jane Doe",` +
		`"start_time":"2030-01-07T12:00:00Z","end_time":"2030-01-07T13:00:00Z"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)
	withParams(c, "id", testTherapist.String())

	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp struct {
		Report ConflictReport `json:"report"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Report.TimeOffConflict == nil || resp.Report.TimeOffConflict.Message != "Overlaps time off: Lunch" {
		t.Errorf("expected lunch conflict, got %+v", resp.Report.TimeOffConflict)
	}
	if len(d.appts.items) != 0 {
		t.Error("expected nothing stored")
	}
}

func TestHandler_BookAppointment_ForceWithReason(t *testing.T) {
	h, d, e := newTestHandler(t)
	seedMonday(t, h.svc)
	lunch := recurringTimeOff(time.Monday, "12:00", "13:00", "Lunch")
	h.svc.AddTimeOff(context.Background(), &lunch)

	base := `"client_id":"` + uuid.New().String() + `","start_time":"2030-01-07T12:00:00Z","end_time":"2030-01-07T13:00:00Z","force":true`

	c := e.NewContext(jsonRequest(http.MethodPost, "/", "{"+base+"}"), httptest.NewRecorder())
	withParams(c, "id", testTherapist.String())
	expectHTTPError(t, h.BookAppointment(c), http.StatusBadRequest)

	rec := httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/", "{"+base+`,"override_reason":"crisis session"}`), rec)
	withParams(c, "id", testTherapist.String())
	if err := h.BookAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if len(d.appts.items) != 1 || !d.appts.items[0].OverridesTimeOff {
		t.Errorf("expected one overriding appointment, got %+v", d.appts.items)
	}
}

func TestHandler_BookAppointment_MissingClient(t *testing.T) {
	h, _, e := newTestHandler(t)
	body := `{"start_time":"2030-01-07T10:00:00Z","end_time":"2030-01-07T11:00:00Z"}`
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())
	withParams(c, "id", testTherapist.String())

	expectHTTPError(t, h.BookAppointment(c), http.StatusBadRequest)
}

func TestHandler_UpdateAppointmentStatus(t *testing.T) {
	h, _, e := newTestHandler(t)
	seedMonday(t, h.svc)
	appt, err := h.svc.BookAppointment(context.Background(), bookingAt("10:00", "11:00"))
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}

	c := e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"no-show"}`), httptest.NewRecorder())
	withParams(c, "id", testTherapist.String(), "aid", appt.ID.String())
	expectHTTPError(t, h.UpdateAppointmentStatus(c), http.StatusBadRequest)

	c = e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"cancelled"}`), httptest.NewRecorder())
	withParams(c, "id", testTherapist.String(), "aid", uuid.New().String())
	expectHTTPError(t, h.UpdateAppointmentStatus(c), http.StatusNotFound)

	rec := httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"cancelled"}`), rec)
	withParams(c, "id", testTherapist.String(), "aid", appt.ID.String())
	if err := h.UpdateAppointmentStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"cancelled"`) {
		t.Errorf("expected cancelled status in %s", rec.Body.String())
	}

	c = e.NewContext(jsonRequest(http.MethodPatch, "/", `{"status":"confirmed"}`), httptest.NewRecorder())
	withParams(c, "id", testTherapist.String(), "aid", appt.ID.String())
	expectHTTPError(t, h.UpdateAppointmentStatus(c), http.StatusConflict)
}

func TestHandler_ListAppointments_Paged(t *testing.T) {
	h, _, e := newTestHandler(t)
	seedMonday(t, h.svc)
	for _, slot := range [][2]string{{"09:00", "10:00"}, {"10:00", "11:00"}, {"11:00", "12:00"}} {
		if _, err := h.svc.BookAppointment(context.Background(), bookingAt(slot[0], slot[1])); err != nil {
			t.Fatalf("BookAppointment: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=2", nil), rec)
	withParams(c, "id", testTherapist.String())
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Appointment `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 3 || len(resp.Data) != 2 || !resp.HasMore {
		t.Errorf("expected 2 of 3 with more, got %d of %d (more=%v)", len(resp.Data), resp.Total, resp.HasMore)
	}
}

func TestHandler_GetOpenSlots(t *testing.T) {
	h, _, e := newTestHandler(t)
	w := datedWindow(testMonday, "09:00", "11:00")
	h.svc.AddAvailability(context.Background(), &w)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=2030-01-07&duration=45", nil), rec)
	withParams(c, "id", testTherapist.String())
	if err := h.GetOpenSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Duration int        `json:"duration"`
		Slots    []OpenSlot `json:"slots"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Duration != 45 || len(resp.Slots) != 2 {
		t.Fatalf("expected two 45 minute slots, got %+v", resp)
	}
	if resp.Slots[1].StartTime != "09:45:00" || resp.Slots[1].EndTime != "10:30:00" {
		t.Errorf("expected 09:45-10:30, got %s-%s", resp.Slots[1].StartTime, resp.Slots[1].EndTime)
	}

	for _, q := range []string{"/?date=2030-01-07&duration=abc", "/?date=2030-01-07&duration=-5"} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, q, nil), httptest.NewRecorder())
		withParams(c, "id", testTherapist.String())
		expectHTTPError(t, h.GetOpenSlots(c), http.StatusBadRequest)
	}
}

func TestHandler_WidgetBooking(t *testing.T) {
	h, d, e := newTestHandler(t)
	seedMonday(t, h.svc)
	client := uuid.New()

	body := `{"start_time":"2030-01-07T10:00:00Z","end_time":"2030-01-07T11:00:00Z","force":true,"status":"confirmed","client_id":"` + uuid.New().String() + `"}`
	req := jsonRequest(http.MethodPost, "/", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), client.String(), "Sam Client", []string{auth.RoleClient}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	withParams(c, "id", testTherapist.String())

	if err := h.WidgetBooking(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	got := d.appts.items[0]
	if got.ClientID != client {
		t.Errorf("expected client from token %s, got %s", client, got.ClientID)
	}
	if got.ClientName != "Sam Client" {
		t.Errorf("expected name from token, got %q", got.ClientName)
	}
	if got.Status != StatusPending {
		t.Errorf("expected widget bookings to be pending, got %s", got.Status)
	}
}

func TestHandler_WidgetBooking_CannotForce(t *testing.T) {
	h, d, e := newTestHandler(t)
	seedMonday(t, h.svc)

	body := `{"start_time":"2030-01-07T18:00:00Z","end_time":"2030-01-07T19:00:00Z","force":true}`
	req := jsonRequest(http.MethodPost, "/", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), uuid.New().String(), "Sam", []string{auth.RoleClient}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	withParams(c, "id", testTherapist.String())

	if err := h.WidgetBooking(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	if len(d.appts.items) != 0 {
		t.Error("expected nothing stored")
	}
}

func TestHandler_WidgetBooking_NonUUIDSubject(t *testing.T) {
	h, _, e := newTestHandler(t)
	req := jsonRequest(http.MethodPost, "/", `{}`)
	req = req.WithContext(auth.WithIdentity(req.Context(), "service-account", "", []string{auth.RoleClient}))
	c := e.NewContext(req, httptest.NewRecorder())
	withParams(c, "id", testTherapist.String())

	expectHTTPError(t, h.WidgetBooking(c), http.StatusForbidden)
}

func TestHTTPError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrForbiddenTherapist, http.StatusForbidden},
		{ErrDoubleBooked, http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{&ConflictError{}, http.StatusConflict},
		{ErrOverrideReason, http.StatusBadRequest},
		{ErrInvalidTimeFormat, http.StatusBadRequest},
		{ErrMalformedRecurrence, http.StatusBadRequest},
	}
	for _, tt := range tests {
		expectHTTPError(t, httpError(tt.err), tt.code)
	}

	plain := errors.New("connection reset")
	if got := httpError(plain); got != plain {
		t.Errorf("expected unknown errors to pass through, got %v", got)
	}
}
