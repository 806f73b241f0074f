package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointage/internal/attendance"
	"pointage/internal/auth"
	"pointage/internal/model"
	"pointage/internal/punchlog"
	"pointage/internal/qrcode"
	"pointage/internal/queue"
	"pointage/internal/reconcile"
	"pointage/internal/schedule"
)

const (
	signingKey = "test-key"
	issuer     = "pointage-test"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type punches struct {
	events []model.PunchEvent
	err    error
}

func (p punches) FetchWindow(context.Context, string, punchlog.Window, *model.DeviceAllowlist) ([]model.PunchEvent, error) {
	return p.events, p.err
}

type server struct {
	engine *gin.Engine
	queue  *queue.InMemory
}

func newServer(t *testing.T, src punches) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := schedule.NewMemory()
	tol := 15
	dir.Put(model.Session{
		Ref:              model.SessionRef{Kind: model.KindCourse, ID: "c1"},
		City:             "casablanca",
		Date:             day,
		PointageStart:    at(8, 30),
		Start:            at(9, 0),
		End:              at(11, 0),
		ToleranceMinutes: &tol,
	}, []model.RosterEntry{{StudentID: "s1", Matricule: "1001"}, {StudentID: "s2", Matricule: "1002"}})

	orch := reconcile.New(reconcile.Deps{
		Directory: dir,
		Store:     attendance.NewMemoryStore(),
		Punches:   src,
		QR: qrcode.NewManager(qrcode.NewMemoryStore(), time.Minute,
			qrcode.WithEligibility(schedule.Eligibility{Dir: dir})),
	})
	q := queue.NewInMemory(4)
	h := New(orch, q, map[string]HealthCheck{"db": func(context.Context) bool { return true }}, nil)
	r := gin.New()
	Register(r, h, auth.Required(signingKey, issuer), nil)
	return &server{engine: r, queue: q}
}

func token(t *testing.T, a auth.Actor) string {
	t.Helper()
	tok, _, err := auth.Issue(a, issuer, signingKey, time.Hour)
	require.NoError(t, err)
	return tok
}

var (
	staff = auth.Actor{UserID: "m1", Role: "manager", City: "casablanca",
		Permissions: []string{auth.PermRead, auth.PermWrite, auth.PermReconcile, auth.PermGenerate}}
	pupil = auth.Actor{UserID: "s1", Role: "student", Permissions: []string{auth.PermScan}}
)

func (s *server) do(t *testing.T, a *auth.Actor, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *a))
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthz(t *testing.T) {
	s := newServer(t, punches{})
	w, body := s.do(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["db"])
}

func TestRequiresBearerToken(t *testing.T) {
	s := newServer(t, punches{})
	w, _ := s.do(t, nil, http.MethodGet, "/v1/sessions/course/c1/attendance", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGenerateAndScan(t *testing.T) {
	s := newServer(t, punches{})
	w, body := s.do(t, &staff, http.MethodPost, "/v1/sessions/course/c1/qr", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)

	w, body = s.do(t, &pupil, http.MethodPost, "/v1/scans", gin.H{"token": tok})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "present", body["status"])

	w, body = s.do(t, &pupil, http.MethodPost, "/v1/scans", gin.H{"token": tok})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "duplicate", body["status"])

	w, body = s.do(t, &pupil, http.MethodPost, "/v1/scans", gin.H{"token": "nope"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "invalid", body["status"])
	assert.Equal(t, "token_invalid", body["kind"])

	w, body = s.do(t, &staff, http.MethodGet, "/v1/sessions/course/c1/scans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	scans, _ := body["scans"].([]any)
	require.Len(t, scans, 2)
	first, _ := scans[0].(map[string]any)
	assert.Equal(t, "present", first["status"])
	assert.Equal(t, "s1", first["student_id"])

	w, _ = s.do(t, &pupil, http.MethodGet, "/v1/sessions/course/c1/scans", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestScanRequiresToken(t *testing.T) {
	s := newServer(t, punches{})
	w, body := s.do(t, &pupil, http.MethodPost, "/v1/scans", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "field 'token' is required", body["error"])
}

func TestReconcileAndList(t *testing.T) {
	s := newServer(t, punches{events: []model.PunchEvent{{Identifier: "1001", At: at(8, 58), DeviceID: "d1"}}})
	w, body := s.do(t, &staff, http.MethodPost, "/v1/sessions/course/c1/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["created"])

	w, body = s.do(t, &staff, http.MethodGet, "/v1/sessions/course/c1/attendance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows, _ := body["attendance"].([]any)
	require.Len(t, rows, 2)
	first, _ := rows[0].(map[string]any)
	assert.Equal(t, "present", first["status"])
	assert.Equal(t, "d1", first["device_id"])
}

func TestReconcileReadsChunkedRoster(t *testing.T) {
	s := newServer(t, punches{})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/course/c1/reconcile",
		strings.NewReader(`{"roster":[{"student_id":"s1","matricule":"1001"}]}`))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token(t, staff))
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var rep reconcile.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Created)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "s1", rep.Records[0].StudentID)
}

func TestReconcileRejectsMalformedRoster(t *testing.T) {
	s := newServer(t, punches{})
	w, _ := s.do(t, &staff, http.MethodPost, "/v1/sessions/course/c1/reconcile", gin.H{"roster": []gin.H{{"matricule": "1001"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconcileSourceUnavailable(t *testing.T) {
	src := punches{err: &model.SourceError{City: "casablanca", Err: errors.New("timeout")}}
	s := newServer(t, src)
	w, body := s.do(t, &staff, http.MethodPost, "/v1/sessions/course/c1/reconcile", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "source_unavailable", body["kind"])
}

func TestReconcileAsync(t *testing.T) {
	s := newServer(t, punches{})
	w, body := s.do(t, &staff, http.MethodPost, "/v1/sessions/course/c1/reconcile?async=true", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, body["queued"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := s.queue.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs
	assert.Equal(t, reconcile.JobType, msg.Type)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t, punches{})
	tests := []struct {
		name  string
		actor auth.Actor
		path  string
		code  int
	}{
		{"bad kind", staff, "/v1/sessions/lecture/c1/attendance", http.StatusBadRequest},
		{"unknown session", staff, "/v1/sessions/exam/x/attendance", http.StatusNotFound},
		{"outside scope", auth.Actor{UserID: "m2", City: "rabat", Permissions: staff.Permissions}, "/v1/sessions/course/c1/attendance", http.StatusForbidden},
		{"missing permission", pupil, "/v1/sessions/course/c1/attendance", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := s.do(t, &tt.actor, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newServer(t, punches{})
	w, body := s.do(t, &staff, http.MethodPut, "/v1/sessions/course/c1/attendance/s2", gin.H{"status": "excused", "justification": "sick note"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "excused", body["status"])
	assert.Equal(t, "manual", body["source"])

	w, _ = s.do(t, &staff, http.MethodPut, "/v1/sessions/course/c1/attendance/s2", gin.H{"status": "asleep"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, &staff, http.MethodPut, "/v1/sessions/course/c1/attendance/ghost", gin.H{"status": "present"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulkUpdateReportsPartialSuccess(t *testing.T) {
	s := newServer(t, punches{})
	w, body := s.do(t, &staff, http.MethodPost, "/v1/sessions/course/c1/attendance/bulk", gin.H{"updates": []gin.H{
		{"student_id": "s1", "status": "present"},
		{"student_id": "ghost", "status": "present"},
	}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["succeeded"])
	assert.EqualValues(t, 1, body["failed"])

	w, _ = s.do(t, &staff, http.MethodPost, "/v1/sessions/course/c1/attendance/bulk", gin.H{"updates": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkAll(t *testing.T) {
	s := newServer(t, punches{})
	w, body := s.do(t, &staff, http.MethodPost, "/v1/sessions/course/c1/attendance/mark-all", gin.H{"status": "absent"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["succeeded"])
}
