package requests

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/aldoetobex/weka-backend/internal/auth"
	"github.com/aldoetobex/weka-backend/internal/testutil"
	"github.com/aldoetobex/weka-backend/pkg/models"
)

// newTestApp wires the routes; a non-nil userID is injected as the caller.
func newTestApp(h *Handler, userID *uuid.UUID) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler})
	api := app.Group("/api")
	if userID != nil {
		api.Use(testutil.InjectAuth(*userID, models.RoleProvider))
	}
	api.Get("/service-requests", h.List)
	api.Post("/service-requests", h.Create)
	api.Put("/service-requests", h.Update)
	api.Delete("/service-requests", auth.RequireAuth(), h.Delete)
	api.Post("/service-requests/:id/claim", auth.RequireAuth(), h.Claim)
	api.Get("/service-requests/:id/history", h.History)
	api.Get("/stats/live", h.Live)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func Test_Post_CreatesOpenRequest(t *testing.T) {
	svc, _ := newService(t)
	app := newTestApp(NewHandler(svc), nil)

	code, raw := call(t, app, "POST", "/api/service-requests", `{
		"customerName":"Wanjiku","customerPhone":"+254711000111","customerLocation":"Kilimani",
		"serviceCategory":"Plumbing","description":"Burst pipe","budget":2500}`)
	if code != 200 {
		t.Fatalf("status=%d body=%s", code, raw)
	}
	out := decode[CreateResponse](t, raw)
	if !out.Success || out.Request.Status != models.RequestOpen || out.MatchedProviders != 0 {
		t.Fatalf("unexpected: %+v", out)
	}
	if out.Request.Budget == nil || *out.Request.Budget != 2500 {
		t.Fatalf("budget lost: %+v", out.Request)
	}
}

func Test_Post_MissingFields_400(t *testing.T) {
	svc, _ := newService(t)
	app := newTestApp(NewHandler(svc), nil)

	code, raw := call(t, app, "POST", "/api/service-requests", `{"customerName":"Wanjiku"}`)
	body := decode[map[string]any](t, raw)
	if code != 400 || body["code"] != "MISSING_REQUIRED_FIELDS" {
		t.Fatalf("status=%d body=%s", code, raw)
	}
}

func Test_Get_InvalidID_And_Status(t *testing.T) {
	svc, _ := newService(t)
	app := newTestApp(NewHandler(svc), nil)

	code, raw := call(t, app, "GET", "/api/service-requests?id=abc", "")
	if code != 400 || decode[map[string]any](t, raw)["code"] != "INVALID_ID" {
		t.Fatalf("status=%d body=%s", code, raw)
	}
	code, raw = call(t, app, "GET", "/api/service-requests?status=archived", "")
	if code != 400 || decode[map[string]any](t, raw)["code"] != "INVALID_STATUS" {
		t.Fatalf("status=%d body=%s", code, raw)
	}
}

func Test_Public_List_MasksContactDetails(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	db.Model(&r).Update("description", "Call me on 0712 345 678 or mail jane@example.com")
	app := newTestApp(NewHandler(svc), nil)

	code, raw := call(t, app, "GET", "/api/service-requests", "")
	if code != 200 {
		t.Fatalf("status=%d body=%s", code, raw)
	}
	rows := decode[[]models.ServiceRequest](t, raw)
	if len(rows) != 1 {
		t.Fatalf("rows=%d", len(rows))
	}
	if rows[0].CustomerPhone == r.CustomerPhone || !strings.HasSuffix(rows[0].CustomerPhone, "111") {
		t.Fatalf("phone not masked: %q", rows[0].CustomerPhone)
	}
	if strings.Contains(rows[0].Description, "0712") || strings.Contains(rows[0].Description, "jane@") {
		t.Fatalf("description not redacted: %q", rows[0].Description)
	}
}

func Test_Public_List_ShortensLongDescriptions(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	long := strings.Repeat("bomba ya jikoni inavuja ", 20)
	db.Model(&r).Update("description", long)
	app := newTestApp(NewHandler(svc), nil)

	code, raw := call(t, app, "GET", "/api/service-requests", "")
	rows := decode[[]models.ServiceRequest](t, raw)
	if code != 200 || len(rows) != 1 {
		t.Fatalf("status=%d body=%s", code, raw)
	}
	if n := utf8.RuneCountInString(rows[0].Description); n > listPreviewRunes+1 || !strings.HasSuffix(rows[0].Description, "…") {
		t.Fatalf("preview not shortened (%d runes): %q", n, rows[0].Description)
	}

	code, raw = call(t, app, "GET", "/api/service-requests?id="+r.ID.String(), "")
	if code != 200 || decode[models.ServiceRequest](t, raw).Description != long {
		t.Fatalf("single view should keep the full text: status=%d", code)
	}
}

func Test_List_LocationWildcardsMatchLiterally(t *testing.T) {
	svc, db := newService(t)
	seedRequest(t, db, models.RequestOpen, nil)
	app := newTestApp(NewHandler(svc), nil)

	for _, q := range []string{"%25", "_", "Kili%25"} {
		code, raw := call(t, app, "GET", "/api/service-requests?location="+q, "")
		if rows := decode[[]models.ServiceRequest](t, raw); code != 200 || len(rows) != 0 {
			t.Fatalf("location=%s: status=%d rows=%d", q, code, len(rows))
		}
	}
	code, raw := call(t, app, "GET", "/api/service-requests?location=kilimani", "")
	if rows := decode[[]models.ServiceRequest](t, raw); code != 200 || len(rows) != 1 {
		t.Fatalf("plain substring: status=%d rows=%d", code, len(rows))
	}
}

func Test_Get_Matched_OnlyProviderSeesIt(t *testing.T) {
	svc, db := newService(t)
	p := uuid.New()
	r := seedRequest(t, db, models.RequestMatched, &p)

	anon := newTestApp(NewHandler(svc), nil)
	if code, raw := call(t, anon, "GET", "/api/service-requests?id="+r.ID.String(), ""); code != 404 {
		t.Fatalf("anonymous: status=%d body=%s", code, raw)
	}

	mine := newTestApp(NewHandler(svc), &p)
	code, raw := call(t, mine, "GET", "/api/service-requests?id="+r.ID.String(), "")
	if code != 200 {
		t.Fatalf("provider: status=%d body=%s", code, raw)
	}
	if got := decode[models.ServiceRequest](t, raw); got.CustomerPhone != r.CustomerPhone {
		t.Fatalf("matched provider should see the real phone, got %q", got.CustomerPhone)
	}
}

func Test_Put_Codes(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	anon := newTestApp(NewHandler(svc), nil)

	code, raw := call(t, anon, "PUT", "/api/service-requests?id="+r.ID.String(), `{"status":"cancelled"}`)
	if code != 401 || decode[map[string]any](t, raw)["code"] != "AUTHENTICATION_REQUIRED" {
		t.Fatalf("auth: status=%d body=%s", code, raw)
	}

	p := uuid.New()
	authed := newTestApp(NewHandler(svc), &p)
	code, raw = call(t, authed, "PUT", "/api/service-requests?id="+uuid.NewString(), `{"status":"cancelled"}`)
	if code != 404 {
		t.Fatalf("missing: status=%d body=%s", code, raw)
	}
	code, raw = call(t, authed, "PUT", "/api/service-requests?id="+r.ID.String(), `{"status":"matched"}`)
	if code != 400 || decode[map[string]any](t, raw)["code"] != "INVALID_STATUS_TRANSITION" {
		t.Fatalf("matched w/o provider: status=%d body=%s", code, raw)
	}
	code, raw = call(t, authed, "PUT", "/api/service-requests?id="+r.ID.String(), `{"status":"bogus"}`)
	if code != 400 || decode[map[string]any](t, raw)["code"] != "INVALID_STATUS" {
		t.Fatalf("bad enum: status=%d body=%s", code, raw)
	}
	code, raw = call(t, authed, "PUT", "/api/service-requests?id="+r.ID.String(), `{"matchedProviderId":"`+p.String()+`"}`)
	if code != 200 || decode[models.ServiceRequest](t, raw).Status != models.RequestMatched {
		t.Fatalf("assign: status=%d body=%s", code, raw)
	}
}

func Test_Put_MatchedRequest_HiddenFromOthers(t *testing.T) {
	svc, db := newService(t)
	p := uuid.New()
	stranger := uuid.New()
	r := seedRequest(t, db, models.RequestMatched, &p)
	url := "/api/service-requests?id=" + r.ID.String()

	code, raw := call(t, newTestApp(NewHandler(svc), nil), "PUT", url, `{"matchedAt":"2026-01-01T10:00:00Z"}`)
	if code != 404 || decode[map[string]any](t, raw)["code"] != "REQUEST_NOT_FOUND" {
		t.Fatalf("anonymous: status=%d body=%s", code, raw)
	}
	code, raw = call(t, newTestApp(NewHandler(svc), &stranger), "PUT", url, `{"status":"completed"}`)
	if code != 404 || decode[map[string]any](t, raw)["code"] != "REQUEST_NOT_FOUND" {
		t.Fatalf("stranger: status=%d body=%s", code, raw)
	}
	code, raw = call(t, newTestApp(NewHandler(svc), &p), "PUT", url, `{"status":"completed"}`)
	if code != 200 || decode[models.ServiceRequest](t, raw).Status != models.RequestCompleted {
		t.Fatalf("provider: status=%d body=%s", code, raw)
	}
}

func Test_Claim_Route_TwoProviders(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	a, b := uuid.New(), uuid.New()

	code, raw := call(t, newTestApp(NewHandler(svc), &a), "POST", "/api/service-requests/"+r.ID.String()+"/claim", "")
	if code != 200 {
		t.Fatalf("A: status=%d body=%s", code, raw)
	}
	code, raw = call(t, newTestApp(NewHandler(svc), &b), "POST", "/api/service-requests/"+r.ID.String()+"/claim", "")
	if code != 400 || decode[map[string]any](t, raw)["code"] != "ALREADY_CLAIMED" {
		t.Fatalf("B: status=%d body=%s", code, raw)
	}

	code, raw = call(t, newTestApp(NewHandler(svc), &a), "GET", "/api/service-requests/"+r.ID.String()+"/history", "")
	if code != 200 || len(decode[[]models.RequestHistory](t, raw)) != 1 {
		t.Fatalf("history: status=%d body=%s", code, raw)
	}
}

func Test_Delete_Route(t *testing.T) {
	svc, db := newService(t)
	p := uuid.New()
	stranger := uuid.New()
	r := seedRequest(t, db, models.RequestMatched, &p)

	if code, _ := call(t, newTestApp(NewHandler(svc), nil), "DELETE", "/api/service-requests?id="+r.ID.String(), ""); code != 401 {
		t.Fatalf("anonymous delete: %d", code)
	}
	code, raw := call(t, newTestApp(NewHandler(svc), &stranger), "DELETE", "/api/service-requests?id="+r.ID.String(), "")
	if code != 401 || decode[map[string]any](t, raw)["code"] != "UNAUTHORIZED_DELETE" {
		t.Fatalf("stranger: status=%d body=%s", code, raw)
	}
	code, raw = call(t, newTestApp(NewHandler(svc), &p), "DELETE", "/api/service-requests?id="+r.ID.String(), "")
	if code != 200 {
		t.Fatalf("provider: status=%d body=%s", code, raw)
	}
	if got := decode[DeleteResponse](t, raw); got.DeletedRecord.ID != r.ID {
		t.Fatalf("deleted record: %+v", got)
	}
}

func Test_Live_Route(t *testing.T) {
	svc, _ := newService(t)
	code, raw := call(t, newTestApp(NewHandler(svc), nil), "GET", "/api/stats/live", "")
	if code != 200 || decode[LiveStats](t, raw).AvgResponseMinutes != defaultResponseMinutes {
		t.Fatalf("status=%d body=%s", code, raw)
	}
}
