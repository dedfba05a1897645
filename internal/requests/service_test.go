package requests

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aldoetobex/weka-backend/internal/matching"
	"github.com/aldoetobex/weka-backend/internal/testutil"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/patch"
)

/* ===== helpers ===== */

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type countingSMS struct {
	mu   sync.Mutex
	sent int
}

func (c *countingSMS) Send(context.Context, string, string) error {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	return NewService(db, nil, quietLogger()), db
}

func seedRequest(t *testing.T, db *gorm.DB, status models.RequestStatus, provider *uuid.UUID) models.ServiceRequest {
	t.Helper()
	r := models.ServiceRequest{
		CustomerName:      "Wanjiku",
		CustomerPhone:     "+254711000111",
		CustomerLocation:  "Kilimani, Nairobi",
		ServiceCategory:   "Plumbing",
		Description:       "Burst pipe under the sink",
		Status:            status,
		MatchedProviderID: provider,
		CreatedAt:         time.Now().UTC().Add(-30 * time.Minute),
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return r
}

func validInput() CreateInput {
	return CreateInput{
		CustomerName:     "Wanjiku",
		CustomerPhone:    "+254711000111",
		CustomerLocation: "Kilimani",
		ServiceCategory:  "Plumbing",
		Description:      "Burst pipe under the sink",
	}
}

func wantKind(t *testing.T, err error, k apperr.Kind, code string) {
	t.Helper()
	e, ok := apperr.As(err)
	if !ok {
		t.Fatalf("want %s/%s, got %v", k, code, err)
	}
	if e.Kind != k || (code != "" && e.Code != code) {
		t.Fatalf("want %s/%s, got %s/%s", k, code, e.Kind, e.Code)
	}
}

func ptr[T any](v T) *T { return &v }

/* ===== create ===== */

func Test_Create_StartsOpen_AndCountsCandidates(t *testing.T) {
	db := testutil.OpenDB(t)
	a := testutil.SeedUser(t, db, models.RoleProvider, "A")
	b := testutil.SeedUser(t, db, models.RoleProvider, "B")
	testutil.SeedService(t, db, a.ID, "Plumbing", models.ServiceActive)
	testutil.SeedService(t, db, b.ID, "Plumbing", models.ServiceActive)

	sms := &countingSMS{}
	n := matching.NewNotifier(db, matching.Options{SMS: sms, Logger: quietLogger()})
	svc := NewService(db, n, quietLogger())

	r, matched, err := svc.Create(context.Background(), validInput(), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != models.RequestOpen || r.MatchedProviderID != nil || r.ID == uuid.Nil {
		t.Fatalf("unexpected request: %+v", r)
	}
	if matched != 2 {
		t.Fatalf("matchedProviders = %d", matched)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if sms.sent != 3 {
		t.Fatalf("sends = %d, want 2 providers + 1 customer", sms.sent)
	}

	hist, _ := svc.History(context.Background(), r.ID)
	if len(hist) != 1 || hist[0].Action != "created" || hist[0].ActorID != "anonymous" {
		t.Fatalf("history: %+v", hist)
	}
}

func Test_Create_BlankFields_Validation(t *testing.T) {
	svc, _ := newService(t)
	in := validInput()
	in.Description = "   "
	_, _, err := svc.Create(context.Background(), in, nil)
	wantKind(t, err, apperr.KindValidation, "MISSING_REQUIRED_FIELDS")

	e, _ := apperr.As(err)
	if len(e.Fields["description"]) == 0 {
		t.Fatalf("fields: %+v", e.Fields)
	}

	in = validInput()
	in.Budget = ptr(-1)
	_, _, err = svc.Create(context.Background(), in, nil)
	wantKind(t, err, apperr.KindValidation, "INVALID_BUDGET")
}

/* ===== claim ===== */

func Test_Claim_OpenToMatched(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	a := uuid.New()

	got, err := svc.Claim(context.Background(), r.ID, a)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Status != models.RequestMatched || got.MatchedProviderID == nil || *got.MatchedProviderID != a {
		t.Fatalf("unexpected: %+v", got)
	}
	if got.MatchedAt == nil || got.ResponseTime == nil || *got.ResponseTime < 29 {
		t.Fatalf("matchedAt/responseTime not recorded: %+v", got)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Fatalf("createdAt mutated: %v -> %v", r.CreatedAt, got.CreatedAt)
	}

	// same provider again is idempotent
	again, err := svc.Claim(context.Background(), r.ID, a)
	if err != nil || again.Status != models.RequestMatched {
		t.Fatalf("idempotent claim: %+v %v", again, err)
	}

	// a different provider is rejected
	_, err = svc.Claim(context.Background(), r.ID, uuid.New())
	wantKind(t, err, apperr.KindInvalidTransition, "ALREADY_CLAIMED")
}

func Test_Claim_TerminalAlwaysFails(t *testing.T) {
	svc, db := newService(t)
	p := uuid.New()
	for _, st := range []models.RequestStatus{models.RequestCompleted, models.RequestCancelled} {
		r := seedRequest(t, db, st, &p)
		for _, who := range []uuid.UUID{p, uuid.New()} {
			_, err := svc.Claim(context.Background(), r.ID, who)
			wantKind(t, err, apperr.KindInvalidTransition, "REQUEST_CLOSED")
		}
	}
}

func Test_Claim_Missing_NotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Claim(context.Background(), uuid.New(), uuid.New())
	wantKind(t, err, apperr.KindNotFound, "REQUEST_NOT_FOUND")
}

func Test_Claim_Concurrent_ExactlyOneWins(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)

	const n = 8
	providers := make([]uuid.UUID, n)
	for i := range providers {
		providers[i] = uuid.New()
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Claim(context.Background(), r.ID, providers[i])
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	var winner uuid.UUID
	for i, err := range errs {
		if err == nil {
			wins++
			winner = providers[i]
			continue
		}
		wantKind(t, err, apperr.KindInvalidTransition, "ALREADY_CLAIMED")
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}

	var final models.ServiceRequest
	if err := db.First(&final, "id = ?", r.ID).Error; err != nil {
		t.Fatal(err)
	}
	if final.MatchedProviderID == nil || *final.MatchedProviderID != winner {
		t.Fatalf("stored provider %v, winner %v", final.MatchedProviderID, winner)
	}
}

/* ===== set status ===== */

func Test_SetStatus_MatchedWithoutProvider_Rejected(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	caller := uuid.New()

	_, err := svc.SetStatus(context.Background(), r.ID, &caller, StatusChange{Status: patch.Some(models.RequestMatched)})
	wantKind(t, err, apperr.KindInvalidTransition, "INVALID_STATUS_TRANSITION")
}

func Test_SetStatus_ProviderAloneMeansMatched(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	p := uuid.New()

	got, err := svc.SetStatus(context.Background(), r.ID, &p, StatusChange{MatchedProviderID: patch.Some(p)})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RequestMatched || got.MatchedProviderID == nil || *got.MatchedProviderID != p {
		t.Fatalf("unexpected: %+v", got)
	}
}

func Test_SetStatus_RequiresAuth(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)

	_, err := svc.SetStatus(context.Background(), r.ID, nil, StatusChange{Status: patch.Some(models.RequestCancelled)})
	wantKind(t, err, apperr.KindUnauthenticated, "AUTHENTICATION_REQUIRED")

	// open -> open needs no caller
	if _, err := svc.SetStatus(context.Background(), r.ID, nil, StatusChange{Status: patch.Some(models.RequestOpen)}); err != nil {
		t.Fatalf("open no-op: %v", err)
	}
}

func Test_SetStatus_MatchedLifecycle(t *testing.T) {
	svc, db := newService(t)
	p := uuid.New()
	other := uuid.New()
	r := seedRequest(t, db, models.RequestMatched, &p)

	// to anyone else the request does not exist
	_, err := svc.SetStatus(context.Background(), r.ID, &other, StatusChange{Status: patch.Some(models.RequestCompleted)})
	wantKind(t, err, apperr.KindNotFound, "REQUEST_NOT_FOUND")
	_, err = svc.SetStatus(context.Background(), r.ID, &other, StatusChange{Status: patch.Some(models.RequestCancelled)})
	wantKind(t, err, apperr.KindNotFound, "REQUEST_NOT_FOUND")
	_, err = svc.SetStatus(context.Background(), r.ID, nil, StatusChange{MatchedAt: patch.Some(time.Now())})
	wantKind(t, err, apperr.KindNotFound, "REQUEST_NOT_FOUND")

	// back to open is not allowed
	_, err = svc.SetStatus(context.Background(), r.ID, &p, StatusChange{Status: patch.Some(models.RequestOpen)})
	wantKind(t, err, apperr.KindInvalidTransition, "INVALID_STATUS_TRANSITION")

	got, err := svc.SetStatus(context.Background(), r.ID, &p, StatusChange{Status: patch.Some(models.RequestCompleted)})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RequestCompleted || got.MatchedProviderID == nil {
		t.Fatalf("unexpected: %+v", got)
	}

	// terminal
	for _, st := range []models.RequestStatus{models.RequestOpen, models.RequestMatched, models.RequestCancelled} {
		_, err = svc.SetStatus(context.Background(), r.ID, &p, StatusChange{Status: patch.Some(st)})
		wantKind(t, err, apperr.KindInvalidTransition, "REQUEST_CLOSED")
	}
}

func Test_SetStatus_OpenCannotComplete(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	caller := uuid.New()
	_, err := svc.SetStatus(context.Background(), r.ID, &caller, StatusChange{Status: patch.Some(models.RequestCompleted)})
	wantKind(t, err, apperr.KindInvalidTransition, "INVALID_STATUS_TRANSITION")
}

func Test_SetStatus_InvalidEnum(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	caller := uuid.New()
	_, err := svc.SetStatus(context.Background(), r.ID, &caller, StatusChange{Status: patch.Some(models.RequestStatus("archived"))})
	wantKind(t, err, apperr.KindValidation, "INVALID_STATUS")
}

func Test_SetStatus_CancelOpen_WritesHistory(t *testing.T) {
	svc, db := newService(t)
	r := seedRequest(t, db, models.RequestOpen, nil)
	caller := uuid.New()

	got, err := svc.SetStatus(context.Background(), r.ID, &caller, StatusChange{Status: patch.Some(models.RequestCancelled)})
	if err != nil || got.Status != models.RequestCancelled {
		t.Fatalf("cancel: %+v %v", got, err)
	}
	hist, _ := svc.History(context.Background(), r.ID)
	if len(hist) != 1 || hist[0].OldStatus != models.RequestOpen || hist[0].NewStatus != models.RequestCancelled || hist[0].ActorID != caller.String() {
		t.Fatalf("history: %+v", hist)
	}
}

/* ===== delete ===== */

func Test_Delete_Rules(t *testing.T) {
	svc, db := newService(t)
	p := uuid.New()
	stranger := uuid.New()

	open := seedRequest(t, db, models.RequestOpen, nil)
	if _, err := svc.Delete(context.Background(), open.ID, stranger); err != nil {
		t.Fatalf("open delete: %v", err)
	}

	matched := seedRequest(t, db, models.RequestMatched, &p)
	_, err := svc.Delete(context.Background(), matched.ID, stranger)
	wantKind(t, err, apperr.KindPermission, "UNAUTHORIZED_DELETE")
	if e, _ := apperr.As(err); e.HTTPStatus() != 401 {
		t.Fatalf("status = %d", e.HTTPStatus())
	}

	if _, err := svc.Delete(context.Background(), matched.ID, p); err != nil {
		t.Fatalf("provider delete: %v", err)
	}
	_, err = svc.Delete(context.Background(), matched.ID, p)
	wantKind(t, err, apperr.KindNotFound, "REQUEST_NOT_FOUND")
}

/* ===== visibility ===== */

func Test_Get_HidesMatchedFromOthers(t *testing.T) {
	svc, db := newService(t)
	p := uuid.New()
	stranger := uuid.New()
	r := seedRequest(t, db, models.RequestMatched, &p)

	_, err := svc.Get(context.Background(), r.ID, nil)
	wantKind(t, err, apperr.KindNotFound, "")
	_, err = svc.Get(context.Background(), r.ID, &stranger)
	wantKind(t, err, apperr.KindNotFound, "")
	if _, err := svc.Get(context.Background(), r.ID, &p); err != nil {
		t.Fatalf("provider get: %v", err)
	}
}

func Test_List_Visibility(t *testing.T) {
	svc, db := newService(t)
	p := uuid.New()
	q := uuid.New()
	seedRequest(t, db, models.RequestOpen, nil)
	seedRequest(t, db, models.RequestMatched, &p)
	seedRequest(t, db, models.RequestCompleted, &p)
	seedRequest(t, db, models.RequestMatched, &q)

	count := func(f Filter) int {
		t.Helper()
		rows, err := svc.List(context.Background(), f)
		if err != nil {
			t.Fatal(err)
		}
		return len(rows)
	}

	if got := count(Filter{}); got != 1 {
		t.Fatalf("anonymous default = %d", got)
	}
	if got := count(Filter{Caller: &p}); got != 3 {
		t.Fatalf("provider default = %d", got)
	}
	matched := models.RequestMatched
	if got := count(Filter{Caller: &p, Status: &matched}); got != 1 {
		t.Fatalf("provider matched = %d", got)
	}
	if got := count(Filter{Status: &matched}); got != 0 {
		t.Fatalf("anonymous matched = %d", got)
	}
	if got := count(Filter{Location: "KILIMANI"}); got != 1 {
		t.Fatalf("location substring = %d", got)
	}
	if got := count(Filter{Category: "plumbing"}); got != 0 {
		t.Fatalf("category must be exact, got %d", got)
	}
}

/* ===== stats ===== */

func Test_Live_DefaultAndAverage(t *testing.T) {
	svc, db := newService(t)
	st, err := svc.Live(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.AvgResponseMinutes != defaultResponseMinutes {
		t.Fatalf("default avg = %d", st.AvgResponseMinutes)
	}

	u := testutil.SeedUser(t, db, models.RoleProvider, "P")
	testutil.SeedService(t, db, u.ID, "Plumbing", models.ServiceActive)
	r := seedRequest(t, db, models.RequestOpen, nil)
	if _, err := svc.Claim(context.Background(), r.ID, u.ID); err != nil {
		t.Fatal(err)
	}

	st, err = svc.Live(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.RequestsToday != 1 || st.ActiveProviders != 1 || st.TotalUsers != 1 {
		t.Fatalf("counters: %+v", st)
	}
	if st.AvgResponseMinutes < 29 || st.AvgResponseMinutes > 31 {
		t.Fatalf("avg = %d", st.AvgResponseMinutes)
	}
}
