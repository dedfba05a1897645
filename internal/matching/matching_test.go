package matching

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/aldoetobex/weka-backend/internal/config"
	"github.com/aldoetobex/weka-backend/internal/testutil"
	"github.com/aldoetobex/weka-backend/pkg/models"
)

/* ===== fakes ===== */

type fakeSMS struct {
	mu    sync.Mutex
	sent  []string
	failN map[string]bool
}

func (f *fakeSMS) Send(_ context.Context, phone, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, phone)
	if f.failN[phone] {
		return errors.New("gateway down")
	}
	return nil
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeChat struct {
	mu    sync.Mutex
	chats []int64
}

func (f *fakeChat) Send(_ context.Context, chatID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatID)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newRequest(category string) models.ServiceRequest {
	return models.ServiceRequest{
		CustomerName:     "Wanjiku",
		CustomerPhone:    "+254711000111",
		CustomerLocation: "Westlands",
		ServiceCategory:  category,
		Description:      "Leaking kitchen sink",
		Status:           models.RequestOpen,
	}
}

/* ===== candidates ===== */

func Test_Candidates_DistinctActiveExactCategory(t *testing.T) {
	db := testutil.OpenDB(t)
	a := testutil.SeedUser(t, db, models.RoleProvider, "A")
	b := testutil.SeedUser(t, db, models.RoleProvider, "B")
	c := testutil.SeedUser(t, db, models.RoleProvider, "C")
	d := testutil.SeedUser(t, db, models.RoleProvider, "D")

	testutil.SeedService(t, db, a.ID, "Plumbing", models.ServiceActive)
	testutil.SeedService(t, db, a.ID, "Plumbing", models.ServiceActive) // same owner twice
	testutil.SeedService(t, db, b.ID, "Plumbing", models.ServiceActive)
	testutil.SeedService(t, db, c.ID, "Plumbing", models.ServiceInactive)
	testutil.SeedService(t, db, d.ID, "plumbing", models.ServiceActive) // case differs

	n := NewNotifier(db, Options{Logger: quietLogger()})
	got, err := n.Candidates(context.Background(), "Plumbing")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 candidates, got %d: %+v", len(got), got)
	}
	seen := map[string]bool{}
	for _, cand := range got {
		seen[cand.ProviderID.String()] = true
	}
	if !seen[a.ID.String()] || !seen[b.ID.String()] {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func Test_Candidates_CappedAtLimit(t *testing.T) {
	db := testutil.OpenDB(t)
	for i := 0; i < 7; i++ {
		u := testutil.SeedUser(t, db, models.RoleProvider, "P")
		testutil.SeedService(t, db, u.ID, "Cleaning", models.ServiceActive)
	}
	n := NewNotifier(db, Options{Logger: quietLogger()})
	got, err := n.Candidates(context.Background(), "Cleaning")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultCandidateLimit {
		t.Fatalf("want %d, got %d", DefaultCandidateLimit, len(got))
	}
}

/* ===== dispatch ===== */

func Test_OnRequestCreated_TwoProviders_TwoAttempts(t *testing.T) {
	db := testutil.OpenDB(t)
	a := testutil.SeedUser(t, db, models.RoleProvider, "A")
	b := testutil.SeedUser(t, db, models.RoleProvider, "B")
	testutil.SeedService(t, db, a.ID, "Plumbing", models.ServiceActive)
	testutil.SeedService(t, db, b.ID, "Plumbing", models.ServiceActive)

	sms := &fakeSMS{}
	n := NewNotifier(db, Options{SMS: sms, Logger: quietLogger()})
	cands, err := n.Candidates(context.Background(), "Plumbing")
	if err != nil {
		t.Fatal(err)
	}
	if attempts := n.OnRequestCreated(context.Background(), newRequest("Plumbing"), cands); attempts != 2 {
		t.Fatalf("attempts = %d", attempts)
	}
	// two providers + one customer confirmation
	if sms.count() != 3 {
		t.Fatalf("sms sends = %d", sms.count())
	}
}

func Test_OnRequestCreated_FailureIsIsolated(t *testing.T) {
	sms := &fakeSMS{failN: map[string]bool{"+254700000001": true}}
	n := NewNotifier(nil, Options{SMS: sms, Logger: quietLogger()})

	cands := []Candidate{
		{Phone: "+254700000001"},
		{Phone: "+254700000002"},
	}
	if attempts := n.OnRequestCreated(context.Background(), newRequest("Plumbing"), cands); attempts != 2 {
		t.Fatalf("attempts = %d", attempts)
	}
	if sms.count() != 3 {
		t.Fatalf("a failed send stopped the batch: %v", sms.sent)
	}
}

func Test_OnRequestCreated_PrefersTelegram(t *testing.T) {
	chat := int64(4242)
	sms := &fakeSMS{}
	tg := &fakeChat{}
	n := NewNotifier(nil, Options{SMS: sms, Telegram: tg, Logger: quietLogger()})

	n.OnRequestCreated(context.Background(), newRequest("Electrical"), []Candidate{
		{Phone: "+254700000001", TelegramChatID: &chat},
		{Phone: "+254700000002"},
	})
	if len(tg.chats) != 1 || tg.chats[0] != chat {
		t.Fatalf("telegram sends: %v", tg.chats)
	}
	// second provider + customer
	if sms.count() != 2 {
		t.Fatalf("sms sends: %v", sms.sent)
	}
}

func Test_Dispatch_WaitDrains(t *testing.T) {
	sms := &fakeSMS{}
	n := NewNotifier(nil, Options{SMS: sms, Logger: quietLogger()})
	n.Dispatch(newRequest("Plumbing"), []Candidate{{Phone: "+254700000009"}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if sms.count() != 2 {
		t.Fatalf("sms sends = %d", sms.count())
	}
}

type blockingSMS struct {
	release chan struct{}
	mu      sync.Mutex
	sent    []string
}

func (b *blockingSMS) Send(_ context.Context, phone, _ string) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, phone)
	return nil
}

func Test_NotifyPayment_DoesNotBlockCaller(t *testing.T) {
	sms := &blockingSMS{release: make(chan struct{})}
	n := NewNotifier(nil, Options{SMS: sms, Logger: quietLogger()})

	returned := make(chan struct{})
	go func() {
		n.NotifyPayment(context.Background(), "+254711000111", 2500, "QKT12345")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyPayment waited for the gateway")
	}

	close(sms.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	sms.mu.Lock()
	defer sms.mu.Unlock()
	if len(sms.sent) != 1 || sms.sent[0] != "+254711000111" {
		t.Fatalf("sent = %v", sms.sent)
	}
}

/* ===== channels ===== */

func Test_SMSClient_PostsForm(t *testing.T) {
	var got url.Values
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version1/messaging" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		got = r.PostForm
		apiKey = r.Header.Get("apiKey")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 1/1","Recipients":[{"number":"+254712345678","status":"Success","statusCode":101}]}}`))
	}))
	defer srv.Close()

	c := NewSMSClient(config.SMSConfig{BaseURL: srv.URL, Username: "sandbox", APIKey: "k", SenderID: "WEKA"})
	if err := c.Send(context.Background(), "0712 345 678", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Get("to") != "+254712345678" || got.Get("username") != "sandbox" || got.Get("from") != "WEKA" || apiKey != "k" {
		t.Fatalf("unexpected request: %v apiKey=%q", got, apiKey)
	}
}

func Test_SMSClient_RejectedRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 0/1","Recipients":[{"number":"+254712345678","status":"InvalidPhoneNumber","statusCode":403}]}}`))
	}))
	defer srv.Close()

	c := NewSMSClient(config.SMSConfig{BaseURL: srv.URL, Username: "u", APIKey: "k"})
	if err := c.Send(context.Background(), "+254712345678", "x"); err == nil {
		t.Fatal("expected error for rejected recipient")
	}
}

func Test_NewSMSClient_Unconfigured(t *testing.T) {
	if c := NewSMSClient(config.SMSConfig{}); c != nil {
		t.Fatal("expected nil client without credentials")
	}
}

func Test_FormatKenyanPhone(t *testing.T) {
	cases := map[string]string{
		"0712 345 678":   "+254712345678",
		"254712345678":   "+254712345678",
		"+254712345678":  "+254712345678",
		"712345678":      "+254712345678",
		"0110-123-456":   "+254110123456",
		"":               "",
		"+44 20 7946 01": "+4420794601",
	}
	for in, want := range cases {
		if got := FormatKenyanPhone(in); got != want {
			t.Errorf("FormatKenyanPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

type fakeBot struct{ sent []tgbotapi.Chattable }

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func Test_TelegramSender_BuildsMessage(t *testing.T) {
	bot := &fakeBot{}
	s := &TelegramSender{api: bot}
	if err := s.Send(context.Background(), 99, "new job"); err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.ChatID != 99 || msg.Text != "new job" {
		t.Fatalf("unexpected message: %#v", bot.sent[0])
	}
}
