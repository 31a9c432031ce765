package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Template Engine Tests
// ---------------------------------------------------------------------------

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.register(Template{
		ID:      "test-tpl",
		Name:    "Test Template",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
	})

	subject, body, err := eng.Render("test-tpl", ChannelEmail, map[string]string{
		"name": "Alice",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", subject, "Hello Alice")
	}
	if body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q, want %q", body, "Dear Alice, your code is 1234.")
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	_, _, err := eng.Render("nonexistent", ChannelEmail, nil)
	if !errors.Is(err, ErrTemplateUnset) {
		t.Fatalf("expected ErrTemplateUnset, got %v", err)
	}
}

func TestTemplateEngine_CrisisAlertChannels(t *testing.T) {
	eng := NewTemplateEngine()
	data := map[string]string{
		"account_name":       "Pat",
		"account_email":      "[no email]",
		"account_phone":      "(215) 555-0142",
		"recommendation":     "CLINICIAN",
		"instrument_summary": "PHQ-9: 12",
	}

	subject, body, err := eng.Render(CrisisAlertTemplate, ChannelEmail, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(subject, "Pat") {
		t.Errorf("subject %q should name the account", subject)
	}
	if !strings.Contains(body, "- Phone: (215) 555-0142") || !strings.Contains(body, "PHQ-9: 12") {
		t.Errorf("email body missing data: %q", body)
	}

	subject, body, err = eng.Render(CrisisAlertTemplate, ChannelSMS, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "" {
		t.Errorf("sms render should have no subject, got %q", subject)
	}
	if strings.Contains(body, "**") {
		t.Errorf("sms body should not be markdown: %q", body)
	}
	if strings.Contains(body, "{{") {
		t.Errorf("sms body has unreplaced placeholders: %q", body)
	}
}

func TestTemplateEngine_RenderMissingKey(t *testing.T) {
	eng := NewTemplateEngine()
	eng.register(Template{ID: "partial", Subject: "Hi {{name}}", Body: "{{name}} {{missing}}"})

	_, body, err := eng.Render("partial", ChannelEmail, map[string]string{"name": "Bob"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "Bob {{missing}}" {
		t.Errorf("body = %q, want %q", body, "Bob {{missing}}")
	}
}

// ---------------------------------------------------------------------------
// Manager Tests
// ---------------------------------------------------------------------------

func newTestManager(queueSize int) (*Manager, *MockEmailSender, *MockSMSSender) {
	emailMock := &MockEmailSender{}
	smsMock := &MockSMSSender{}
	eng := NewTemplateEngine()
	eng.register(Template{ID: "hello", Subject: "Hello {{name}}", Body: "Body for {{name}}", SMSBody: "SMS for {{name}}"})
	return NewManager(emailMock, smsMock, eng, zerolog.Nop(), queueSize), emailMock, smsMock
}

func TestRecipient_Channel(t *testing.T) {
	tests := []struct {
		name    string
		r       Recipient
		want    Channel
		addr    string
		wantErr bool
	}{
		{"email preferred", Recipient{Email: "a@example.org", Phone: "+12155550100"}, ChannelEmail, "a@example.org", false},
		{"phone fallback", Recipient{Email: "  ", Phone: "+12155550100"}, ChannelSMS, "+12155550100", false},
		{"neither", Recipient{Name: "Nobody"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, addr, err := tt.r.Channel()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Channel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ch != tt.want || addr != tt.addr {
				t.Errorf("Channel() = %s %q, want %s %q", ch, addr, tt.want, tt.addr)
			}
		})
	}
}

func TestManager_EnqueueAndFlush(t *testing.T) {
	mgr, emailMock, smsMock := newTestManager(10)
	ctx := context.Background()

	n1, err := mgr.Enqueue(ctx, "hello", Recipient{Name: "Alice", Email: "alice@example.com"}, map[string]string{"name": "Alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n1.Status != StatusQueued {
		t.Errorf("status = %q, want %q", n1.Status, StatusQueued)
	}
	if _, err := mgr.Enqueue(ctx, "hello", Recipient{Name: "Bob", Phone: "+12155550100"}, map[string]string{"name": "Bob"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if handled := mgr.Flush(ctx); handled != 2 {
		t.Fatalf("Flush handled %d, want 2", handled)
	}

	emails := emailMock.Calls()
	if len(emails) != 1 || emails[0].Subject != "Hello Alice" || emails[0].To != "alice@example.com" {
		t.Errorf("unexpected email calls: %+v", emails)
	}
	sms := smsMock.Calls()
	if len(sms) != 1 || sms[0].Body != "SMS for Bob" {
		t.Errorf("unexpected sms calls: %+v", sms)
	}

	got, err := mgr.Get(ctx, n1.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusSent || got.SentAt == nil || got.Attempts != 1 {
		t.Errorf("unexpected delivered notification: %+v", got)
	}
}

func TestManager_PrunesSettledNotifications(t *testing.T) {
	mgr, emailMock, _ := newTestManager(10)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return clock }

	sent, err := mgr.Enqueue(ctx, "hello", Recipient{Email: "a@example.org"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgr.Flush(ctx)

	emailMock.ShouldFail = true
	emailMock.FailError = "smtp down"
	failed, err := mgr.Enqueue(ctx, "hello", Recipient{Email: "b@example.org"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgr.Flush(ctx)

	queued, err := mgr.Enqueue(ctx, "hello", Recipient{Email: "c@example.org"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock = clock.Add(DefaultRetention + time.Hour)
	fresh, err := mgr.Enqueue(ctx, "hello", Recipient{Email: "d@example.org"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range []string{sent.ID, failed.ID} {
		if _, err := mgr.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected %s to be pruned, got %v", id, err)
		}
	}
	for _, id := range []string{queued.ID, fresh.ID} {
		if _, err := mgr.Get(ctx, id); err != nil {
			t.Errorf("expected %s to be kept, got %v", id, err)
		}
	}
}

func TestManager_EnqueueRejects(t *testing.T) {
	mgr, _, _ := newTestManager(1)
	ctx := context.Background()

	if _, err := mgr.Enqueue(ctx, "hello", Recipient{Name: "Nobody"}, nil); !errors.Is(err, ErrNoChannel) {
		t.Errorf("expected ErrNoChannel, got %v", err)
	}
	if _, err := mgr.Enqueue(ctx, "missing", Recipient{Email: "a@example.org"}, nil); !errors.Is(err, ErrTemplateUnset) {
		t.Errorf("expected ErrTemplateUnset, got %v", err)
	}

	if _, err := mgr.Enqueue(ctx, "hello", Recipient{Email: "a@example.org"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := mgr.Enqueue(ctx, "hello", Recipient{Email: "b@example.org"}, nil); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if stats := mgr.Stats(ctx); stats[StatusFailed] != 1 || stats[StatusQueued] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestManager_FailedDeliveryAndRetry(t *testing.T) {
	mgr, emailMock, _ := newTestManager(10)
	ctx := context.Background()
	emailMock.ShouldFail = true
	emailMock.FailError = "smtp down"

	n, err := mgr.Enqueue(ctx, "hello", Recipient{Email: "retry@example.com"}, map[string]string{"name": "R"})
	if err != nil {
		t.Fatalf("enqueue should succeed even if delivery will fail: %v", err)
	}
	mgr.Flush(ctx)

	got, _ := mgr.Get(ctx, n.ID)
	if got.Status != StatusFailed || got.Error != "smtp down" {
		t.Fatalf("expected failed status with error, got %+v", got)
	}

	emailMock.ShouldFail = false
	if err := mgr.Retry(ctx, n.ID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	mgr.Flush(ctx)

	got, _ = mgr.Get(ctx, n.ID)
	if got.Status != StatusSent || got.Error != "" || got.Attempts != 2 {
		t.Errorf("expected sent after retry, got %+v", got)
	}
	if err := mgr.Retry(ctx, n.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("expected ErrNotRetryable for a sent notification, got %v", err)
	}
	if err := mgr.Retry(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ListByAddress(t *testing.T) {
	mgr, _, _ := newTestManager(10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mgr.Enqueue(ctx, "hello", Recipient{Email: "list@example.com"}, nil)
	}
	mgr.Enqueue(ctx, "hello", Recipient{Email: "other@example.com"}, nil)

	if got := mgr.ListByAddress(ctx, "list@example.com", 10); len(got) != 3 {
		t.Errorf("expected 3, got %d", len(got))
	}
	if got := mgr.ListByAddress(ctx, "list@example.com", 2); len(got) != 2 {
		t.Errorf("expected limit of 2, got %d", len(got))
	}
}

func TestManager_StartWorkers(t *testing.T) {
	mgr, emailMock, _ := newTestManager(100)
	ctx, cancel := context.WithCancel(context.Background())

	count := 50
	var wg sync.WaitGroup
	wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer wg.Done()
			_, _ = mgr.Enqueue(ctx, "hello", Recipient{Email: "concurrent@example.com"}, nil)
		}()
	}
	wg.Wait()

	mgr.Start(ctx, 4)
	for mgr.Stats(ctx)[StatusSent] < count {
		mgr.Flush(ctx)
	}
	cancel()
	mgr.Wait()

	if got := len(emailMock.Calls()); got != count {
		t.Errorf("sent %d emails, want %d", got, count)
	}
}

// ---------------------------------------------------------------------------
// HTTP Handler Tests
// ---------------------------------------------------------------------------

func setupHandler() (*Handler, *Manager, *echo.Echo) {
	mgr, _, _ := newTestManager(10)
	return NewHandler(mgr), mgr, echo.New()
}

func TestHandler_GetNotification(t *testing.T) {
	h, mgr, e := setupHandler()
	n, _ := mgr.Enqueue(context.Background(), "hello", Recipient{Email: "get@example.com"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)

	if err := h.HandleGet(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Notification
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != n.ID || got.Address != "get@example.com" {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_GetNotification_NotFound(t *testing.T) {
	h, _, e := setupHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")

	var he *echo.HTTPError
	if err := h.HandleGet(c); !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ListRequiresAddress(t *testing.T) {
	h, _, e := setupHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/notifications", nil), httptest.NewRecorder())

	var he *echo.HTTPError
	if err := h.HandleList(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	h, mgr, e := setupHandler()
	mgr.Enqueue(context.Background(), "hello", Recipient{Email: "page@example.com"}, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/notifications?address=page@example.com", nil), rec)
	if err := h.HandleList(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Notification `json:"data"`
		Total int            `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || len(body.Data) != 1 {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_RetryConflict(t *testing.T) {
	h, mgr, e := setupHandler()
	n, _ := mgr.Enqueue(context.Background(), "hello", Recipient{Email: "queued@example.com"}, nil)

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(n.ID)

	var he *echo.HTTPError
	if err := h.HandleRetry(c); !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Errorf("expected 409 for a queued notification, got %v", err)
	}
}

func TestHandler_Stats(t *testing.T) {
	h, mgr, e := setupHandler()
	ctx := context.Background()
	mgr.Enqueue(ctx, "hello", Recipient{Email: "s@example.com"}, nil)
	mgr.Flush(ctx)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.HandleStats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stats map[string]int
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats[StatusSent] != 1 {
		t.Errorf("expected 1 sent, got %v", stats)
	}
}

func TestLogSender_MasksAddressesAndSubject(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(zerolog.New(&buf))

	if err := s.SendEmail(context.Background(), "jane.doe@example.org", "Crisis alert: Jane Doe needs follow-up", "body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendSMS(context.Background(), "+12155550142", "body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, leaked := range []string{"jane.doe", "Jane Doe", "2155550142"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "j***@example.org") || !strings.Contains(out, "***42") {
		t.Errorf("expected masked addresses in %s", out)
	}
}
