// Package notification provides an Email/SMS notification queue with
// template rendering, in-memory delivery records, retry, and Echo HTTP
// handlers.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/hipaa"
)

// ---------------------------------------------------------------------------
// Notification Types
// ---------------------------------------------------------------------------

// Channel is the medium used to deliver a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	StatusQueued = "queued"
	StatusSent   = "sent"
	StatusFailed = "failed"
)

var (
	ErrNoChannel     = errors.New("recipient has neither email nor phone")
	ErrQueueFull     = errors.New("notification queue is full")
	ErrNotFound      = errors.New("notification not found")
	ErrNotRetryable  = errors.New("notification is not in failed status")
	ErrTemplateUnset = errors.New("template not found")
)

// Recipient is an individually addressed target. Email is preferred over
// Phone when both are present.
type Recipient struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Locale string `json:"locale,omitempty"`
}

// Channel picks the delivery channel and address for the recipient.
func (r Recipient) Channel() (Channel, string, error) {
	if email := strings.TrimSpace(r.Email); email != "" {
		return ChannelEmail, email, nil
	}
	if phone := strings.TrimSpace(r.Phone); phone != "" {
		return ChannelSMS, phone, nil
	}
	return "", "", ErrNoChannel
}

// Notification represents a single outbound notification.
type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Address      string            `json:"address"`
	Recipient    Recipient         `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender delivers an email. body is Markdown; senders that speak HTML
// render it themselves.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// CrisisAlertTemplate is sent to every active crisis contact when a
// screening signals acute risk.
const CrisisAlertTemplate = "crisis-alert"

// Template defines a reusable notification template. Body is the Markdown
// email body; SMSBody is the plain text used when the recipient only has a
// phone number.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SMSBody string `json:"sms_body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      CrisisAlertTemplate,
			Name:    "Crisis Alert",
			Subject: "Crisis alert: {{account_name}} needs follow-up",
			Body: "**A screening response needs immediate follow-up.**\n\n" +
				"- Name: {{account_name}}\n" +
				"- Email: {{account_email}}\n" +
				"- Phone: {{account_phone}}\n" +
				"- Recommendation: {{recommendation}}\n\n" +
				"{{instrument_summary}}\n",
			SMSBody: "Crisis alert: {{account_name}} ({{account_phone}}, {{account_email}}) needs follow-up now. Recommendation {{recommendation}}.",
		},
	}
	for _, t := range builtIn {
		e.register(t)
	}
}

// register adds or replaces a template in the engine.
func (e *TemplateEngine) register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is. SMS renders have no subject and fall back to Body when the
// template has no SMSBody.
func (e *TemplateEngine) Render(templateID string, ch Channel, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrTemplateUnset, templateID)
	}

	body = t.Body
	if ch == ChannelSMS {
		if t.SMSBody != "" {
			body = t.SMSBody
		}
	} else {
		subject = t.Subject
	}
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager accepts notifications onto a bounded queue and delivers them from
// worker goroutines. Delivery failures are recorded on the notification and
// left for Retry; they are not retried automatically.
type Manager struct {
	emailSender EmailSender
	smsSender   SMSSender
	templates   *TemplateEngine
	logger      zerolog.Logger
	now         func() time.Time

	queue chan string
	wg    sync.WaitGroup

	mu            sync.RWMutex
	notifications map[string]*Notification
	retention     time.Duration
	lastPrune     time.Time
}

// DefaultRetention is how long a sent or failed notification stays
// available to Get, ListByAddress, Retry and Stats.
const DefaultRetention = 24 * time.Hour

// pruneEvery spaces out retention sweeps.
const pruneEvery = time.Minute

// NewManager constructs a Manager whose queue holds up to queueSize
// undelivered notifications.
func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Manager{
		emailSender:   email,
		smsSender:     sms,
		templates:     tpl,
		logger:        logger.With().Str("component", "notification").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
		queue:         make(chan string, queueSize),
		notifications: make(map[string]*Notification),
		retention:     DefaultRetention,
	}
}

// Enqueue renders templateID for one recipient and queues it for delivery.
// An error means the notification was not accepted.
func (m *Manager) Enqueue(_ context.Context, templateID string, to Recipient, data map[string]string) (*Notification, error) {
	ch, addr, err := to.Channel()
	if err != nil {
		return nil, err
	}
	subject, body, err := m.templates.Render(templateID, ch, data)
	if err != nil {
		return nil, err
	}

	n := &Notification{
		ID:           uuid.New().String(),
		Channel:      ch,
		Address:      addr,
		Recipient:    to,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
		Status:       StatusQueued,
		CreatedAt:    m.now(),
	}

	m.mu.Lock()
	m.pruneLocked(n.CreatedAt)
	m.notifications[n.ID] = n
	m.mu.Unlock()

	if err := m.push(n.ID); err != nil {
		m.markFailed(n, err)
		return nil, err
	}
	m.logger.Debug().Str("notification_id", n.ID).Str("template", templateID).Str("channel", string(ch)).Msg("notification queued")
	return n, nil
}

// pruneLocked drops sent and failed notifications older than the retention
// period. Queued ones are kept until delivered. m.mu must be held.
func (m *Manager) pruneLocked(now time.Time) {
	if now.Sub(m.lastPrune) < pruneEvery {
		return
	}
	m.lastPrune = now
	cutoff := now.Add(-m.retention)
	for id, n := range m.notifications {
		settled := n.CreatedAt
		if n.SentAt != nil {
			settled = *n.SentAt
		}
		if n.Status != StatusQueued && settled.Before(cutoff) {
			delete(m.notifications, id)
		}
	}
}

func (m *Manager) push(id string) error {
	select {
	case m.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches workers that deliver queued notifications until ctx is
// cancelled. Call Wait after cancelling to let in-flight sends finish.
func (m *Manager) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-m.queue:
					m.deliver(context.WithoutCancel(ctx), id)
				}
			}
		}()
	}
}

// Wait blocks until every worker started by Start has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Flush delivers everything currently queued on the calling goroutine and
// returns how many notifications it handled.
func (m *Manager) Flush(ctx context.Context) int {
	handled := 0
	for {
		select {
		case id := <-m.queue:
			m.deliver(ctx, id)
			handled++
		default:
			return handled
		}
	}
}

func (m *Manager) deliver(ctx context.Context, id string) {
	m.mu.Lock()
	n, ok := m.notifications[id]
	if ok {
		n.Attempts++
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	var sendErr error
	switch n.Channel {
	case ChannelEmail:
		sendErr = m.emailSender.SendEmail(ctx, n.Address, n.Subject, n.Body)
	case ChannelSMS:
		sendErr = m.smsSender.SendSMS(ctx, n.Address, n.Body)
	default:
		sendErr = fmt.Errorf("unsupported channel: %s", n.Channel)
	}

	if sendErr != nil {
		m.markFailed(n, sendErr)
		m.logger.Error().Err(sendErr).
			Str("notification_id", n.ID).
			Str("channel", string(n.Channel)).
			Str("recipient", hipaa.MaskName(n.Recipient.Name)).
			Msg("notification delivery failed")
		return
	}

	m.mu.Lock()
	sentAt := m.now()
	n.Status = StatusSent
	n.SentAt = &sentAt
	n.Error = ""
	m.mu.Unlock()
}

func (m *Manager) markFailed(n *Notification, err error) {
	m.mu.Lock()
	n.Status = StatusFailed
	n.Error = err.Error()
	m.mu.Unlock()
}

// Get retrieves a copy of a notification by ID.
func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	cp := *n
	return &cp, nil
}

// ListByAddress returns notifications sent to an email address or phone
// number, up to limit.
func (m *Manager) ListByAddress(_ context.Context, address string, limit int) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Notification
	for _, n := range m.notifications {
		if n.Address == address {
			cp := *n
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

// Retry puts a failed notification back on the queue.
func (m *Manager) Retry(_ context.Context, id string) error {
	m.mu.Lock()
	n, ok := m.notifications[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if n.Status != StatusFailed {
		status := n.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: %q is %s", ErrNotRetryable, id, status)
	}
	n.Status = StatusQueued
	n.Error = ""
	m.mu.Unlock()

	if err := m.push(id); err != nil {
		m.markFailed(n, err)
		return err
	}
	return nil
}

// Stats returns counts of notifications grouped by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
