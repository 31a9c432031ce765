// Package alert reports conditions that need an operator's attention but
// must not fail the request that surfaced them.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindNoCrisisContacts     Kind = "no_crisis_contacts"
	KindNotificationDelivery Kind = "notification_delivery"
	KindIntegrationFatal     Kind = "integration_fatal"
)

// Alert carries no PHI: identify accounts by id only.
type Alert struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
	At      time.Time
}

// Text renders the alert as a short plain-text message.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", a.Kind, a.Message)
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, a.Fields[k])
	}
	if a.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", a.Err)
	}
	return b.String()
}

// Reporter delivers alerts. Implementations log their own failures and
// never return them.
type Reporter interface {
	Report(ctx context.Context, a Alert)
}

type LogReporter struct {
	logger zerolog.Logger
}

func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "alert").Logger()}
}

func (r *LogReporter) Report(_ context.Context, a Alert) {
	ev := r.logger.Error().Str("alert", string(a.Kind))
	for k, v := range a.Fields {
		ev = ev.Str(k, v)
	}
	if a.Err != nil {
		ev = ev.Err(a.Err)
	}
	ev.Msg(a.Message)
}

// Multi fans an alert out to every reporter in order.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, a Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	for _, r := range m {
		r.Report(ctx, a)
	}
}
