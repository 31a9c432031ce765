package screening

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/directory"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/alert"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/locale"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/notification"
)

type AccountDirectory interface {
	FindAccount(ctx context.Context, id uuid.UUID) (*directory.Account, error)
}

type InstitutionDirectory interface {
	FindInstitution(ctx context.Context, id uuid.UUID) (*directory.Institution, error)
	FindActiveCrisisContacts(ctx context.Context, institutionID uuid.UUID) ([]*directory.CrisisContact, error)
}

// Messenger accepts a rendered notification for later delivery.
type Messenger interface {
	Enqueue(ctx context.Context, templateID string, to notification.Recipient, data map[string]string) (*notification.Notification, error)
}

type PhoneFormatter interface {
	Format(number, locale string) string
}

// Notifier is what FinishCascade calls when a result signals crisis.
type Notifier interface {
	NotifyCrisis(ctx context.Context, accountID uuid.UUID, result *CascadeResult) error
}

// CrisisNotifier alerts an institution's active crisis contacts.
type CrisisNotifier struct {
	accounts     AccountDirectory
	institutions InstitutionDirectory
	messages     Messenger
	phones       PhoneFormatter
	alerts       alert.Reporter
	catalog      *Catalog
	logger       zerolog.Logger
}

func NewCrisisNotifier(
	accounts AccountDirectory,
	institutions InstitutionDirectory,
	messages Messenger,
	phones PhoneFormatter,
	alerts alert.Reporter,
	catalog *Catalog,
	logger zerolog.Logger,
) *CrisisNotifier {
	return &CrisisNotifier{
		accounts:     accounts,
		institutions: institutions,
		messages:     messages,
		phones:       phones,
		alerts:       alerts,
		catalog:      catalog,
		logger:       logger.With().Str("component", "crisis_notifier").Logger(),
	}
}

// NotifyCrisis enqueues one alert per active crisis contact of the
// account's institution. An institution without contacts is reported to
// operations and is not an error. Any lookup or enqueue failure is returned
// as a *NotificationDeliveryError after every contact has been attempted.
func (n *CrisisNotifier) NotifyCrisis(ctx context.Context, accountID uuid.UUID, result *CascadeResult) error {
	account, err := n.accounts.FindAccount(ctx, accountID)
	if err != nil {
		return &NotificationDeliveryError{AccountID: accountID, Err: fmt.Errorf("find account: %w", err)}
	}
	institution, err := n.institutions.FindInstitution(ctx, account.InstitutionID)
	if err != nil {
		return &NotificationDeliveryError{AccountID: accountID, Err: fmt.Errorf("find institution: %w", err)}
	}
	contacts, err := n.institutions.FindActiveCrisisContacts(ctx, institution.ID)
	if err != nil {
		return &NotificationDeliveryError{AccountID: accountID, Err: fmt.Errorf("find crisis contacts: %w", err)}
	}

	if len(contacts) == 0 {
		n.logger.Error().
			Str("account_id", accountID.String()).
			Str("institution_id", institution.ID.String()).
			Msg("crisis detected but institution has no active crisis contacts")
		n.alerts.Report(ctx, alert.Alert{
			Kind:    alert.KindNoCrisisContacts,
			Message: "crisis detected but institution has no active crisis contacts",
			Fields: map[string]string{
				"account_id":     accountID.String(),
				"institution_id": institution.ID.String(),
			},
		})
		return nil
	}

	data := n.summarize(account, institution.Locale, result)
	var failed []ContactFailure
	for _, c := range contacts {
		to := notification.Recipient{
			Name:   c.Name,
			Email:  deref(c.EmailAddress),
			Phone:  deref(c.PhoneNumber),
			Locale: c.Locale,
		}
		if _, err := n.messages.Enqueue(ctx, notification.CrisisAlertTemplate, to, data); err != nil {
			failed = append(failed, ContactFailure{ContactID: c.ID, Err: err})
		}
	}

	n.logger.Info().
		Str("account_id", accountID.String()).
		Int("contacts", len(contacts)).
		Int("failed", len(failed)).
		Msg("crisis notifications enqueued")

	if len(failed) > 0 {
		return &NotificationDeliveryError{AccountID: accountID, Attempted: len(contacts), Failed: failed}
	}
	return nil
}

// summarize builds the template data shared by every contact's message.
func (n *CrisisNotifier) summarize(account *directory.Account, loc string, result *CascadeResult) map[string]string {
	name := strings.TrimSpace(deref(account.DisplayName))
	if name == "" {
		name = locale.Translate(loc, locale.AnonymousUser)
	}
	email := strings.TrimSpace(deref(account.EmailAddress))
	if email == "" {
		email = locale.Translate(loc, locale.NoEmail)
	}

	lines := []string{n.summaryLine(&result.Screener)}
	for _, ir := range result.DepthResults() {
		lines = append(lines, n.summaryLine(ir))
	}

	return map[string]string{
		"account_id":         account.ID.String(),
		"account_name":       name,
		"account_email":      email,
		"account_phone":      n.phones.Format(deref(account.PhoneNumber), loc),
		"recommendation":     result.Recommendation.String(),
		"instrument_summary": strings.Join(lines, "\n"),
	}
}

func (n *CrisisNotifier) summaryLine(ir *InstrumentResult) string {
	name := string(ir.Instrument)
	if inst, ok := n.catalog.Instrument(ir.Instrument); ok {
		name = inst.Name
	}
	line := fmt.Sprintf("- %s: score %d, answers %s", name, ir.Score, ir.AnswerSummary)
	if ir.Level != LevelUnknown {
		line += ", " + ir.Level.String()
	}
	if ir.Crisis {
		line += " (crisis answer)"
	}
	return line
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
