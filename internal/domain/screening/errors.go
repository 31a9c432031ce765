package screening

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")

	ErrValidation           = errors.New("validation failed")
	ErrInvalidState         = errors.New("invalid session state")
	ErrNotResolvable        = errors.New("cascade not yet resolvable")
	ErrIntegrationFatal     = errors.New("integration contract violated")
	ErrNotificationDelivery = errors.New("crisis notification delivery failed")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports missing or unknown identifiers. It is shown to the
// user as-is and never retried.
type ValidationError struct {
	Fields []FieldError
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field errors were collected.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidStateError is returned when a complete session is answered or
// completed again.
type InvalidStateError struct {
	SessionID uuid.UUID
	Reason    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Reason)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// NotResolvableError is normal flow control: the account still has
// instruments to complete.
type NotResolvableError struct {
	AccountID   uuid.UUID
	State       CascadeState
	Outstanding []InstrumentID
}

func (e *NotResolvableError) Error() string {
	ids := make([]string, 0, len(e.Outstanding))
	for _, id := range e.Outstanding {
		ids = append(ids, string(id))
	}
	return fmt.Sprintf("cascade for account %s not yet resolvable (%s): outstanding %s",
		e.AccountID, e.State, strings.Join(ids, ", "))
}

func (e *NotResolvableError) Is(target error) bool { return target == ErrNotResolvable }

// IntegrationFatalError means a caller broke the cascade contract, for
// example by finishing a cascade whose depth sessions are incomplete.
type IntegrationFatalError struct {
	AccountID uuid.UUID
	Reason    string
	Err       error
}

func (e *IntegrationFatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integration fatal for account %s: %s: %v", e.AccountID, e.Reason, e.Err)
	}
	return fmt.Sprintf("integration fatal for account %s: %s", e.AccountID, e.Reason)
}

func (e *IntegrationFatalError) Unwrap() error { return e.Err }

func (e *IntegrationFatalError) Is(target error) bool { return target == ErrIntegrationFatal }

// ContactFailure records one crisis contact that could not be enqueued.
type ContactFailure struct {
	ContactID uuid.UUID
	Err       error
}

// NotificationDeliveryError means a crisis alert may not have reached a
// human. The clinical result it relates to is already committed.
type NotificationDeliveryError struct {
	AccountID uuid.UUID
	Attempted int
	Failed    []ContactFailure
	Err       error
}

func (e *NotificationDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crisis notification for account %s failed: %v", e.AccountID, e.Err)
	}
	return fmt.Sprintf("crisis notification for account %s failed for %d of %d contacts",
		e.AccountID, len(e.Failed), e.Attempted)
}

func (e *NotificationDeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *NotificationDeliveryError) Is(target error) bool { return target == ErrNotificationDelivery }
