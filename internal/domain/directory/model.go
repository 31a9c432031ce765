package directory

import (
	"time"

	"github.com/google/uuid"
)

// Institution groups accounts and owns the crisis contact list.
type Institution struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Locale    string    `db:"locale" json:"locale"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Account struct {
	ID            uuid.UUID `db:"id" json:"id"`
	InstitutionID uuid.UUID `db:"institution_id" json:"institution_id"`
	DisplayName   *string   `db:"display_name" json:"display_name,omitempty"`
	EmailAddress  *string   `db:"email_address" json:"email_address,omitempty"`
	PhoneNumber   *string   `db:"phone_number" json:"phone_number,omitempty"`
	Locale        string    `db:"locale" json:"locale"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// CrisisContact is someone notified when an account's screening signals
// acute risk. Only active contacts are notified.
type CrisisContact struct {
	ID            uuid.UUID `db:"id" json:"id"`
	InstitutionID uuid.UUID `db:"institution_id" json:"institution_id"`
	Name          string    `db:"name" json:"name"`
	EmailAddress  *string   `db:"email_address" json:"email_address,omitempty"`
	PhoneNumber   *string   `db:"phone_number" json:"phone_number,omitempty"`
	Locale        string    `db:"locale" json:"locale"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Reachable reports whether the contact has an email or phone to send to.
func (c *CrisisContact) Reachable() bool {
	return nonBlank(c.EmailAddress) || nonBlank(c.PhoneNumber)
}

func nonBlank(s *string) bool {
	return s != nil && *s != ""
}
