package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const DefaultLocale = "en-US"

// PhoneNormalizer rewrites a phone number into E.164.
type PhoneNormalizer interface {
	Normalize(number string) (string, bool)
}

// Service is the account and institution lookup used by screening and the
// crisis notifier. Institution and account management beyond seeding lives
// outside this service. Phone numbers are stored in E.164.
type Service struct {
	repo   Repository
	phones PhoneNormalizer
}

func NewService(repo Repository, phones PhoneNormalizer) *Service {
	return &Service{repo: repo, phones: phones}
}

func (s *Service) CreateInstitution(ctx context.Context, inst *Institution) error {
	inst.Name = strings.TrimSpace(inst.Name)
	if inst.Name == "" {
		return fmt.Errorf("name is required")
	}
	if inst.Locale == "" {
		inst.Locale = DefaultLocale
	}
	return s.repo.CreateInstitution(ctx, inst)
}

func (s *Service) CreateAccount(ctx context.Context, a *Account) error {
	if a.InstitutionID == uuid.Nil {
		return fmt.Errorf("institution_id is required")
	}
	phone, err := s.normalizePhone(a.PhoneNumber)
	if err != nil {
		return err
	}
	a.PhoneNumber = phone
	if a.Locale == "" {
		a.Locale = DefaultLocale
	}
	return s.repo.CreateAccount(ctx, a)
}

func (s *Service) CreateCrisisContact(ctx context.Context, c *CrisisContact) error {
	if c.InstitutionID == uuid.Nil {
		return fmt.Errorf("institution_id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !c.Reachable() {
		return fmt.Errorf("email_address or phone_number is required")
	}
	phone, err := s.normalizePhone(c.PhoneNumber)
	if err != nil {
		return err
	}
	c.PhoneNumber = phone
	if c.Locale == "" {
		c.Locale = DefaultLocale
	}
	return s.repo.CreateCrisisContact(ctx, c)
}

// normalizePhone returns the E.164 form of a non-blank number. A blank
// number becomes nil.
func (s *Service) normalizePhone(number *string) (*string, error) {
	if !nonBlank(number) {
		return nil, nil
	}
	e164, ok := s.phones.Normalize(*number)
	if !ok {
		return nil, fmt.Errorf("phone_number is not a valid phone number")
	}
	return &e164, nil
}

func (s *Service) FindAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("account id is required")
	}
	return s.repo.GetAccount(ctx, id)
}

func (s *Service) FindInstitution(ctx context.Context, id uuid.UUID) (*Institution, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("institution id is required")
	}
	return s.repo.GetInstitution(ctx, id)
}

// FindActiveCrisisContacts returns the institution's active contacts. An
// empty list is not an error.
func (s *Service) FindActiveCrisisContacts(ctx context.Context, institutionID uuid.UUID) ([]*CrisisContact, error) {
	if institutionID == uuid.Nil {
		return nil, fmt.Errorf("institution id is required")
	}
	return s.repo.ListActiveCrisisContacts(ctx, institutionID)
}
