package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type Repository interface {
	CreateInstitution(ctx context.Context, inst *Institution) error
	GetInstitution(ctx context.Context, id uuid.UUID) (*Institution, error)

	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	CreateCrisisContact(ctx context.Context, c *CrisisContact) error
	ListActiveCrisisContacts(ctx context.Context, institutionID uuid.UUID) ([]*CrisisContact, error)
}
