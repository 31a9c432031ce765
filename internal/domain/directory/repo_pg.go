package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.PGConn(ctx, r.pool)
}

const (
	institutionCols = `id, name, locale, created_at`
	accountCols     = `id, institution_id, display_name, email_address, phone_number, locale, created_at`
	contactCols     = `id, institution_id, name, email_address, phone_number, locale, active, created_at`
)

func (r *repoPG) CreateInstitution(ctx context.Context, inst *Institution) error {
	stamp(&inst.ID, &inst.CreatedAt)
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO institution (`+institutionCols+`) VALUES ($1, $2, $3, $4)`,
		inst.ID, inst.Name, inst.Locale, inst.CreatedAt)
	if err != nil {
		return fmt.Errorf("create institution: %w", err)
	}
	return nil
}

func (r *repoPG) GetInstitution(ctx context.Context, id uuid.UUID) (*Institution, error) {
	var inst Institution
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+institutionCols+` FROM institution WHERE id = $1`, id).
		Scan(&inst.ID, &inst.Name, &inst.Locale, &inst.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &inst, nil
}

func (r *repoPG) CreateAccount(ctx context.Context, a *Account) error {
	stamp(&a.ID, &a.CreatedAt)
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO account (`+accountCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.InstitutionID, a.DisplayName, a.EmailAddress, a.PhoneNumber, a.Locale, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *repoPG) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a Account
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+` FROM account WHERE id = $1`, id).
		Scan(&a.ID, &a.InstitutionID, &a.DisplayName, &a.EmailAddress, &a.PhoneNumber, &a.Locale, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *repoPG) CreateCrisisContact(ctx context.Context, c *CrisisContact) error {
	stamp(&c.ID, &c.CreatedAt)
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO crisis_contact (`+contactCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.InstitutionID, c.Name, c.EmailAddress, c.PhoneNumber, c.Locale, c.Active, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create crisis contact: %w", err)
	}
	return nil
}

func (r *repoPG) ListActiveCrisisContacts(ctx context.Context, institutionID uuid.UUID) ([]*CrisisContact, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+contactCols+` FROM crisis_contact
		WHERE institution_id = $1 AND active
		ORDER BY name, id`, institutionID)
	if err != nil {
		return nil, fmt.Errorf("list crisis contacts: %w", err)
	}
	defer rows.Close()

	var items []*CrisisContact
	for rows.Next() {
		var c CrisisContact
		if err := rows.Scan(&c.ID, &c.InstitutionID, &c.Name, &c.EmailAddress, &c.PhoneNumber,
			&c.Locale, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func stamp(id *uuid.UUID, createdAt *time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
}
