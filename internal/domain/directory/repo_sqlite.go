package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
)

type repoSQLite struct {
	db *sql.DB
}

func NewRepoSQLite(sqlDB *sql.DB) Repository {
	return &repoSQLite{db: sqlDB}
}

func (r *repoSQLite) conn(ctx context.Context) db.SQLQuerier {
	return db.SQLConn(ctx, r.db)
}

func (r *repoSQLite) CreateInstitution(ctx context.Context, inst *Institution) error {
	stamp(&inst.ID, &inst.CreatedAt)
	_, err := r.conn(ctx).ExecContext(ctx,
		`INSERT INTO institution (`+institutionCols+`) VALUES (?, ?, ?, ?)`,
		inst.ID.String(), inst.Name, inst.Locale, inst.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create institution: %w", err)
	}
	return nil
}

func (r *repoSQLite) GetInstitution(ctx context.Context, id uuid.UUID) (*Institution, error) {
	var inst Institution
	err := r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+institutionCols+` FROM institution WHERE id = ?`, id.String()).
		Scan(&inst.ID, &inst.Name, &inst.Locale, &inst.CreatedAt)
	if err != nil {
		return nil, sqlNotFound(err)
	}
	return &inst, nil
}

func (r *repoSQLite) CreateAccount(ctx context.Context, a *Account) error {
	stamp(&a.ID, &a.CreatedAt)
	_, err := r.conn(ctx).ExecContext(ctx,
		`INSERT INTO account (`+accountCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.InstitutionID.String(), a.DisplayName, a.EmailAddress, a.PhoneNumber, a.Locale, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *repoSQLite) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a Account
	err := r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM account WHERE id = ?`, id.String()).
		Scan(&a.ID, &a.InstitutionID, &a.DisplayName, &a.EmailAddress, &a.PhoneNumber, &a.Locale, &a.CreatedAt)
	if err != nil {
		return nil, sqlNotFound(err)
	}
	return &a, nil
}

func (r *repoSQLite) CreateCrisisContact(ctx context.Context, c *CrisisContact) error {
	stamp(&c.ID, &c.CreatedAt)
	_, err := r.conn(ctx).ExecContext(ctx,
		`INSERT INTO crisis_contact (`+contactCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.InstitutionID.String(), c.Name, c.EmailAddress, c.PhoneNumber, c.Locale, c.Active, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create crisis contact: %w", err)
	}
	return nil
}

func (r *repoSQLite) ListActiveCrisisContacts(ctx context.Context, institutionID uuid.UUID) ([]*CrisisContact, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, `
		SELECT `+contactCols+` FROM crisis_contact
		WHERE institution_id = ? AND active = 1
		ORDER BY name, id`, institutionID.String())
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

func sqlNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
