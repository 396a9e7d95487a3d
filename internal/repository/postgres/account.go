package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/repository"

	"github.com/google/uuid"
)

type accountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) repository.AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, email, first_name, last_name, phone_number, password_hash, is_active, created_at, updated_at`

func (r *accountRepository) Create(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	query := `INSERT INTO accounts (` + accountColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	logger.DatabaseCall("INSERT", "accounts", "email", a.Email)
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		a.ID, a.Email, a.FirstName, a.LastName, a.PhoneNumber, a.PasswordHash, a.IsActive, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrEmailInUse, a.Email)
	}
	logger.DatabaseResult("INSERT", 1, err)
	return err
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(conn(ctx, r.db).QueryRowContext(ctx, query, id))
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`
	return scanAccount(conn(ctx, r.db).QueryRowContext(ctx, query, email))
}

func (r *accountRepository) Update(ctx context.Context, a *domain.Account) error {
	a.UpdatedAt = time.Now().UTC()
	query := `UPDATE accounts SET email=$1, first_name=$2, last_name=$3, phone_number=$4, password_hash=$5, is_active=$6, updated_at=$7 WHERE id=$8`
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		a.Email, a.FirstName, a.LastName, a.PhoneNumber, a.PasswordHash, a.IsActive, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.PhoneNumber, &a.PasswordHash, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "account")
	}
	return a, nil
}
