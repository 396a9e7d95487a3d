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

type processorRepository struct {
	db *sql.DB
}

func NewProcessorRepository(db *sql.DB) repository.ProcessorRepository {
	return &processorRepository{db: db}
}

const processorColumns = `id, name, encrypted_username, encrypted_password, encrypted_security_key,
	is_active, is_default, is_deleted, transaction_limit, created_at, updated_at`

func (r *processorRepository) Create(ctx context.Context, p *domain.Processor) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	query := `INSERT INTO processors (` + processorColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	logger.DatabaseCall("INSERT", "processors", "name", p.Name)
	_, err := conn(ctx, r.db).ExecContext(ctx, query, p.ID, p.Name, p.EncryptedUsername, p.EncryptedPassword,
		p.EncryptedSecurityKey, p.IsActive, p.IsDefault, p.IsDeleted, p.TransactionLimit, p.CreatedAt, p.UpdatedAt)
	logger.DatabaseResult("INSERT", 1, err)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: another processor is already default", domain.ErrValidation)
	}
	return err
}

func (r *processorRepository) GetByID(ctx context.Context, id string) (*domain.Processor, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+processorColumns+` FROM processors WHERE id = $1`, id)
	p, err := scanProcessor(row)
	if err != nil {
		return nil, notFound(err, "processor")
	}
	return p, nil
}

func (r *processorRepository) Update(ctx context.Context, p *domain.Processor) error {
	p.UpdatedAt = time.Now().UTC()
	query := `UPDATE processors SET name=$1, encrypted_username=$2, encrypted_password=$3, encrypted_security_key=$4,
		is_active=$5, is_default=$6, is_deleted=$7, transaction_limit=$8, updated_at=$9 WHERE id=$10`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, p.Name, p.EncryptedUsername, p.EncryptedPassword,
		p.EncryptedSecurityKey, p.IsActive, p.IsDefault, p.IsDeleted, p.TransactionLimit, p.UpdatedAt, p.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: another processor is already default", domain.ErrValidation)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("processor %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *processorRepository) List(ctx context.Context) ([]domain.Processor, error) {
	return r.list(ctx, `SELECT `+processorColumns+` FROM processors WHERE NOT is_deleted ORDER BY created_at`)
}

func (r *processorRepository) ListActive(ctx context.Context) ([]domain.Processor, error) {
	return r.list(ctx, `SELECT `+processorColumns+` FROM processors WHERE is_active AND NOT is_deleted ORDER BY created_at`)
}

func (r *processorRepository) GetDefault(ctx context.Context) (*domain.Processor, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+processorColumns+` FROM processors WHERE is_default AND NOT is_deleted LIMIT 1`)
	p, err := scanProcessor(row)
	if err != nil {
		return nil, notFound(err, "default processor")
	}
	return p, nil
}

func (r *processorRepository) ClearDefault(ctx context.Context, exceptID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE processors SET is_default = FALSE, updated_at = $1 WHERE is_default AND id <> $2`, time.Now().UTC(), exceptID)
	return err
}

func (r *processorRepository) list(ctx context.Context, query string) ([]domain.Processor, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Processor
	for rows.Next() {
		p, err := scanProcessor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProcessor(row rowScanner) (*domain.Processor, error) {
	p := &domain.Processor{}
	err := row.Scan(&p.ID, &p.Name, &p.EncryptedUsername, &p.EncryptedPassword, &p.EncryptedSecurityKey,
		&p.IsActive, &p.IsDefault, &p.IsDeleted, &p.TransactionLimit, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}
