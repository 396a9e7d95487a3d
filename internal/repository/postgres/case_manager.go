package postgres

import (
	"context"
	"database/sql"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/repository"
)

type caseManagerRepository struct {
	db *sql.DB
}

func NewCaseManagerRepository(db *sql.DB) repository.CaseManagerRepository {
	return &caseManagerRepository{db: db}
}

func (r *caseManagerRepository) LeastLoaded(ctx context.Context) (*domain.CaseManager, error) {
	m := &domain.CaseManager{}
	query := `SELECT m.id, m.name, m.email FROM case_managers m
		LEFT JOIN cases c ON c.case_manager_id = m.id AND c.is_accessible
		WHERE m.is_active
		GROUP BY m.id, m.name, m.email
		ORDER BY COUNT(c.id), m.id
		LIMIT 1`
	err := conn(ctx, r.db).QueryRowContext(ctx, query).Scan(&m.ID, &m.Name, &m.Email)
	if err != nil {
		return nil, notFound(err, "case manager")
	}
	return m, nil
}

func (r *caseManagerRepository) GetByID(ctx context.Context, id string) (*domain.CaseManager, error) {
	m := &domain.CaseManager{}
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT id, name, email FROM case_managers WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Email)
	if err != nil {
		return nil, notFound(err, "case manager")
	}
	return m, nil
}
