package postgres

import (
	"context"
	"database/sql"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/repository"
)

type statusRepository struct {
	db *sql.DB
}

func NewStatusRepository(db *sql.DB) repository.StatusRepository {
	return &statusRepository{db: db}
}

func (r *statusRepository) GetByKey(ctx context.Context, key string) (*domain.Status, error) {
	s := &domain.Status{}
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT id, key, name FROM statuses WHERE key = $1`, key).
		Scan(&s.ID, &s.Key, &s.Name)
	if err != nil {
		return nil, notFound(err, "status "+key)
	}
	return s, nil
}
