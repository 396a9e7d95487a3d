package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/repository"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
	repository.TxManager
	Accounts     repository.AccountRepository
	Cases        repository.CaseRepository
	Transactions repository.TransactionRepository
	Processors   repository.ProcessorRepository
	LoadBalancer repository.LoadBalancerRepository
	Catalog      repository.CatalogRepository
	Statuses     repository.StatusRepository
	OfflineLinks repository.OfflinePaymentLinkRepository
	PaymentAudit repository.PaymentAuditRepository
	CaseManagers repository.CaseManagerRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		TxManager:    NewTxManager(db),
		Accounts:     NewAccountRepository(db),
		Cases:        NewCaseRepository(db),
		Transactions: NewTransactionRepository(db),
		Processors:   NewProcessorRepository(db),
		LoadBalancer: NewLoadBalancerRepository(db),
		Catalog:      NewCatalogRepository(db),
		Statuses:     NewStatusRepository(db),
		OfflineLinks: NewOfflinePaymentLinkRepository(db),
		PaymentAudit: NewPaymentAuditRepository(db),
		CaseManagers: NewCaseManagerRepository(db),
	}
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// DBTX is the subset of *sql.DB and *sql.Tx the repositories use.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

type txManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) repository.TxManager {
	return &txManager{db: db}
}

func (m *txManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	logger.DatabaseCall("BEGIN", "")
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Rollback failed", "error", rbErr)
		}
		logger.DatabaseResult("ROLLBACK", 0, nil)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	logger.DatabaseResult("COMMIT", 0, nil)
	return nil
}

// notFound maps sql.ErrNoRows onto the domain sentinel.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
