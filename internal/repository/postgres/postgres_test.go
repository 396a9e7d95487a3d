package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestTxManager_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("Commit", func(t *testing.T) {
		db, mock := newMock(t)
		tm := NewTxManager(db)
		repo := NewLoadBalancerRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO processor_usage").WithArgs("p1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.WithTx(ctx, func(ctx context.Context) error {
			return repo.IncrementUsage(ctx, "p1")
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		db, mock := newMock(t)
		tm := NewTxManager(db)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.WithTx(ctx, func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NestedJoinsOuter", func(t *testing.T) {
		db, mock := newMock(t)
		tm := NewTxManager(db)

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := tm.WithTx(ctx, func(ctx context.Context) error {
			return tm.WithTx(ctx, func(ctx context.Context) error { return nil })
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("CreateDuplicateEmail", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAccountRepository(db)
		mock.ExpectExec("INSERT INTO accounts").WillReturnError(&pq.Error{Code: "23505"})

		err := repo.Create(ctx, &domain.Account{Email: "a@example.com"})
		assert.ErrorIs(t, err, domain.ErrEmailInUse)
	})

	t.Run("GetByEmail", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAccountRepository(db)
		rows := sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "phone_number", "password_hash", "is_active", "created_at", "updated_at"}).
			AddRow("acc-1", "a@example.com", "Ann", "Lee", "", "hash", true, now, now)
		mock.ExpectQuery("SELECT .* FROM accounts WHERE LOWER\\(email\\) = LOWER\\(\\$1\\)").
			WithArgs("A@example.com").WillReturnRows(rows)

		a, err := repo.GetByEmail(ctx, "A@example.com")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", a.ID)
		assert.True(t, a.IsActive)
	})

	t.Run("GetByIDNotFound", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewAccountRepository(db)
		mock.ExpectQuery("SELECT .* FROM accounts WHERE id").WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCaseRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCaseRepository(db)

	mock.ExpectQuery("SELECT nextval\\('case_no_seq'\\)").
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(1042)))
	mock.ExpectExec("INSERT INTO cases").WillReturnResult(sqlmock.NewResult(0, 1))

	c := &domain.Case{AccountID: "acc-1", Applicant: domain.Applicant{FirstName: "Ann", LastName: "Lee"}}
	err := repo.Create(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "EXP-0001042", c.CaseNo)
	assert.NotEmpty(t, c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepository_BulkTransition(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCaseRepository(db)
	now := time.Now()
	cutoff := now.AddDate(0, 0, -90)

	mock.ExpectExec("UPDATE cases SET status = \\$1").
		WithArgs("st-expired", nil, now, true, "st-inactive", "", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.BulkTransition(context.Background(), repository.BulkTransition{
		FromStatusID:     "st-inactive",
		OlderThan:        cutoff,
		ToStatusID:       "st-expired",
		MakeInaccessible: true,
		Now:              now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCaseRepository_AppendNotes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCaseRepository(db)

	mock.ExpectExec("UPDATE cases SET notes = notes \\|\\| \\$1::jsonb").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "case-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AppendNotes(context.Background(), "case-1", domain.CaseNote{AutoNote: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCaseRepository_GetByIDForUpdate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCaseRepository(db)

	mock.ExpectQuery("SELECT .+ FROM cases WHERE id = \\$1 FOR UPDATE").
		WithArgs("case-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByIDForUpdate(context.Background(), "case-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepository_SwitchServiceLevel(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCaseRepository(db)

	mock.ExpectExec("UPDATE cases SET service_level_id = \\$1, service_level_updated = TRUE").
		WithArgs("lvl-rush", sqlmock.AnyArg(), "case-1", "lvl-standard", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE cases SET service_level_id = \\$1, service_level_updated = TRUE").
		WithArgs("lvl-rush", sqlmock.AnyArg(), "case-1", "lvl-standard", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, repo.SwitchServiceLevel(ctx, "case-1", "lvl-standard", false, "lvl-rush"))
	err := repo.SwitchServiceLevel(ctx, "case-1", "lvl-standard", false, "lvl-rush")
	assert.ErrorIs(t, err, domain.ErrServiceLevelConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepository_UpdateLeavesNotes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCaseRepository(db)

	mock.ExpectExec("duplicate_case_ids=\\$23, updated_at=\\$24\\s+WHERE id=\\$25$").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &domain.Case{ID: "case-1", Notes: []domain.CaseNote{{AutoNote: "stale copy"}}}
	require.NoError(t, repo.Update(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_ListByCase(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTransactionRepository(db)
	now := time.Now()

	cols := []string{"id", "account_id", "case_id", "order_id", "amount", "card_number", "card_expiry", "type", "status",
		"gateway_transaction_id", "processor_id", "original_transaction_id", "service_fee", "processing_fee",
		"non_refundable_fee", "online_processing_fee", "additional_services_fee", "consular_fee", "promo_discount",
		"returned_amount", "refund_or_void_status", "created_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("t1", "acc-1", "case-1", "case-1-1", 133.90, "************1111", "1229", "casepayment", "captured",
			"gw-1", "p1", "", 100.0, 10.0, 20.0, 3.90, 0.0, 0.0, 0.0, 0.0, "", now)
	mock.ExpectQuery("SELECT .* FROM transactions WHERE case_id = \\$1").WithArgs("case-1").WillReturnRows(rows)

	txs, err := repo.ListByCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionTypeCasePayment, txs[0].Type)
	assert.InDelta(t, 130.0, txs[0].ServiceLevelFees(), 0.001)
}

func TestOfflinePaymentLinkRepository_MarkUsedTwice(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOfflinePaymentLinkRepository(db)

	mock.ExpectExec("UPDATE offline_payment_links").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkUsed(context.Background(), "tok", "case-1", time.Now())
	assert.ErrorIs(t, err, domain.ErrOfflineLinkInvalid)
}

func TestProcessorRepository_UpdateSecondDefault(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProcessorRepository(db)

	mock.ExpectExec("UPDATE processors SET name").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Update(context.Background(), &domain.Processor{ID: "p2", IsDefault: true})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
