package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/logger"
	"expedite-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type caseRepository struct {
	db *sql.DB
}

func NewCaseRepository(db *sql.DB) repository.CaseRepository {
	return &caseRepository{db: db}
}

const caseColumns = `id, case_no, account_id, COALESCE(contingent_case_id, ''), first_name, last_name, email, phone_number,
	date_of_birth, service_type_id, service_level_id, citizenship_country, destination_country,
	COALESCE(case_manager_id, ''), COALESCE(status, ''), COALESCE(sub_status1, ''), COALESCE(sub_status2, ''), status_date,
	COALESCE(payment_processor_id, ''), invoice_information, additional_services, service_level_updated, is_accessible,
	submission_date, duplicate_case_ids, notes, created_at, updated_at`

func (r *caseRepository) Create(ctx context.Context, c *domain.Case) error {
	db := conn(ctx, r.db)
	var seq int64
	if err := db.QueryRowContext(ctx, `SELECT nextval('case_no_seq')`).Scan(&seq); err != nil {
		return fmt.Errorf("next case number: %w", err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CaseNo = fmt.Sprintf("EXP-%07d", seq)
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.StatusDate.IsZero() {
		c.StatusDate = now
	}

	invoice, additional, notes, err := marshalCaseJSON(c)
	if err != nil {
		return err
	}

	query := `INSERT INTO cases (id, case_no, account_id, contingent_case_id, first_name, last_name, email, phone_number,
		date_of_birth, service_type_id, service_level_id, citizenship_country, destination_country, case_manager_id,
		status, sub_status1, sub_status2, status_date, payment_processor_id, invoice_information, additional_services,
		service_level_updated, is_accessible, submission_date, duplicate_case_ids, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`
	logger.DatabaseCall("INSERT", "cases", "case_no", c.CaseNo)
	_, err = db.ExecContext(ctx, query,
		c.ID, c.CaseNo, c.AccountID, nullString(c.ContingentCaseID), c.Applicant.FirstName, c.Applicant.LastName,
		c.Applicant.Email, c.Applicant.PhoneNumber, c.Applicant.DateOfBirth, c.ServiceTypeID, c.ServiceLevelID,
		c.CitizenshipCountry, c.DestinationCountry, nullString(c.CaseManagerID), nullString(c.Status),
		nullString(c.SubStatus1), nullString(c.SubStatus2), c.StatusDate, nullString(c.PaymentProcessorID),
		invoice, additional, c.ServiceLevelUpdated, c.IsAccessible, c.SubmissionDate,
		pq.Array(nonNil(c.DuplicateCaseIDs)), notes, c.CreatedAt, c.UpdatedAt)
	logger.DatabaseResult("INSERT", 1, err)
	return err
}

func (r *caseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	return r.getOne(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
}

func (r *caseRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Case, error) {
	return r.getOne(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id)
}

func (r *caseRepository) GetByCaseNo(ctx context.Context, caseNo string) (*domain.Case, error) {
	return r.getOne(ctx, `SELECT `+caseColumns+` FROM cases WHERE case_no = $1`, caseNo)
}

func (r *caseRepository) FindByContingentID(ctx context.Context, contingentID string) (*domain.Case, error) {
	return r.getOne(ctx, `SELECT `+caseColumns+` FROM cases WHERE contingent_case_id = $1 ORDER BY created_at DESC LIMIT 1`, contingentID)
}

func (r *caseRepository) FindByIdentity(ctx context.Context, id domain.CaseIdentity) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases
		WHERE LOWER(first_name) = LOWER($1) AND LOWER(last_name) = LOWER($2) AND date_of_birth = $3
		AND LOWER(email) = LOWER($4) AND service_type_id = $5 AND citizenship_country = $6 AND destination_country = $7
		ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, id.Applicant.FirstName, id.Applicant.LastName, id.Applicant.DateOfBirth,
		id.Applicant.Email, id.ServiceTypeID, id.CitizenshipCountry, id.DestinationCountry)
}

func (r *caseRepository) FindPotentialDuplicates(ctx context.Context, a domain.Applicant, excludeCaseID string) ([]string, error) {
	query := `SELECT id FROM cases
		WHERE LOWER(first_name) = LOWER($1) AND LOWER(last_name) = LOWER($2) AND date_of_birth = $3 AND id <> $4
		ORDER BY created_at`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, a.FirstName, a.LastName, a.DateOfBirth, excludeCaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *caseRepository) Update(ctx context.Context, c *domain.Case) error {
	c.UpdatedAt = time.Now().UTC()
	invoice, additional, _, err := marshalCaseJSON(c)
	if err != nil {
		return err
	}
	query := `UPDATE cases SET account_id=$1, contingent_case_id=$2, first_name=$3, last_name=$4, email=$5, phone_number=$6,
		date_of_birth=$7, service_type_id=$8, service_level_id=$9, citizenship_country=$10, destination_country=$11,
		case_manager_id=$12, status=$13, sub_status1=$14, sub_status2=$15, status_date=$16, payment_processor_id=$17,
		invoice_information=$18, additional_services=$19, service_level_updated=$20, is_accessible=$21,
		submission_date=$22, duplicate_case_ids=$23, updated_at=$24
		WHERE id=$25`
	logger.DatabaseCall("UPDATE", "cases", "case_id", c.ID)
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		c.AccountID, nullString(c.ContingentCaseID), c.Applicant.FirstName, c.Applicant.LastName, c.Applicant.Email,
		c.Applicant.PhoneNumber, c.Applicant.DateOfBirth, c.ServiceTypeID, c.ServiceLevelID, c.CitizenshipCountry,
		c.DestinationCountry, nullString(c.CaseManagerID), nullString(c.Status), nullString(c.SubStatus1),
		nullString(c.SubStatus2), c.StatusDate, nullString(c.PaymentProcessorID), invoice, additional,
		c.ServiceLevelUpdated, c.IsAccessible, c.SubmissionDate, pq.Array(nonNil(c.DuplicateCaseIDs)),
		c.UpdatedAt, c.ID)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err)
		return err
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, nil)
	if n == 0 {
		return fmt.Errorf("case %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *caseRepository) SwitchServiceLevel(ctx context.Context, caseID, fromLevelID string, wasUpdated bool, toLevelID string) error {
	query := `UPDATE cases SET service_level_id = $1, service_level_updated = TRUE, updated_at = $2
		WHERE id = $3 AND service_level_id = $4 AND service_level_updated = $5`
	logger.DatabaseCall("UPDATE", "cases service level", "case_id", caseID, "from", fromLevelID, "to", toLevelID)
	res, err := conn(ctx, r.db).ExecContext(ctx, query, toLevelID, time.Now().UTC(), caseID, fromLevelID, wasUpdated)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err)
		return err
	}
	n, _ := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, nil)
	if n == 0 {
		return fmt.Errorf("case %s: %w", caseID, domain.ErrServiceLevelConflict)
	}
	return nil
}

// AppendNotes uses JSONB concatenation so concurrent writers never drop each other's notes.
func (r *caseRepository) AppendNotes(ctx context.Context, caseID string, notes ...domain.CaseNote) error {
	if len(notes) == 0 {
		return nil
	}
	payload, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE cases SET notes = notes || $1::jsonb, updated_at = $2 WHERE id = $3`, payload, time.Now().UTC(), caseID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s: %w", caseID, domain.ErrNotFound)
	}
	return nil
}

func (r *caseRepository) BulkTransition(ctx context.Context, t repository.BulkTransition) (int64, error) {
	query := `UPDATE cases SET status = $1, sub_status1 = $2, status_date = $3, updated_at = $3,
		is_accessible = CASE WHEN $4::boolean THEN FALSE ELSE is_accessible END
		WHERE status = $5 AND COALESCE(sub_status1, '') = $6 AND status_date < $7`
	logger.DatabaseCall("UPDATE", "cases bulk transition", "from", t.FromStatusID, "to", t.ToStatusID)
	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		t.ToStatusID, nullString(t.ToSubStatusID), t.Now, t.MakeInaccessible, t.FromStatusID, t.FromSubStatusID, t.OlderThan)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err)
		return 0, err
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("UPDATE", n, err)
	return n, err
}

func (r *caseRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Case, error) {
	c := &domain.Case{}
	var invoice, additional, notes []byte
	var submission sql.NullTime
	var duplicates pq.StringArray
	err := conn(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&c.ID, &c.CaseNo, &c.AccountID, &c.ContingentCaseID, &c.Applicant.FirstName, &c.Applicant.LastName,
		&c.Applicant.Email, &c.Applicant.PhoneNumber, &c.Applicant.DateOfBirth, &c.ServiceTypeID, &c.ServiceLevelID,
		&c.CitizenshipCountry, &c.DestinationCountry, &c.CaseManagerID, &c.Status, &c.SubStatus1, &c.SubStatus2,
		&c.StatusDate, &c.PaymentProcessorID, &invoice, &additional, &c.ServiceLevelUpdated, &c.IsAccessible,
		&submission, &duplicates, &notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "case")
	}
	if submission.Valid {
		t := submission.Time
		c.SubmissionDate = &t
	}
	c.DuplicateCaseIDs = duplicates
	if err := json.Unmarshal(invoice, &c.InvoiceInformation); err != nil {
		return nil, fmt.Errorf("decode invoice_information: %w", err)
	}
	if err := json.Unmarshal(additional, &c.AdditionalServices); err != nil {
		return nil, fmt.Errorf("decode additional_services: %w", err)
	}
	if err := json.Unmarshal(notes, &c.Notes); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return c, nil
}

func marshalCaseJSON(c *domain.Case) (invoice, additional, notes []byte, err error) {
	if invoice, err = json.Marshal(nonNil(c.InvoiceInformation)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode invoice_information: %w", err)
	}
	if additional, err = json.Marshal(nonNil(c.AdditionalServices)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode additional_services: %w", err)
	}
	if notes, err = json.Marshal(nonNil(c.Notes)); err != nil {
		return nil, nil, nil, fmt.Errorf("encode notes: %w", err)
	}
	return invoice, additional, notes, nil
}

// nonNil keeps empty sequences encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
