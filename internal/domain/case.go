package domain

import (
	"strings"
	"time"
)

// InvoiceLineItem is one priced entry of a case invoice. Discounts and refunds are negative.
type InvoiceLineItem struct {
	Service string  `json:"service"`
	Price   float64 `json:"price"`
}

// CaseNote is an entry of the case audit trail. AutoNote may contain simple markup.
type CaseNote struct {
	ManualNote string    `json:"manualNote"`
	AutoNote   string    `json:"autoNote"`
	Host       string    `json:"host"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Applicant identifies the person a case is filed for.
type Applicant struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	DateOfBirth string `json:"date_of_birth"` // yyyy-mm-dd
}

// CaseIdentity is the tuple used to find an existing case before creating a new one.
type CaseIdentity struct {
	Applicant          Applicant
	ServiceTypeID      string
	CitizenshipCountry string
	DestinationCountry string
}

type Case struct {
	ID                  string            `json:"id"`
	CaseNo              string            `json:"case_no"`
	AccountID           string            `json:"account_id"`
	ContingentCaseID    string            `json:"contingent_case_id,omitempty"`
	Applicant           Applicant         `json:"applicant"`
	ServiceTypeID       string            `json:"service_type_id"`
	ServiceLevelID      string            `json:"service_level_id"`
	CitizenshipCountry  string            `json:"citizenship_country"`
	DestinationCountry  string            `json:"destination_country"`
	CaseManagerID       string            `json:"case_manager_id,omitempty"`
	Status              string            `json:"status"`
	SubStatus1          string            `json:"sub_status1,omitempty"`
	SubStatus2          string            `json:"sub_status2,omitempty"`
	StatusDate          time.Time         `json:"status_date"`
	PaymentProcessorID  string            `json:"payment_processor_id,omitempty"`
	InvoiceInformation  []InvoiceLineItem `json:"invoice_information"`
	AdditionalServices  []InvoiceLineItem `json:"additional_services"`
	ServiceLevelUpdated bool              `json:"service_level_updated"`
	IsAccessible        bool              `json:"is_accessible"`
	SubmissionDate      *time.Time        `json:"submission_date,omitempty"`
	DuplicateCaseIDs    []string          `json:"duplicate_case_ids,omitempty"`
	Notes               []CaseNote        `json:"notes"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// IsPaid reports whether the case already carries invoice information.
func (c *Case) IsPaid() bool {
	return len(c.InvoiceInformation) > 0
}

func (c *Case) Identity() CaseIdentity {
	return CaseIdentity{
		Applicant:          c.Applicant,
		ServiceTypeID:      c.ServiceTypeID,
		CitizenshipCountry: c.CitizenshipCountry,
		DestinationCountry: c.DestinationCountry,
	}
}

// InvoiceTotal sums every invoice line, discounts included.
func (c *Case) InvoiceTotal() float64 {
	var total float64
	for _, item := range c.InvoiceInformation {
		total += item.Price
	}
	return total
}

// NormalizedEmail lower-cases and trims an email for identity comparisons.
func NormalizedEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
