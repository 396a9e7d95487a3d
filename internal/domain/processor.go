package domain

import "time"

// Processor is one set of payment gateway credentials. Credentials are stored
// encrypted; a deleted processor is only flagged so old transactions keep their reference.
type Processor struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	EncryptedUsername    string    `json:"-"`
	EncryptedPassword    string    `json:"-"`
	EncryptedSecurityKey string    `json:"-"`
	IsActive             bool      `json:"is_active"`
	IsDefault            bool      `json:"is_default"`
	IsDeleted            bool      `json:"is_deleted"`
	TransactionLimit     float64   `json:"transaction_limit"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Usable reports whether the processor may be handed to the gateway.
func (p *Processor) Usable() bool {
	return p.IsActive && !p.IsDeleted
}

// ProcessorCredentials are the decrypted credentials of a processor.
type ProcessorCredentials struct {
	ProcessorID string
	Name        string
	Username    string
	Password    string
	SecurityKey string
}

// ProcessorUsage is the cumulative count of successful charges per processor.
type ProcessorUsage struct {
	ProcessorID      string    `json:"processor_id"`
	TransactionCount int64     `json:"transaction_count"`
	LastUpdated      time.Time `json:"last_updated"`
}

// LoadBalancerWeight is the target traffic share (percent) of a processor.
type LoadBalancerWeight struct {
	ProcessorID string  `json:"processor_id"`
	Weight      float64 `json:"weight"`
}
