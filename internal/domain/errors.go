package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrCaseAlreadyPaid      = errors.New("case has already been paid")
	ErrCaseNotPaid          = errors.New("case has no recorded payment")
	ErrEmailInUse           = errors.New("email belongs to another active account")
	ErrPromoInvalid         = errors.New("promo code is not valid")
	ErrNoProcessorAvailable = errors.New("no payment processor available")
	ErrProcessorInactive    = errors.New("payment processor is inactive")
	ErrStatusKeyMissing     = errors.New("required status key is not configured")
	ErrWeightsInvalid       = errors.New("load balancer weights must sum to 100")
	ErrDefaultProcessor     = errors.New("default processor cannot be removed")
	ErrPaymentDeclined      = errors.New("payment was declined")
	ErrPaymentIndeterminate = errors.New("payment outcome is unknown and needs reconciliation")
	ErrOfflineLinkInvalid   = errors.New("offline payment link is not usable")
	ErrServiceLevelConflict = errors.New("service level was changed by another request")
)
