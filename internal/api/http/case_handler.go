package http

import (
	"net/http"
	"time"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/service"

	"github.com/gorilla/mux"
)

type CaseHandler struct {
	cases  service.CaseService
	levels service.ServiceLevelService
}

func NewCaseHandler(cases service.CaseService, levels service.ServiceLevelService) *CaseHandler {
	return &CaseHandler{cases: cases, levels: levels}
}

type createCaseBody struct {
	AccountID          string                   `json:"account_id"`
	ContingentCaseID   string                   `json:"contingent_case_id"`
	Applicant          domain.Applicant         `json:"applicant"`
	ServiceTypeID      string                   `json:"service_type_id"`
	ServiceLevelID     string                   `json:"service_level_id"`
	CitizenshipCountry string                   `json:"citizenship_country"`
	DestinationCountry string                   `json:"destination_country"`
	AdditionalServices []domain.InvoiceLineItem `json:"additional_services"`
	Card               domain.Card              `json:"card"`
	PromoCode          string                   `json:"promo_code"`
	ProcessorID        string                   `json:"processor_id"`
	OfflineLinkToken   string                   `json:"offline_link_token"`
	DeviceFingerprint  string                   `json:"device_fingerprint"`
}

type createCaseData struct {
	DataRecorded      bool                     `json:"dataRecorded"`
	CaseID            string                   `json:"caseId,omitempty"`
	CaseNo            string                   `json:"caseNo,omitempty"`
	PaymentStatus     string                   `json:"paymentStatus,omitempty"`
	FailedTransaction string                   `json:"failedTransaction,omitempty"`
	AmountCharged     float64                  `json:"amountCharged,omitempty"`
	Invoice           []domain.InvoiceLineItem `json:"invoice,omitempty"`
	SessionToken      string                   `json:"sessionToken,omitempty"`
	PaymentToken      string                   `json:"paymentToken,omitempty"`
}

// CreateCase answers every processed intake with the envelope and dataRecorded,
// including declined payments.
func (h *CaseHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var body createCaseBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.cases.CreateCase(r.Context(), service.CreateCaseRequest{
		AccountID:          body.AccountID,
		Applicant:          body.Applicant,
		ContingentCaseID:   body.ContingentCaseID,
		ServiceTypeID:      body.ServiceTypeID,
		ServiceLevelID:     body.ServiceLevelID,
		CitizenshipCountry: body.CitizenshipCountry,
		DestinationCountry: body.DestinationCountry,
		AdditionalServices: body.AdditionalServices,
		Card:               body.Card,
		PromoCode:          body.PromoCode,
		ProcessorID:        body.ProcessorID,
		OfflineLinkToken:   body.OfflineLinkToken,
		Host:               clientHost(r),
		DeviceFingerprint:  body.DeviceFingerprint,
	})
	if err != nil {
		writeJSON(w, statusFor(err), envelope{Message: publicMessage(err), Data: createCaseData{}})
		return
	}

	data := createCaseData{
		DataRecorded: res.DataRecorded,
		SessionToken: res.SessionToken,
		PaymentToken: res.PaymentToken,
	}
	if res.Case != nil {
		data.CaseID = res.Case.ID
		data.CaseNo = res.Case.CaseNo
		data.Invoice = res.Case.InvoiceInformation
	}
	if o := res.Outcome; o != nil {
		data.PaymentStatus = string(o.Status)
		data.FailedTransaction = string(o.FailedTransaction)
		data.AmountCharged = o.AmountCharged
	}
	writeJSON(w, res.StatusCode, envelope{Success: res.Success, Message: res.Message, Data: data})
}

func publicMessage(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

func (h *CaseHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.cases.GetCase(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}

func (h *CaseHandler) ListPaymentAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := h.cases.ListPaymentAudit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if audit == nil {
		audit = []domain.PaymentAuditEvent{}
	}
	writeOK(w, http.StatusOK, audit)
}

type changeServiceLevelBody struct {
	ServiceLevelID string       `json:"service_level_id"`
	Card           *domain.Card `json:"card"`
}

type changeServiceLevelData struct {
	Action         service.ChangeAction `json:"action"`
	Delta          float64              `json:"delta"`
	ServiceLevelID string               `json:"serviceLevelId"`
	PaymentStatus  string               `json:"paymentStatus,omitempty"`
	ProcessedAt    time.Time            `json:"processedAt"`
}

func (h *CaseHandler) ChangeServiceLevel(w http.ResponseWriter, r *http.Request) {
	var body changeServiceLevelBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.levels.ChangeServiceLevel(r.Context(), service.ChangeServiceLevelRequest{
		CaseID:         mux.Vars(r)["id"],
		ServiceLevelID: body.ServiceLevelID,
		Card:           body.Card,
		Host:           clientHost(r),
	})
	if res == nil {
		writeError(w, r, err)
		return
	}

	data := changeServiceLevelData{Action: res.Action, Delta: res.Delta, ProcessedAt: time.Now().UTC()}
	if res.Case != nil {
		data.ServiceLevelID = res.Case.ServiceLevelID
	}
	if res.Outcome != nil {
		data.PaymentStatus = string(res.Outcome.Status)
	}
	if err != nil {
		writeJSON(w, statusFor(err), envelope{Message: publicMessage(err), Data: data})
		return
	}
	writeOK(w, http.StatusOK, data)
}
