package http

import (
	"context"
	"net/http"

	"expedite-backend/internal/domain"
	"expedite-backend/internal/service"

	"github.com/gorilla/mux"
)

// WeightConfigurer is the load balancer's admin surface.
type WeightConfigurer interface {
	Weights(ctx context.Context) ([]domain.LoadBalancerWeight, error)
	ConfigureWeights(ctx context.Context, weights []domain.LoadBalancerWeight) error
}

type AdminHandler struct {
	processors   service.ProcessorService
	weights      WeightConfigurer
	offlineLinks service.OfflineLinkService
}

func NewAdminHandler(processors service.ProcessorService, weights WeightConfigurer, offlineLinks service.OfflineLinkService) *AdminHandler {
	return &AdminHandler{processors: processors, weights: weights, offlineLinks: offlineLinks}
}

// processorView never exposes the encrypted credentials.
type processorView struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	IsActive         bool    `json:"is_active"`
	IsDefault        bool    `json:"is_default"`
	TransactionLimit float64 `json:"transaction_limit"`
	HasSecurityKey   bool    `json:"has_security_key"`
}

func toView(p *domain.Processor) processorView {
	return processorView{
		ID:               p.ID,
		Name:             p.Name,
		IsActive:         p.IsActive,
		IsDefault:        p.IsDefault,
		TransactionLimit: p.TransactionLimit,
		HasSecurityKey:   p.EncryptedSecurityKey != "",
	}
}

func (h *AdminHandler) ListProcessors(w http.ResponseWriter, r *http.Request) {
	list, err := h.processors.ListProcessors(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]processorView, 0, len(list))
	for i := range list {
		views = append(views, toView(&list[i]))
	}
	writeOK(w, http.StatusOK, views)
}

func (h *AdminHandler) GetProcessor(w http.ResponseWriter, r *http.Request) {
	p, err := h.processors.GetProcessor(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toView(p))
}

func (h *AdminHandler) CreateProcessor(w http.ResponseWriter, r *http.Request) {
	var in service.ProcessorInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.processors.CreateProcessor(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, toView(p))
}

func (h *AdminHandler) UpdateProcessor(w http.ResponseWriter, r *http.Request) {
	var in service.ProcessorInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.processors.UpdateProcessor(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toView(p))
}

func (h *AdminHandler) DeleteProcessor(w http.ResponseWriter, r *http.Request) {
	if err := h.processors.DeleteProcessor(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "processor deleted"})
}

func (h *AdminHandler) SetDefaultProcessor(w http.ResponseWriter, r *http.Request) {
	p, err := h.processors.SetDefaultProcessor(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toView(p))
}

func (h *AdminHandler) ListWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := h.weights.Weights(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if weights == nil {
		weights = []domain.LoadBalancerWeight{}
	}
	writeOK(w, http.StatusOK, weights)
}

func (h *AdminHandler) ConfigureWeights(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Weights []domain.LoadBalancerWeight `json:"weights"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.weights.ConfigureWeights(r.Context(), body.Weights); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, body.Weights)
}

func (h *AdminHandler) CreateOfflineLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CaseNo string  `json:"case_no"`
		Amount float64 `json:"amount"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	link, err := h.offlineLinks.CreateLink(r.Context(), body.CaseNo, body.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, link)
}

func (h *AdminHandler) GetOfflineLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.offlineLinks.GetLink(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, link)
}
