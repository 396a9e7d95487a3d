package http

import (
	"net/http"

	"expedite-backend/internal/security"
	"expedite-backend/internal/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the handlers' collaborators.
type Services struct {
	Cases        service.CaseService
	Levels       service.ServiceLevelService
	Processors   service.ProcessorService
	Weights      WeightConfigurer
	OfflineLinks service.OfflineLinkService
}

// NewRouter registers every route. Route names key the security levels in
// config.RouteSecurityConfig.
func NewRouter(svc Services, tokens security.TokenManager, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestID, recoverer, NewAuthMiddleware(tokens).Handler)

	cases := NewCaseHandler(svc.Cases, svc.Levels)
	admin := NewAdminHandler(svc.Processors, svc.Weights, svc.OfflineLinks)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet).Name("Health")
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet).Name("Metrics")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/cases", cases.CreateCase).Methods(http.MethodPost).Name("CreateCase")
	api.HandleFunc("/cases/{id}", cases.GetCase).Methods(http.MethodGet).Name("GetCase")
	api.HandleFunc("/cases/{id}/payment-audit", cases.ListPaymentAudit).Methods(http.MethodGet).Name("ListPaymentAudit")
	api.HandleFunc("/cases/{id}/service-level", cases.ChangeServiceLevel).Methods(http.MethodPost).Name("ChangeServiceLevel")

	api.HandleFunc("/admin/processors", admin.ListProcessors).Methods(http.MethodGet).Name("ListProcessors")
	api.HandleFunc("/admin/processors", admin.CreateProcessor).Methods(http.MethodPost).Name("CreateProcessor")
	api.HandleFunc("/admin/processors/{id}", admin.GetProcessor).Methods(http.MethodGet).Name("GetProcessor")
	api.HandleFunc("/admin/processors/{id}", admin.UpdateProcessor).Methods(http.MethodPut).Name("UpdateProcessor")
	api.HandleFunc("/admin/processors/{id}", admin.DeleteProcessor).Methods(http.MethodDelete).Name("DeleteProcessor")
	api.HandleFunc("/admin/processors/{id}/default", admin.SetDefaultProcessor).Methods(http.MethodPost).Name("SetDefaultProcessor")
	api.HandleFunc("/admin/load-balancer/weights", admin.ListWeights).Methods(http.MethodGet).Name("ListWeights")
	api.HandleFunc("/admin/load-balancer/weights", admin.ConfigureWeights).Methods(http.MethodPut).Name("ConfigureWeights")
	api.HandleFunc("/admin/offline-links", admin.CreateOfflineLink).Methods(http.MethodPost).Name("CreateOfflineLink")
	api.HandleFunc("/admin/offline-links/{token}", admin.GetOfflineLink).Methods(http.MethodGet).Name("GetOfflineLink")

	return router
}
