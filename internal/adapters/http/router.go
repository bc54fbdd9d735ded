package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kirillkom/trade-docs-backend/internal/config"
	"github.com/kirillkom/trade-docs-backend/internal/core/ports"
	"github.com/kirillkom/trade-docs-backend/internal/observability/metrics"
)

const (
	serviceName = "api"

	defaultMaxUploadBytes   = 32 << 20
	defaultBackpressureWait = 250 * time.Millisecond
)

// Services bundles the inbound contracts the router dispatches to. Routes
// of a nil service are not registered.
type Services struct {
	Orders    ports.ShipmentOrderService
	Stages    ports.StageAssignmentService
	Lifecycle ports.StageLifecycleService
	Documents ports.DocumentIngestor
	Quota     ports.QuotaAdmin
}

type Router struct {
	services Services
	users    ports.UserRepository
	metrics  *metrics.HTTPServerMetrics

	jwtSecret      []byte
	production     bool
	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
	maxUploadBytes int64
}

func NewRouter(cfg config.Config, services Services, users ports.UserRepository, httpMetrics *metrics.HTTPServerMetrics) *Router {
	return &Router{
		services:       services,
		users:          users,
		metrics:        httpMetrics,
		jwtSecret:      []byte(cfg.JWTSecret),
		production:     cfg.IsProduction(),
		rateLimitRPS:   cfg.APIRateLimitRPS,
		rateLimitBurst: cfg.APIRateLimitBurst,
		maxInFlight:    cfg.APIMaxInFlight,
		maxUploadBytes: defaultMaxUploadBytes,
	}
}

func (rt *Router) Handler() http.Handler {
	root := mux.NewRouter()
	root.HandleFunc("/healthz", rt.healthz).Methods(http.MethodGet)
	if rt.metrics != nil {
		root.Handle("/metrics", rt.metrics.Handler()).Methods(http.MethodGet)
	}

	api := root.PathPrefix("/api").Subrouter()
	api.Use(rt.authMiddleware)

	if rt.services.Orders != nil {
		orders := api.PathPrefix("/shipment-orders").Subrouter()
		orders.HandleFunc("", rt.createOrder).Methods(http.MethodPost)
		orders.HandleFunc("", rt.listOrders).Methods(http.MethodGet)
		orders.HandleFunc("/{id}", rt.getOrder).Methods(http.MethodGet)
		orders.HandleFunc("/{id}", rt.updateOrder).Methods(http.MethodPut)
		orders.HandleFunc("/{id}/documents", rt.attachOrderDocument).Methods(http.MethodPost)
		orders.HandleFunc("/{id}/submit", rt.submitOrder).Methods(http.MethodPost)
		if rt.services.Stages != nil {
			orders.HandleFunc("/{id}/assign-stages", rt.assignStages).Methods(http.MethodPost)
		}
		if rt.services.Lifecycle != nil {
			orders.HandleFunc("/{id}/assignment", rt.getOrderAssignment).Methods(http.MethodGet)
		}
	}

	if rt.services.Lifecycle != nil {
		assignments := api.PathPrefix("/forwarder-assignments").Subrouter()
		assignments.HandleFunc("/{id}", rt.getAssignment).Methods(http.MethodGet)
		assignments.HandleFunc("/{id}/start", rt.startStage).Methods(http.MethodPut)
		assignments.HandleFunc("/{id}/update-status", rt.updateStageStatus).Methods(http.MethodPut)
		assignments.HandleFunc("/{id}/complete", rt.completeStage).Methods(http.MethodPut)

		api.HandleFunc("/forwarder/my-tasks", rt.myTasks).Methods(http.MethodGet)
		api.HandleFunc("/forwarder/workflow-status", rt.workflowStatus).Methods(http.MethodGet)
	}

	if rt.services.Documents != nil {
		documents := api.PathPrefix("/documents").Subrouter()
		documents.HandleFunc("/upload", rt.uploadDocument).Methods(http.MethodPost)
		documents.HandleFunc("/batch-process", rt.batchProcess).Methods(http.MethodPost)
		documents.HandleFunc("/{id}/processing-status", rt.processingStatus).Methods(http.MethodGet)
		documents.HandleFunc("/{id}/reprocess", rt.reprocessDocument).Methods(http.MethodPost)
	}

	// Quota state lives in the process that runs the pipeline, so only
	// that process is given a QuotaAdmin.
	if rt.services.Quota != nil {
		api.HandleFunc("/ai/quota-status", rt.quotaStatus).Methods(http.MethodGet)
		api.HandleFunc("/ai/quota/{provider}/reset", rt.resetQuota).Methods(http.MethodPost)
	}

	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusNotFound, envelope{Message: "route not found", Code: codeNotFound})
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, envelope{Message: "method not allowed", Code: codeInvalidInput})
	})

	var handler http.Handler = root
	handler = backpressureMiddleware(handler, rt.maxInFlight, defaultBackpressureWait, rt.onRejected("backpressure"))
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst, rt.onRejected("rate_limit"))
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) onRejected(reason string) func() {
	return func() {
		if rt.metrics != nil {
			rt.metrics.RecordRejected(serviceName, reason)
		}
	}
}

func (rt *Router) recordOrderEvent(event string) {
	if rt.metrics != nil {
		rt.metrics.RecordOrderEvent(serviceName, event)
	}
}

func (rt *Router) recordStageTransition(stage, status string) {
	if rt.metrics != nil {
		rt.metrics.RecordStageTransition(serviceName, stage, status)
	}
}

func (rt *Router) recordUpload(documentType string, size int64) {
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, documentType, size)
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
