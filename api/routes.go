package api

import (
	"net/http"
	"time"

	"github.com/garnizeh/techsync/internal/config"
	"github.com/garnizeh/techsync/pkg/repository"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the dependencies the HTTP surface is built on.
type Services struct {
	Operators repository.OperatorRepo
	Tickets   repository.TicketRepo
	Outcomes  repository.OutcomeRepo
	Syncer    Syncer
	// SyncTimeout bounds the sync run by PUT /v1/tickets/{ticket_id}/assignee.
	SyncTimeout time.Duration
	Jobs        JobEnqueuer
	Mappings    MappingReloader
	Checks      map[string]HealthCheck
	Metrics     prometheus.Gatherer
}

func SetupRoutes(cfg *config.Config, version, buildTime string, svc Services) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	// Create handlers
	systemHandler := &SystemHandler{Checks: svc.Checks}
	authHandler := NewAuthHandler(svc.Operators, cfg.JWTSecret, cfg.TokenDuration)
	ticketsHandler := NewTicketsHandler(svc.Tickets, svc.Outcomes, svc.Syncer, svc.Jobs)
	ticketsHandler.SyncTimeout = svc.SyncTimeout
	mappingsHandler := NewMappingsHandler(svc.Mappings)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	if svc.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(svc.Metrics, promhttp.HandlerOpts{})).Methods("GET")
	}
	r.HandleFunc("/v1/auth/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods("POST")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	// Auth endpoints
	authV1 := apiV1.PathPrefix("/auth").Subrouter()
	authV1.HandleFunc("/signout", authHandler.Signout).Methods("POST")

	// Tickets and sync
	apiV1.HandleFunc("/tickets/{ticket_id}", ticketsHandler.GetTicket).Methods("GET")
	apiV1.HandleFunc("/tickets/{ticket_id}/assignee", ticketsHandler.AssignTicket).Methods("PUT")
	apiV1.HandleFunc("/tickets/{ticket_id}/outcomes", ticketsHandler.ListTicketOutcomes).Methods("GET")
	apiV1.HandleFunc("/outcomes/failed", ticketsHandler.ListFailedOutcomes).Methods("GET")
	apiV1.HandleFunc("/sync/batch", ticketsHandler.SyncBatch).Methods("POST")

	// Identity mapping
	apiV1.HandleFunc("/mappings", mappingsHandler.GetMappings).Methods("GET")
	apiV1.HandleFunc("/mappings/reload", mappingsHandler.Reload).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}
