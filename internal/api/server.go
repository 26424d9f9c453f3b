// Package api exposes the engines via REST/JSON.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
	"github.com/walterthesmart/stellAIverse-contracts/internal/evolution"
	"github.com/walterthesmart/stellAIverse-contracts/internal/exechub"
	"github.com/walterthesmart/stellAIverse-contracts/internal/market"
	"github.com/walterthesmart/stellAIverse-contracts/internal/metrics"
	"github.com/walterthesmart/stellAIverse-contracts/internal/registry"
)

// Server wires the four engines behind one router.
type Server struct {
	registry  *registry.Registry
	market    *market.Engine
	evolution *evolution.Engine
	exechub   *exechub.Engine
	metrics   *metrics.Metrics
}

// NewServer creates the API server.
func NewServer(reg *registry.Registry, mkt *market.Engine, evo *evolution.Engine, hub *exechub.Engine, m *metrics.Metrics) *Server {
	return &Server{
		registry:  reg,
		market:    mkt,
		evolution: evo,
		exechub:   hub,
		metrics:   m,
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(corsMiddleware)
	api.Use(s.loggingMiddleware)

	// Registry
	api.HandleFunc("/registry/init", s.handleRegistryInit).Methods("POST")
	api.HandleFunc("/registry/total", s.handleTotalAgents).Methods("GET")
	api.HandleFunc("/registry/minters", s.handleAddMinter).Methods("POST")
	api.HandleFunc("/registry/minters/{minter}", s.handleRemoveMinter).Methods("DELETE")
	api.HandleFunc("/agents", s.handleMint).Methods("POST")
	api.HandleFunc("/agents/{id}", s.handleGetAgent).Methods("GET")
	api.HandleFunc("/agents/{id}", s.handleUpdateAgent).Methods("PATCH")
	api.HandleFunc("/agents/{id}/transfer", s.handleTransferAgent).Methods("POST")
	api.HandleFunc("/agents/{id}/nonce", s.handleGetNonce).Methods("GET")
	api.HandleFunc("/agents/{id}/owner", s.handleGetOwner).Methods("GET")
	api.HandleFunc("/agents/{id}/can-transfer", s.handleCanTransfer).Methods("GET")

	// Market
	api.HandleFunc("/market/init", s.handleMarketInit).Methods("POST")
	api.HandleFunc("/listings", s.handleCreateListing).Methods("POST")
	api.HandleFunc("/listings/{id}", s.handleGetListing).Methods("GET")
	api.HandleFunc("/listings/{id}/purchase", s.handlePurchase).Methods("POST")
	api.HandleFunc("/listings/{id}/cancel", s.handleCancelListing).Methods("POST")
	api.HandleFunc("/agents/{id}/royalty", s.handleSetRoyalty).Methods("PUT")
	api.HandleFunc("/agents/{id}/royalty", s.handleGetRoyalty).Methods("GET")

	// Evolution
	api.HandleFunc("/evolution/init", s.handleEvolutionInit).Methods("POST")
	api.HandleFunc("/evolution/params", s.handleSetParams).Methods("PUT")
	api.HandleFunc("/evolution/params", s.handleGetParams).Methods("GET")
	api.HandleFunc("/evolution/providers", s.handleRegisterProvider).Methods("POST")
	api.HandleFunc("/evolution/providers/{provider}", s.handleDeregisterProvider).Methods("DELETE")
	api.HandleFunc("/evolution/providers/{provider}", s.handleIsProvider).Methods("GET")
	api.HandleFunc("/upgrades", s.handleRequestUpgrade).Methods("POST")
	api.HandleFunc("/upgrades/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/upgrades/{id}/begin", s.handleBeginUpgrade).Methods("POST")
	api.HandleFunc("/upgrades/{id}/complete", s.handleCompleteUpgrade).Methods("POST")
	api.HandleFunc("/upgrades/{id}/fail", s.handleFailUpgrade).Methods("POST")
	api.HandleFunc("/upgrades/{id}/claim", s.handleClaimStake).Methods("POST")
	api.HandleFunc("/attestations", s.handleApplyAttestation).Methods("POST")
	api.HandleFunc("/agents/{id}/cooldown", s.handleAgentCooldown).Methods("GET")

	// Execution hub
	api.HandleFunc("/exechub/init", s.handleExecHubInit).Methods("POST")
	api.HandleFunc("/exechub/counter", s.handleExecutionCounter).Methods("GET")
	api.HandleFunc("/exechub/admin", s.handleTransferAdmin).Methods("POST")
	api.HandleFunc("/actions", s.handleExecuteAction).Methods("POST")
	api.HandleFunc("/executions/{id}", s.handleGetReceipt).Methods("GET")
	api.HandleFunc("/agents/{id}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/agents/{id}/actions/count", s.handleActionCount).Methods("GET")
	api.HandleFunc("/agents/{id}/rules", s.handleRegisterRule).Methods("POST")
	api.HandleFunc("/agents/{id}/rules/{name}", s.handleGetRule).Methods("GET")
	api.HandleFunc("/agents/{id}/rules/{name}", s.handleRevokeRule).Methods("DELETE")

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "stellai-engines",
	})
}

// Middleware

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		if s.metrics != nil {
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			s.metrics.RecordRequest(r.Method, route, strconv.Itoa(rec.status), elapsed.Seconds())
		}
		log.Printf(`{"method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			r.Method, r.URL.Path, rec.status, elapsed.Milliseconds())
	})
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}

// statusFor maps the typed error taxonomy to HTTP statuses.
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidInput, xerrors.CodeInvalidID:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeAlreadyInitialized, xerrors.CodeAlreadyLocked, xerrors.CodeNotLocked,
		xerrors.CodeAgentLeased, xerrors.CodeReplayRejected, xerrors.CodeAlreadyClaimed,
		xerrors.CodeInvalidState:
		return http.StatusConflict
	case xerrors.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case xerrors.CodeOverflow:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidInput, "decode request body", err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeError(w, xerrors.Newf(xerrors.CodeInvalidID, "invalid %s", name))
		return 0, false
	}
	return id, true
}
