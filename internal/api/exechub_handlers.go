package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
	"github.com/walterthesmart/stellAIverse-contracts/internal/exechub"
)

func (s *Server) handleExecHubInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin string `json:"admin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.exechub.Initialize(r.Context(), req.Admin); err != nil {
		s.record("exechub", "initialize", err)
		writeError(w, err)
		return
	}
	s.record("exechub", "initialize", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID  uint64 `json:"agent_id"`
		Executor string `json:"executor"`
		Action   string `json:"action"`
		Params   []byte `json:"params"`
		Nonce    uint64 `json:"nonce"`
		ExecHash string `json:"exec_hash"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.exechub.ExecuteAction(r.Context(), req.AgentID, req.Executor, req.Action, req.Params, req.Nonce, req.ExecHash)
	if err != nil {
		s.record("exechub", "execute_action", err)
		if s.metrics != nil && xerrors.HasCode(err, xerrors.CodeRateLimitExceeded) {
			s.metrics.RateLimitHits.WithLabelValues(strconv.FormatUint(req.AgentID, 10)).Inc()
		}
		writeError(w, err)
		return
	}
	s.record("exechub", "execute_action", nil)
	if s.metrics != nil {
		s.metrics.ActionsExecuted.Inc()
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"execution_id": id})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	receipt, err := s.exechub.GetReceipt(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit := exechub.MaxHistoryQuery
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidInput, "invalid limit"))
			return
		}
		limit = n
	}
	history, err := s.exechub.GetHistory(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": id, "executions": history})
}

func (s *Server) handleActionCount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	count, err := s.exechub.ActionCount(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleExecutionCounter(w http.ResponseWriter, r *http.Request) {
	counter, err := s.exechub.ExecutionCounter(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"counter": counter})
}

func (s *Server) handleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Current string `json:"current"`
		Next    string `json:"next"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.exechub.TransferAdmin(r.Context(), req.Current, req.Next); err != nil {
		s.record("exechub", "transfer_admin", err)
		writeError(w, err)
		return
	}
	s.record("exechub", "transfer_admin", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) handleRegisterRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Owner string `json:"owner"`
		Name  string `json:"name"`
		Blob  []byte `json:"blob"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.exechub.RegisterRule(r.Context(), id, req.Owner, req.Name, req.Blob); err != nil {
		s.record("exechub", "register_rule", err)
		writeError(w, err)
		return
	}
	s.record("exechub", "register_rule", nil)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	blob, err := s.exechub.GetRule(r.Context(), id, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "blob": blob})
}

func (s *Server) handleRevokeRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]
	owner := r.URL.Query().Get("owner")
	if err := s.exechub.RevokeRule(r.Context(), id, owner, name); err != nil {
		s.record("exechub", "revoke_rule", err)
		writeError(w, err)
		return
	}
	s.record("exechub", "revoke_rule", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
