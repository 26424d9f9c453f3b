package api

import (
	"net/http"

	"github.com/gorilla/mux"

	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
	"github.com/walterthesmart/stellAIverse-contracts/internal/registry"
)

func (s *Server) handleRegistryInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin   string   `json:"admin"`
		Minters []string `json:"minters"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.registry.Initialize(r.Context(), req.Admin, req.Minters...); err != nil {
		s.record("registry", "initialize", err)
		writeError(w, err)
		return
	}
	s.record("registry", "initialize", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner        string   `json:"owner"`
		Name         string   `json:"name"`
		ModelHash    string   `json:"model_hash"`
		MetadataCID  string   `json:"metadata_cid"`
		Capabilities []string `json:"capabilities"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.registry.Mint(r.Context(), req.Owner, req.Name, req.ModelHash, req.MetadataCID, req.Capabilities)
	if err != nil {
		s.record("registry", "mint", err)
		writeError(w, err)
		return
	}
	s.record("registry", "mint", nil)
	if s.metrics != nil {
		s.metrics.AgentsMinted.Inc()
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"agent_id": id})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	agent, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Caller       string    `json:"caller"`
		Name         *string   `json:"name"`
		MetadataCID  *string   `json:"metadata_cid"`
		Capabilities *[]string `json:"capabilities"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	fields := registry.UpdateFields{
		Name:         req.Name,
		MetadataCID:  req.MetadataCID,
		Capabilities: req.Capabilities,
	}
	if err := s.registry.Update(r.Context(), id, req.Caller, fields); err != nil {
		s.record("registry", "update", err)
		writeError(w, err)
		return
	}
	s.record("registry", "update", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleTransferAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.registry.Transfer(r.Context(), id, req.From, req.To); err != nil {
		s.record("registry", "transfer", err)
		writeError(w, err)
		return
	}
	s.record("registry", "transfer", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	nonce, err := s.registry.GetNonce(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	owner, err := s.registry.GetOwner(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner})
}

func (s *Server) handleCanTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	caller := r.URL.Query().Get("caller")
	writeJSON(w, http.StatusOK, map[string]bool{"can_transfer": s.registry.CanTransfer(r.Context(), id, caller)})
}

func (s *Server) handleTotalAgents(w http.ResponseWriter, r *http.Request) {
	total, err := s.registry.TotalAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"total": total})
}

func (s *Server) handleAddMinter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin  string `json:"admin"`
		Minter string `json:"minter"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.registry.AddMinter(r.Context(), req.Admin, req.Minter); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveMinter(w http.ResponseWriter, r *http.Request) {
	minter := mux.Vars(r)["minter"]
	admin := r.URL.Query().Get("admin")
	if err := s.registry.RemoveMinter(r.Context(), admin, minter); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// record feeds the operation counters. Nil err counts a success only.
func (s *Server) record(engine, op string, err error) {
	if s.metrics == nil {
		return
	}
	code := ""
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	s.metrics.RecordOperation(engine, op, code)
}
