package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/walterthesmart/stellAIverse-contracts/internal/evolution"
)

func (s *Server) handleEvolutionInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin      string `json:"admin"`
		StakeToken string `json:"stake_token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.evolution.Initialize(r.Context(), req.Admin, req.StakeToken); err != nil {
		s.record("evolution", "initialize", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "initialize", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

func (s *Server) handleRequestUpgrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID uint64 `json:"agent_id"`
		Owner   string `json:"owner"`
		Stake   int64  `json:"stake"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.evolution.RequestUpgrade(r.Context(), req.AgentID, req.Owner, req.Stake)
	if err != nil {
		s.record("evolution", "request_upgrade", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "request_upgrade", nil)
	if s.metrics != nil {
		s.metrics.UpgradesByStatus.WithLabelValues("requested").Inc()
		s.metrics.StakeHeld.Add(float64(req.Stake))
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"request_id": id})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, err := s.evolution.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleBeginUpgrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Admin string `json:"admin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.evolution.BeginUpgrade(r.Context(), req.Admin, id); err != nil {
		s.record("evolution", "begin_upgrade", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "begin_upgrade", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "in_progress"})
}

func (s *Server) handleCompleteUpgrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Admin        string `json:"admin"`
		NewModelHash string `json:"new_model_hash"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.evolution.CompleteUpgrade(r.Context(), req.Admin, id, req.NewModelHash); err != nil {
		s.record("evolution", "complete_upgrade", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "complete_upgrade", nil)
	if s.metrics != nil {
		s.metrics.UpgradesByStatus.WithLabelValues("completed").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleFailUpgrade(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Admin string `json:"admin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.evolution.FailUpgrade(r.Context(), req.Admin, id); err != nil {
		s.record("evolution", "fail_upgrade", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "fail_upgrade", nil)
	if s.metrics != nil {
		s.metrics.UpgradesByStatus.WithLabelValues("failed").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func (s *Server) handleClaimStake(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Owner string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.evolution.ClaimStake(r.Context(), req.Owner, id); err != nil {
		s.record("evolution", "claim_stake", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "claim_stake", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

func (s *Server) handleApplyAttestation(w http.ResponseWriter, r *http.Request) {
	var att evolution.Attestation
	if !decodeBody(w, r, &att) {
		return
	}
	if err := s.evolution.ApplyAttestation(r.Context(), &att); err != nil {
		s.record("evolution", "apply_attestation", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "apply_attestation", nil)
	if s.metrics != nil {
		s.metrics.UpgradesByStatus.WithLabelValues("completed").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin           string `json:"admin"`
		MinStake        int64  `json:"min_stake"`
		CooldownSeconds uint64 `json:"cooldown_seconds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	params := evolution.Params{MinStake: req.MinStake, CooldownSeconds: req.CooldownSeconds}
	if err := s.evolution.SetParams(r.Context(), req.Admin, params); err != nil {
		s.record("evolution", "set_params", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "set_params", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	params, err := s.evolution.GetParams(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (s *Server) handleAgentCooldown(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	remaining, err := s.evolution.AgentCooldown(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"cooldown_seconds": remaining})
}

func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin    string `json:"admin"`
		Provider string `json:"provider"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.evolution.RegisterProvider(r.Context(), req.Admin, req.Provider); err != nil {
		s.record("evolution", "register_provider", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "register_provider", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Server) handleDeregisterProvider(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	admin := r.URL.Query().Get("admin")
	if err := s.evolution.DeregisterProvider(r.Context(), admin, provider); err != nil {
		s.record("evolution", "deregister_provider", err)
		writeError(w, err)
		return
	}
	s.record("evolution", "deregister_provider", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

func (s *Server) handleIsProvider(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	ok, err := s.evolution.IsProvider(r.Context(), provider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"registered": ok})
}
