package api

import (
	"net/http"

	"github.com/walterthesmart/stellAIverse-contracts/internal/market"
)

func (s *Server) handleMarketInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Admin string `json:"admin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.market.Initialize(r.Context(), req.Admin); err != nil {
		s.record("market", "initialize", err)
		writeError(w, err)
		return
	}
	s.record("market", "initialize", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID      uint64 `json:"agent_id"`
		Seller       string `json:"seller"`
		Type         string `json:"type"`
		Price        int64  `json:"price"`
		DurationDays uint64 `json:"duration_days"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.market.CreateListing(r.Context(), req.AgentID, req.Seller, market.ListingType(req.Type), req.Price, req.DurationDays)
	if err != nil {
		s.record("market", "create_listing", err)
		writeError(w, err)
		return
	}
	s.record("market", "create_listing", nil)
	if s.metrics != nil {
		s.metrics.ListingsActive.Inc()
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"listing_id": id})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	listing, err := s.market.GetListing(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Buyer  string `json:"buyer"`
		Amount int64  `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.market.Purchase(r.Context(), id, req.Buyer, req.Amount); err != nil {
		s.record("market", "purchase", err)
		writeError(w, err)
		return
	}
	s.record("market", "purchase", nil)
	if s.metrics != nil {
		s.metrics.ListingsActive.Dec()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sold"})
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Seller string `json:"seller"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.market.CancelListing(r.Context(), id, req.Seller); err != nil {
		s.record("market", "cancel_listing", err)
		writeError(w, err)
		return
	}
	s.record("market", "cancel_listing", nil)
	if s.metrics != nil {
		s.metrics.ListingsActive.Dec()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSetRoyalty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Caller    string `json:"caller"`
		Recipient string `json:"recipient"`
		FeeBps    uint32 `json:"fee_bps"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.market.SetRoyalty(r.Context(), id, req.Caller, req.Recipient, req.FeeBps); err != nil {
		s.record("market", "set_royalty", err)
		writeError(w, err)
		return
	}
	s.record("market", "set_royalty", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

func (s *Server) handleGetRoyalty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	info, err := s.market.GetRoyalty(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if info == nil {
		writeJSON(w, http.StatusOK, map[string]any{"royalty": nil})
		return
	}
	writeJSON(w, http.StatusOK, info)
}
