package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/delegation-service/internal/errors"
	"github.com/delegation-service/internal/models"
	"github.com/delegation-service/internal/service"
)

// degradedHeader marks a listing served empty because the store failed
const degradedHeader = "X-Store-Degraded"

// ChildResponse wraps a single child account
type ChildResponse struct {
	Success bool                 `json:"success"`
	Child   *models.ChildAccount `json:"child"`
}

// ActivityResponse lists ledger entries for a child
type ActivityResponse struct {
	Success bool                    `json:"success"`
	Address string                  `json:"address"`
	Events  []*models.ActivityEvent `json:"events"`
}

type addFundsRequest struct {
	Amount interface{} `json:"amount"`
}

// handleListChildren handles GET /children. It never fails: when the store is
// unreachable it returns an empty array and sets X-Store-Degraded.
func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	list := s.childrenService.ListChildren(r.Context())
	if list.Degraded {
		w.Header().Set(degradedHeader, "true")
	}
	respondJSON(w, http.StatusOK, list.Children)
}

// handleGetChild handles GET /children/{address}
func (s *Server) handleGetChild(w http.ResponseWriter, r *http.Request) {
	child, err := s.childrenService.GetChild(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		respondServiceError(w, r, "get-child", err)
		return
	}
	respondJSON(w, http.StatusOK, ChildResponse{Success: true, Child: child})
}

// handleUpdateChild handles PUT /children/{address}. Only the editable fields
// are accepted; anything else in the body is rejected.
func (s *Server) handleUpdateChild(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	var input service.UpdateChildInput
	if err := parseJSONBody(w, r, &input, true); err != nil {
		respondServiceError(w, r, "update-child", bodyError(err))
		return
	}

	child, err := s.childrenService.UpdateChild(r.Context(), address, &input)
	if err != nil {
		respondServiceError(w, r, "update-child", err)
		return
	}
	respondJSON(w, http.StatusOK, ChildResponse{Success: true, Child: child})
}

// handleAddFunds handles POST /children/{address}/add-funds
func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	var req addFundsRequest
	if err := parseJSONBody(w, r, &req, false); err != nil {
		respondServiceError(w, r, "add-funds", bodyError(err))
		return
	}

	child, err := s.childrenService.AddFunds(r.Context(), address, req.Amount)
	if err != nil {
		respondServiceError(w, r, "add-funds", err)
		return
	}
	respondJSON(w, http.StatusOK, ChildResponse{Success: true, Child: child})
}

// handleGetActivity handles GET /children/{address}/activity?limit=N
func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondServiceError(w, r, "activity", apperrors.NewInvalidParameterError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := s.childrenService.Activity(r.Context(), address, limit)
	if err != nil {
		respondServiceError(w, r, "activity", err)
		return
	}
	respondJSON(w, http.StatusOK, ActivityResponse{Success: true, Address: address, Events: events})
}

// handleGetOnChainBalance handles GET /children/{address}/onchain-balance
func (s *Server) handleGetOnChainBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.childrenService.OnChainBalance(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		respondServiceError(w, r, "onchain-balance", err)
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

// handleClearChildren handles DELETE /children. Disabled unless configured.
func (s *Server) handleClearChildren(w http.ResponseWriter, r *http.Request) {
	if err := s.childrenService.ClearChildren(r.Context()); err != nil {
		respondServiceError(w, r, "clear-children", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
