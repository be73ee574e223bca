package http

import (
	"net/http"

	"finpulse/internal/core"
	"finpulse/internal/ledger"
)

type categoryList struct {
	Income  []core.Category `json:"income"`
	Expense []core.Category `json:"expense"`
}

type quickActionBody struct {
	Label    string        `json:"label"`
	Amount   core.Money    `json:"amount"`
	Category core.Category `json:"category"`
}

func handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, categoryList{
		Income:  core.CategoriesFor(core.Income),
		Expense: core.CategoriesFor(core.Expense),
	})
}

func handleQuickActions(w http.ResponseWriter, r *http.Request) {
	actions := core.QuickActions()
	out := make([]quickActionBody, 0, len(actions))
	for _, a := range actions {
		out = append(out, quickActionBody{Label: a.Label, Amount: a.Amount, Category: a.Category})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListTransactions filters the owner's live snapshot. Query
// parameters override the stored filter for this request only.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	c := s.registry.Get(ownerOf(r))
	f := c.State().Filter
	q := r.URL.Query()
	if q.Has("search") {
		f.Search = q.Get("search")
	}
	if q.Has("category") {
		f.Category = q.Get("category")
	}
	if err := c.Err(); err != nil {
		w.Header().Set("X-Data-Stale", "true")
	}
	writeJSON(w, http.StatusOK, ledger.Filter(c.Transactions(), f))
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.gateway.SubmitTransaction(r.Context(), ownerOf(r), req.input()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleQuickLog(w http.ResponseWriter, r *http.Request) {
	var req quickRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.gateway.QuickLog(r.Context(), ownerOf(r), r.PathValue("label"), req.Amount); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	patch := core.TransactionPatch{Title: req.Title, Amount: req.Amount}
	if err := s.gateway.EditTransaction(r.Context(), ownerOf(r), r.PathValue("id"), patch); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.DeleteTransaction(r.Context(), ownerOf(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}
