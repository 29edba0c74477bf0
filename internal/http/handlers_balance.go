package http

import (
	"net/http"

	"spendly/internal/auth"
	"spendly/internal/core"
)

type balanceResponse struct {
	Balance        core.Money `json:"balance"`
	InitialBalance core.Money `json:"initialBalance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	current, initial, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: current, InitialBalance: initial})
}

func (s *Server) handleSetInitialBalance(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req struct {
		Amount amount `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseBalanceToCents(req.Amount.String())
	if err != nil {
		writeError(w, r, err)
		return
	}

	balance, err := s.ledger.SetInitialBalance(r.Context(), userID, core.Money{Cents: cents})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUser(userID)
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance, InitialBalance: balance})
}

// handleAddMoney records an income transaction. Category and note fall back
// to the top-up defaults when omitted.
func (s *Server) handleAddMoney(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req struct {
		Amount      amount `json:"amount"`
		Category    string `json:"category"`
		Note        string `json:"note"`
		IsRecurring bool   `json:"isRecurring"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount.String())
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, balance, err := s.ledger.RecordIncome(r.Context(), userID,
		core.Money{Cents: cents}, sanitizeInput(req.Category), sanitizeInput(req.Note), req.IsRecurring)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logs.LogTransactionRecorded(r.Context(), userID, tx.ID, string(tx.Type), tx.Category, tx.Amount.Cents, balance.Cents)
	s.invalidateUser(userID)
	writeJSON(w, http.StatusCreated, transactionResponse{Transaction: tx, Balance: balance})
}
