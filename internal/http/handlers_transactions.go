package http

import (
	"net/http"

	"spendly/internal/auth"
	"spendly/internal/core"
	"spendly/internal/ledger"
)

type transactionResponse struct {
	Transaction core.Transaction `json:"transaction"`
	Balance     core.Money       `json:"balance"`
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
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

	tx, balance, err := s.ledger.RecordExpense(r.Context(), userID,
		core.Money{Cents: cents}, sanitizeInput(req.Category), sanitizeInput(req.Note), req.IsRecurring)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logs.LogTransactionRecorded(r.Context(), userID, tx.ID, string(tx.Type), tx.Category, tx.Amount.Cents, balance.Cents)
	s.invalidateUser(userID)
	writeJSON(w, http.StatusCreated, transactionResponse{Transaction: tx, Balance: balance})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	if cached, ok := s.txCache.Get(userID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	txs, err := s.ledger.Transactions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}

	s.txCache.Set(userID, txs)
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	if cached, ok := s.historyCache.Get(userID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	records, err := s.ledger.History(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []core.HistoryRecord{}
	}

	s.historyCache.Set(userID, records)
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleApplyRecurring(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	result, err := s.ledger.ApplyRecurring(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUser(userID)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	deleted, err := s.ledger.ClearAll(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUser(userID)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	balance, err := s.ledger.ResetAll(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUser(userID)
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance, InitialBalance: balance})
}

func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	id := r.PathValue("id")

	var req struct {
		Category    *string `json:"category"`
		Note        *string `json:"note"`
		IsRecurring *bool   `json:"isRecurring"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := ledger.TransactionPatch{
		Category:    req.Category,
		Note:        req.Note,
		IsRecurring: req.IsRecurring,
	}
	if patch.Category != nil {
		clean := sanitizeInput(*patch.Category)
		patch.Category = &clean
	}
	if patch.Note != nil {
		clean := sanitizeInput(*patch.Note)
		patch.Note = &clean
	}

	tx, err := s.ledger.EditTransaction(r.Context(), userID, id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUser(userID)
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	id := r.PathValue("id")

	balance, err := s.ledger.DeleteTransaction(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUser(userID)
	writeJSON(w, http.StatusOK, map[string]core.Money{"balance": balance})
}
