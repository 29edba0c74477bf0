package http

import (
	"net/http"

	"spendly/internal/auth"
	"spendly/internal/core"
)

func (s *Server) handleAddLoan(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req struct {
		PersonName string `json:"personName"`
		Amount     amount `json:"amount"`
		Note       string `json:"note"`
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

	loan, err := s.ledger.AddLoan(r.Context(), userID, sanitizeInput(req.PersonName),
		core.Money{Cents: cents}, sanitizeInput(req.Note))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	loans, err := s.ledger.Loans(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []core.Loan{}
	}

	writeJSON(w, http.StatusOK, loans)
}

type loanReturnedResponse struct {
	Loan    core.Loan  `json:"loan"`
	Balance core.Money `json:"balance"`
}

func (s *Server) handleLoanReturned(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	id := r.PathValue("id")

	loan, balance, err := s.ledger.MarkLoanReturned(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateUser(userID)
	writeJSON(w, http.StatusOK, loanReturnedResponse{Loan: loan, Balance: balance})
}
