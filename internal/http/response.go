package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"spendly/internal/auth"
	"spendly/internal/core"
	"spendly/internal/log"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognized is
// a 500 with the detail kept out of the response body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *auth.ValidationError

	switch {
	case errors.As(err, &validationErr):
		writeMessage(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		writeMessage(w, http.StatusBadRequest, auth.ErrEmailTaken.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeMessage(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInsufficientFunds),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrEmptyPersonName):
		writeMessage(w, http.StatusBadRequest, unwrapMessage(err))
	case errors.Is(err, core.ErrNotFound):
		writeMessage(w, http.StatusNotFound, core.ErrNotFound.Error())
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldError, err,
			log.FieldPath, r.URL.Path,
			log.FieldMethod, r.Method)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// unwrapMessage surfaces the sentinel text instead of internal wrapping like
// "debit balance: not enough balance".
func unwrapMessage(err error) string {
	for _, sentinel := range []error{
		core.ErrInvalidAmount,
		core.ErrInsufficientFunds,
		core.ErrEmptyCategory,
		core.ErrEmptyPersonName,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
