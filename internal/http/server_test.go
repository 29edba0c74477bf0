package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spendly/internal/auth"
	"spendly/internal/core"
	"spendly/internal/ledger"
	applog "spendly/internal/log"
	"spendly/internal/memstore"
)

const testSecret = "server-test-secret-16-chars"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := memstore.New()
	ledgerSvc := ledger.NewService(store.Balances(), store.Transactions(), store.History(), store.Loans(), nil)
	authSvc := auth.NewService(store.Users(), testSecret, time.Hour, "", nil)

	srv := NewServer(":0", ledgerSvc, authSvc, testSecret, applog.New(applog.DefaultConfig()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, srv *Server, email string) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/auth/register", "",
		fmt.Sprintf(`{"name":"Test User","email":%q,"password":"secret1"}`, email))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.Token
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, srv, http.MethodGet, path, "", "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	protected := []struct {
		method, path string
	}{
		{http.MethodGet, "/balance"},
		{http.MethodPost, "/transactions"},
		{http.MethodGet, "/transactions"},
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/loans"},
	}
	for _, ep := range protected {
		rec := doJSON(t, srv, ep.method, ep.path, "", "{}")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token status = %d, want 401", ep.method, ep.path, rec.Code)
		}
	}
}

func TestExpenseFlow(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "flow@example.com")

	// Seed the balance.
	rec := doJSON(t, srv, http.MethodPost, "/balance/initial", token, `{"amount":"100.00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set initial balance status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var balResp struct {
		Balance core.Money `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &balResp); err != nil {
		t.Fatal(err)
	}
	if balResp.Balance.Cents != 10000 {
		t.Fatalf("initial balance = %d, want 10000", balResp.Balance.Cents)
	}

	// Record an expense.
	rec = doJSON(t, srv, http.MethodPost, "/transactions", token,
		`{"amount":"30.00","category":"Groceries","note":"weekly"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add expense status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var txResp struct {
		Transaction core.Transaction `json:"transaction"`
		Balance     core.Money       `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &txResp); err != nil {
		t.Fatal(err)
	}
	if txResp.Balance.Cents != 7000 {
		t.Errorf("balance after expense = %d, want 7000", txResp.Balance.Cents)
	}
	if txResp.Transaction.Type != core.Expense {
		t.Errorf("transaction type = %v, want expense", txResp.Transaction.Type)
	}

	// An unaffordable expense is a 400 with the sentinel message.
	rec = doJSON(t, srv, http.MethodPost, "/transactions", token,
		`{"amount":"80.00","category":"Rent"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("overspend status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not enough balance") {
		t.Errorf("overspend body = %s", rec.Body.String())
	}

	// List, then delete to restore the balance.
	rec = doJSON(t, srv, http.MethodGet, "/transactions", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []core.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d transactions, want 1", len(list))
	}

	rec = doJSON(t, srv, http.MethodDelete, "/transactions/"+list[0].ID, token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var delResp struct {
		Balance core.Money `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &delResp); err != nil {
		t.Fatal(err)
	}
	if delResp.Balance.Cents != 10000 {
		t.Errorf("balance after delete = %d, want 10000", delResp.Balance.Cents)
	}

	// The deleted record shows up in history.
	rec = doJSON(t, srv, http.MethodGet, "/transactions/history", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var history []core.HistoryRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Category != "Groceries" {
		t.Errorf("history = %+v, want one Groceries record", history)
	}
}

func TestAddMoney(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "income@example.com")

	rec := doJSON(t, srv, http.MethodPost, "/balance/add", token, `{"amount":"25.50"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add money status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Transaction core.Transaction `json:"transaction"`
		Balance     core.Money       `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Balance.Cents != 2550 {
		t.Errorf("balance = %d, want 2550", resp.Balance.Cents)
	}
	if resp.Transaction.Category != ledger.DefaultIncomeCategory {
		t.Errorf("category = %q, want default", resp.Transaction.Category)
	}

	// Numeric amounts work too.
	rec = doJSON(t, srv, http.MethodPost, "/balance/add", token, `{"amount":10,"category":"Salary"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("numeric amount status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestEditTransaction(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "edit@example.com")

	doJSON(t, srv, http.MethodPost, "/balance/add", token, `{"amount":"100"}`)
	rec := doJSON(t, srv, http.MethodPost, "/transactions", token,
		`{"amount":"10","category":"Food","note":"lunch"}`)
	var txResp struct {
		Transaction core.Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &txResp); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, srv, http.MethodPatch, "/transactions/"+txResp.Transaction.ID, token,
		`{"category":"Dining","isRecurring":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var updated core.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Category != "Dining" || !updated.IsRecurring {
		t.Errorf("updated = %+v", updated)
	}
	if updated.Note != "lunch" {
		t.Errorf("note = %q, want untouched lunch", updated.Note)
	}
	if updated.Amount.Cents != 1000 {
		t.Errorf("amount = %d, want unchanged 1000", updated.Amount.Cents)
	}

	// Editing a missing transaction is a 404.
	rec = doJSON(t, srv, http.MethodPatch, "/transactions/missing", token, `{"category":"X"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("edit missing status = %d, want 404", rec.Code)
	}
}

func TestApplyRecurring(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "recurring@example.com")

	doJSON(t, srv, http.MethodPost, "/balance/initial", token, `{"amount":"100"}`)
	doJSON(t, srv, http.MethodPost, "/transactions", token,
		`{"amount":"60","category":"Rent","isRecurring":true}`)
	doJSON(t, srv, http.MethodPost, "/transactions", token,
		`{"amount":"5","category":"Gym","isRecurring":true}`)

	// Balance is 35: rent is skipped, gym applies.
	rec := doJSON(t, srv, http.MethodPost, "/transactions/recurring/apply", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("apply status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Transactions []core.Transaction `json:"transactions"`
		Skipped      int                `json:"skipped"`
		Balance      core.Money         `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
	if len(result.Transactions) != 1 || result.Transactions[0].Category != "Gym" {
		t.Errorf("applied = %+v, want one Gym clone", result.Transactions)
	}
	if result.Balance.Cents != 3000 {
		t.Errorf("balance = %d, want 3000", result.Balance.Cents)
	}
}

func TestClearAndReset(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "reset@example.com")

	doJSON(t, srv, http.MethodPost, "/balance/initial", token, `{"amount":"100"}`)
	doJSON(t, srv, http.MethodPost, "/transactions", token, `{"amount":"10","category":"A"}`)
	doJSON(t, srv, http.MethodPost, "/transactions", token, `{"amount":"20","category":"B"}`)

	rec := doJSON(t, srv, http.MethodDelete, "/transactions/clear", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var clearResp struct {
		Deleted int `json:"deleted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &clearResp); err != nil {
		t.Fatal(err)
	}
	if clearResp.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", clearResp.Deleted)
	}

	// Clear keeps the balance.
	rec = doJSON(t, srv, http.MethodGet, "/balance", token, "")
	var bal struct {
		Balance core.Money `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil {
		t.Fatal(err)
	}
	if bal.Balance.Cents != 7000 {
		t.Errorf("balance after clear = %d, want 7000", bal.Balance.Cents)
	}

	// Reset zeroes everything.
	rec = doJSON(t, srv, http.MethodDelete, "/transactions/reset", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/balance", token, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil {
		t.Fatal(err)
	}
	if bal.Balance.Cents != 0 {
		t.Errorf("balance after reset = %d, want 0", bal.Balance.Cents)
	}
}

func TestLoanFlow(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "loans@example.com")

	doJSON(t, srv, http.MethodPost, "/balance/initial", token, `{"amount":"100"}`)

	rec := doJSON(t, srv, http.MethodPost, "/loans", token,
		`{"personName":"Alice","amount":"30","note":"tickets"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add loan status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var loan core.Loan
	if err := json.Unmarshal(rec.Body.Bytes(), &loan); err != nil {
		t.Fatal(err)
	}
	if loan.Status != core.LoanPending {
		t.Errorf("status = %v, want pending", loan.Status)
	}

	rec = doJSON(t, srv, http.MethodPatch, "/loans/"+loan.ID+"/returned", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("mark returned status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var returned struct {
		Loan    core.Loan  `json:"loan"`
		Balance core.Money `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &returned); err != nil {
		t.Fatal(err)
	}
	if returned.Loan.Status != core.LoanReturned {
		t.Errorf("status = %v, want returned", returned.Loan.Status)
	}
	if returned.Balance.Cents != 13000 {
		t.Errorf("balance = %d, want 13000", returned.Balance.Cents)
	}

	// Marking it again is a 404.
	rec = doJSON(t, srv, http.MethodPatch, "/loans/"+loan.ID+"/returned", token, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second mark returned status = %d, want 404", rec.Code)
	}
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "bad@example.com")

	tests := []struct {
		name string
		path string
		body string
	}{
		{"negative amount", "/transactions", `{"amount":"-5","category":"X"}`},
		{"zero amount", "/transactions", `{"amount":"0","category":"X"}`},
		{"garbage amount", "/transactions", `{"amount":"abc","category":"X"}`},
		{"missing body", "/transactions", ""},
		{"negative initial balance", "/balance/initial", `{"amount":"-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, tt.path, token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/auth/register", "",
		`{"name":"A","email":"a@example.com","password":"secret1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short name status = %d, want 400", rec.Code)
	}

	registerUser(t, srv, "dup@example.com")
	rec = doJSON(t, srv, http.MethodPost, "/auth/register", "",
		`{"name":"Other","email":"dup@example.com","password":"secret2"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate email status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "email already registered") {
		t.Errorf("duplicate email body = %s", rec.Body.String())
	}
}

func TestLoginAndMe(t *testing.T) {
	srv := newTestServer(t)
	registerUser(t, srv, "me@example.com")

	rec := doJSON(t, srv, http.MethodPost, "/auth/login", "",
		`{"email":"me@example.com","password":"secret1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string    `json:"token"`
		User  core.User `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, srv, http.MethodGet, "/auth/me", resp.Token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	var me core.User
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatal(err)
	}
	if me.Email != "me@example.com" {
		t.Errorf("me email = %q", me.Email)
	}

	rec = doJSON(t, srv, http.MethodPost, "/auth/login", "",
		`{"email":"me@example.com","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	// Headers are set by the outer middleware even when auth fails.
	rec := doJSON(t, srv, http.MethodGet, "/balance", "", "")
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestTransactionRecordedLogging(t *testing.T) {
	store := memstore.New()
	ledgerSvc := ledger.NewService(store.Balances(), store.Transactions(), store.History(), store.Loans(), nil)
	authSvc := auth.NewService(store.Users(), testSecret, time.Hour, "", nil)

	buf := &bytes.Buffer{}
	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentHTTP,
		Handler:   slog.NewJSONHandler(buf, nil),
	})
	srv := NewServer(":0", ledgerSvc, authSvc, testSecret, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	token := registerUser(t, srv, "logging@example.com")
	doJSON(t, srv, http.MethodPost, "/balance/add", token, `{"amount":"50"}`)
	rec := doJSON(t, srv, http.MethodPost, "/transactions", token,
		`{"amount":"12.50","category":"Groceries"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add expense status = %d, body = %s", rec.Code, rec.Body.String())
	}

	logs := buf.String()
	if !strings.Contains(logs, "Transaction recorded") {
		t.Error("expense was not logged through the structured logger")
	}
	if !strings.Contains(logs, `"amount_cents":1250`) {
		t.Errorf("logged record missing amount, logs: %s", logs)
	}
}

func TestTransactionCacheInvalidation(t *testing.T) {
	srv := newTestServer(t)
	token := registerUser(t, srv, "cache@example.com")

	doJSON(t, srv, http.MethodPost, "/balance/add", token, `{"amount":"10"}`)

	// Prime the cache.
	rec := doJSON(t, srv, http.MethodGet, "/transactions", token, "")
	var first []core.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("got %d transactions, want 1", len(first))
	}

	// A mutation must invalidate it.
	doJSON(t, srv, http.MethodPost, "/balance/add", token, `{"amount":"20"}`)
	rec = doJSON(t, srv, http.MethodGet, "/transactions", token, "")
	var second []core.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if len(second) != 2 {
		t.Errorf("got %d transactions after mutation, want 2", len(second))
	}
}
