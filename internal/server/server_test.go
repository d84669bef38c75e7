package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tmorval/riskgate/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		TrainingWindowDays: config.DefaultTrainingWindowDays,
		TrainingMaxSamples: config.DefaultTrainingMaxSamples,
		TrainingMinSamples: config.DefaultTrainingMinSamples,
		ApprovalTTL:        config.DefaultApprovalTTL,
		SweepInterval:      config.DefaultSweepInterval,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	s.Router().ServeHTTP(w, req)

	var resp map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	// Server hasn't called Run() so ready is false
	w, _ := doJSON(t, s, "GET", "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

func TestRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	expected := []string{
		"GET:/healthz",
		"GET:/readyz",
		"GET:/metrics",
		"POST:/v1/transactions/evaluate",
		"POST:/v1/models/train",
		"GET:/v1/models/current",
		"GET:/v1/approvals",
		"GET:/v1/approvals/:id",
		"POST:/v1/approvals/:id/approve",
		"POST:/v1/approvals/:id/reject",
		"GET:/v1/feed",
	}

	routeSet := make(map[string]bool)
	for _, route := range s.Router().Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}
	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Evaluation tests
// ---------------------------------------------------------------------------

func TestEvaluateLowValueNeedsNoApproval(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "POST", "/v1/transactions/evaluate", `{
		"transaction": {"accountId": "acct_1", "amount": "100.00", "type": "transfer"},
		"actorId": "user_1",
		"actorRole": "teller"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	classification := resp["classification"].(map[string]interface{})
	if classification["requiresApproval"] != false {
		t.Errorf("Low-value transaction should not require approval: %v", classification)
	}
	if _, ok := resp["approvalRequest"]; ok {
		t.Error("No approval request should be created")
	}

	tx := resp["transaction"].(map[string]interface{})
	if !strings.HasPrefix(tx["id"].(string), "txn_") {
		t.Errorf("Generated id = %v, want txn_ prefix", tx["id"])
	}
}

func TestEvaluateHighValueCreatesApproval(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "POST", "/v1/transactions/evaluate", `{
		"transaction": {"accountId": "acct_1", "amount": "15000.00", "type": "transfer"},
		"actorId": "user_1",
		"actorRole": "teller"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	classification := resp["classification"].(map[string]interface{})
	if classification["requiresApproval"] != true {
		t.Fatalf("15k transaction must require approval: %v", classification)
	}
	if classification["approvalLevel"] != "manager" {
		t.Errorf("approvalLevel = %v, want manager", classification["approvalLevel"])
	}

	request, ok := resp["approvalRequest"].(map[string]interface{})
	if !ok {
		t.Fatal("approvalRequest missing from response")
	}
	if request["status"] != "pending" {
		t.Errorf("status = %v, want pending", request["status"])
	}
	if !strings.HasPrefix(request["id"].(string), "apr_") {
		t.Errorf("id = %v, want apr_ prefix", request["id"])
	}
}

func TestEvaluateRejectsNegativeAmount(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "POST", "/v1/transactions/evaluate", `{
		"transaction": {"accountId": "acct_1", "amount": "-5.00", "type": "transfer"},
		"actorId": "user_1",
		"actorRole": "teller"
	}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if resp["error"] != "invalid_amount" {
		t.Errorf("error = %v, want invalid_amount", resp["error"])
	}
}

func TestEvaluateRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)

	w, _ := doJSON(t, s, "POST", "/v1/transactions/evaluate", `{"actorId": "user_1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Approval workflow tests
// ---------------------------------------------------------------------------

// createApproval evaluates a transaction large enough to open a request and
// returns the request id.
func createApproval(t *testing.T, s *Server) string {
	t.Helper()
	w, resp := doJSON(t, s, "POST", "/v1/transactions/evaluate", `{
		"transaction": {"accountId": "acct_1", "amount": "20000.00", "type": "transfer"},
		"actorId": "maker_1",
		"actorRole": "teller"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("evaluate failed: %d %s", w.Code, w.Body.String())
	}
	request := resp["approvalRequest"].(map[string]interface{})
	return request["id"].(string)
}

func TestApproveFlow(t *testing.T) {
	s := newTestServer(t)
	id := createApproval(t, s)

	w, resp := doJSON(t, s, "POST", "/v1/approvals/"+id+"/approve", `{
		"approverId": "checker_1",
		"approverRole": "manager",
		"notes": "verified with customer"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "approved" {
		t.Errorf("status = %v, want approved", resp["status"])
	}
	if resp["resolvedBy"] != "checker_1" {
		t.Errorf("resolvedBy = %v, want checker_1", resp["resolvedBy"])
	}

	// Second resolution conflicts.
	w, resp = doJSON(t, s, "POST", "/v1/approvals/"+id+"/approve", `{
		"approverId": "checker_2",
		"approverRole": "manager"
	}`)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
	if resp["error"] != "already_finalized" {
		t.Errorf("error = %v, want already_finalized", resp["error"])
	}
}

func TestSelfApprovalForbidden(t *testing.T) {
	s := newTestServer(t)
	id := createApproval(t, s)

	w, resp := doJSON(t, s, "POST", "/v1/approvals/"+id+"/approve", `{
		"approverId": "maker_1",
		"approverRole": "manager"
	}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if resp["error"] != "self_approval" {
		t.Errorf("error = %v, want self_approval", resp["error"])
	}
}

func TestIneligibleRoleForbidden(t *testing.T) {
	s := newTestServer(t)
	id := createApproval(t, s)

	w, resp := doJSON(t, s, "POST", "/v1/approvals/"+id+"/approve", `{
		"approverId": "checker_1",
		"approverRole": "teller"
	}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if resp["error"] != "permission_denied" {
		t.Errorf("error = %v, want permission_denied", resp["error"])
	}
}

func TestRejectRequiresReason(t *testing.T) {
	s := newTestServer(t)
	id := createApproval(t, s)

	w, resp := doJSON(t, s, "POST", "/v1/approvals/"+id+"/reject", `{
		"approverId": "checker_1",
		"approverRole": "manager"
	}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	if resp["error"] != "missing_reason" {
		t.Errorf("error = %v, want missing_reason", resp["error"])
	}

	// With a reason the rejection succeeds.
	w, resp = doJSON(t, s, "POST", "/v1/approvals/"+id+"/reject", `{
		"approverId": "checker_1",
		"approverRole": "manager",
		"reason": "suspicious counterparty"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "rejected" {
		t.Errorf("status = %v, want rejected", resp["status"])
	}
}

func TestGetApprovalNotFound(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "GET", "/v1/approvals/apr_missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if resp["error"] != "not_found" {
		t.Errorf("error = %v, want not_found", resp["error"])
	}
}

func TestListApprovalsFiltersByRole(t *testing.T) {
	s := newTestServer(t)
	createApproval(t, s) // manager level

	w, resp := doJSON(t, s, "GET", "/v1/approvals", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if resp["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}

	// Tellers cannot resolve anything, so the filtered list is empty.
	w, resp = doJSON(t, s, "GET", "/v1/approvals?for_role=teller", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if resp["count"].(float64) != 0 {
		t.Errorf("count for teller = %v, want 0", resp["count"])
	}
}

func TestListApprovalsPagination(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		createApproval(t, s)
	}

	w, resp := doJSON(t, s, "GET", "/v1/approvals?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if resp["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", resp["count"])
	}
	if resp["hasMore"] != true {
		t.Fatal("hasMore should be true on the first page")
	}
	next, ok := resp["nextCursor"].(string)
	if !ok || next == "" {
		t.Fatal("nextCursor missing")
	}

	w, resp = doJSON(t, s, "GET", "/v1/approvals?limit=2&cursor="+next, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if resp["count"].(float64) != 1 {
		t.Errorf("second page count = %v, want 1", resp["count"])
	}
	if resp["hasMore"] != false {
		t.Error("hasMore should be false on the last page")
	}

	// Garbage cursors are rejected.
	w, resp = doJSON(t, s, "GET", "/v1/approvals?cursor=%21%21%21", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad cursor, got %d", w.Code)
	}
	if resp["error"] != "invalid_cursor" {
		t.Errorf("error = %v, want invalid_cursor", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// Model lifecycle tests
// ---------------------------------------------------------------------------

func TestModelInfoUntrained(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "GET", "/v1/models/current", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if resp["trained"] != false {
		t.Errorf("trained = %v, want false", resp["trained"])
	}
}

func TestTrainWithInsufficientHistory(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, "POST", "/v1/models/train", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if resp["error"] != "insufficient_samples" {
		t.Errorf("error = %v, want insufficient_samples", resp["error"])
	}
	if resp["samplesRequired"].(float64) != float64(config.DefaultTrainingMinSamples) {
		t.Errorf("samplesRequired = %v, want %d", resp["samplesRequired"], config.DefaultTrainingMinSamples)
	}
}
