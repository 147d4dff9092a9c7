package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/delegation-service/internal/circuitbreaker"
	"github.com/delegation-service/internal/config"
	"github.com/delegation-service/internal/models"
	"github.com/delegation-service/internal/service"
	"github.com/delegation-service/internal/storage"
)

var (
	childAddress     = "0x" + strings.Repeat("A", 40)
	delegatorAddress = "0x" + strings.Repeat("B", 40)
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error {
	return p.err
}

// mockChildrenService lets tests force individual children operations
type mockChildrenService struct {
	ChildrenServiceInterface
	listFunc func(ctx context.Context) *service.ChildrenList
}

func (m *mockChildrenService) ListChildren(ctx context.Context) *service.ChildrenList {
	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return &service.ChildrenList{Children: []*models.ChildAccount{}}
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "localhost",
		Port:         "8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// createTestServer wires the real services over in-memory storage
func createTestServer() *Server {
	return createTestServerWith(testServerConfig(), service.ChildrenOptions{})
}

func createTestServerWith(cfg *ServerConfig, opts service.ChildrenOptions) *Server {
	store := storage.NewMemoryAccountStore()
	ledger := storage.NewMemoryActivityLedger()
	locker := storage.NewLocalKeyLocker()
	validator := service.NewValidator(config.SepoliaUSDC)

	breakers := circuitbreaker.NewManager()
	breakers.GetOrCreate(circuitbreaker.DefaultConfig("circle"))

	connection := service.NewConnectionService(store, locker, nil, ledger, validator, service.ConnectionOptions{})
	children := service.NewChildrenService(store, locker, ledger, nil, opts)
	qr := service.NewQRService(validator)

	return NewServer(cfg, connection, children, qr, store, breakers)
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal request: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func errorCodeOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Success {
		t.Errorf("expected success=false in error response")
	}
	return resp.Error.Code
}

func connectBody(maxAmount interface{}) map[string]interface{} {
	return map[string]interface{}{
		"childAddress":     childAddress,
		"delegatorAddress": delegatorAddress,
		"tokenAddress":     config.SepoliaUSDC,
		"maxAmount":        maxAmount,
	}
}

// TestHealthEndpoint tests the health check endpoint
func TestHealthEndpoint(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "healthy" || resp.Service != "delegation-service" || resp.Store != "ok" {
		t.Errorf("unexpected health response: %+v", resp)
	}
	if len(resp.CircuitBreakers) != 1 || resp.CircuitBreakers[0].Name != "circle" {
		t.Errorf("expected circle breaker stats, got %+v", resp.CircuitBreakers)
	}
}

func TestHealthEndpoint_StoreDown(t *testing.T) {
	server := NewServer(testServerConfig(), nil, nil, nil, &stubPinger{err: errors.New("connection refused")}, nil)

	w := doJSON(t, server, "GET", "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
	var resp HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "degraded" || resp.Store != "unavailable" {
		t.Errorf("unexpected health response: %+v", resp)
	}
}

// TestConnectionScenario walks the connect, re-connect and add-funds flow
func TestConnectionScenario(t *testing.T) {
	server := createTestServer()

	w := doJSON(t, server, "POST", "/connect-child", connectBody(100))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var created ConnectChildResponse
	decodeBody(t, w, &created)
	if !created.Success || !created.Created || created.Updated {
		t.Errorf("unexpected flags: %+v", created)
	}
	if created.Child.WeeklyLimit != 20 || created.Child.Balance != 100 || created.Child.Status != "connected" {
		t.Errorf("unexpected child: %+v", created.Child)
	}

	w = doJSON(t, server, "POST", "/connect-child", connectBody(50))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated ConnectChildResponse
	decodeBody(t, w, &updated)
	if !updated.Updated || updated.Created {
		t.Errorf("expected updated flag: %+v", updated)
	}
	if updated.Child.Address != childAddress || updated.Child.WeeklyLimit != 10 || updated.Child.Balance != 50 {
		t.Errorf("unexpected child: %+v", updated.Child)
	}

	// the raw body must carry "updated":true and no "created" key
	var raw map[string]interface{}
	decodeBody(t, w, &raw)
	if raw["updated"] != true {
		t.Errorf("expected updated:true, got %v", raw)
	}
	if _, ok := raw["created"]; ok {
		t.Errorf("did not expect created key: %v", raw)
	}

	w = doJSON(t, server, "GET", "/children", nil)
	var children []*models.ChildAccount
	decodeBody(t, w, &children)
	if len(children) != 1 {
		t.Fatalf("expected exactly one child, got %d", len(children))
	}

	w = doJSON(t, server, "POST", "/children/"+childAddress+"/add-funds", map[string]interface{}{"amount": 25})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var funded ChildResponse
	decodeBody(t, w, &funded)
	if funded.Child.Balance != 75 || funded.Child.MaxAmount != 75 {
		t.Errorf("expected balance and maxAmount 75, got %+v", funded.Child)
	}
}

// TestAPIPrefix tests that every delegation route is mirrored under /api
func TestAPIPrefix(t *testing.T) {
	server := createTestServer()

	w := doJSON(t, server, "POST", "/api/connect-child", connectBody("100"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, server, "GET", "/api/children/"+strings.ToLower(childAddress), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConnectChild_ValidationErrors(t *testing.T) {
	server := createTestServer()

	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{"invalid json", "not json", "INVALID_INPUT"},
		{"empty body", "", "INVALID_INPUT"},
		{"bad child", map[string]interface{}{"childAddress": "0x12", "delegatorAddress": delegatorAddress, "tokenAddress": config.SepoliaUSDC, "maxAmount": 10}, "INVALID_CHILD_ADDRESS"},
		{"bad delegator", map[string]interface{}{"address": childAddress, "delegatorAddress": "0x12", "tokenAddress": config.SepoliaUSDC, "maxAmount": 10}, "INVALID_DELEGATOR_ADDRESS"},
		{"bad token", map[string]interface{}{"walletAddress": childAddress, "delegatorAddress": delegatorAddress, "tokenAddress": delegatorAddress, "maxAmount": 10}, "INVALID_TOKEN"},
		{"zero amount", connectBody(0), "INVALID_AMOUNT"},
		{"negative amount", connectBody(-1), "INVALID_AMOUNT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, server, "POST", "/connect-child", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
			if code := errorCodeOf(t, w); code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, code)
			}
		})
	}

	w := doJSON(t, server, "GET", "/children", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected no children after rejected requests, got %s", w.Body.String())
	}
}

func TestListChildren_Degraded(t *testing.T) {
	children := &mockChildrenService{
		listFunc: func(ctx context.Context) *service.ChildrenList {
			return &service.ChildrenList{Children: []*models.ChildAccount{}, Degraded: true}
		},
	}
	server := NewServer(testServerConfig(), nil, children, nil, nil, nil)

	w := doJSON(t, server, "GET", "/children", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get(degradedHeader) != "true" {
		t.Errorf("expected %s header", degradedHeader)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestUpdateChild(t *testing.T) {
	server := createTestServer()
	doJSON(t, server, "POST", "/connect-child", connectBody(100))
	path := "/children/" + childAddress

	w := doJSON(t, server, "PUT", path, map[string]interface{}{"alias": "Sam", "status": "active", "maxAmount": 60})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ChildResponse
	decodeBody(t, w, &resp)
	if resp.Child.Alias != "Sam" || resp.Child.Status != "active" || resp.Child.WeeklyLimit != 12 {
		t.Errorf("unexpected child: %+v", resp.Child)
	}

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"identity field", path, map[string]interface{}{"address": delegatorAddress}, 400, "INVALID_INPUT"},
		{"unknown field", path, map[string]interface{}{"nickname": "x"}, 400, "INVALID_INPUT"},
		{"bad status", path, map[string]interface{}{"status": "paused"}, 400, "INVALID_PARAMETER"},
		{"negative balance", path, map[string]interface{}{"balance": -3}, 400, "INVALID_AMOUNT"},
		{"bad address", "/children/0x123", map[string]interface{}{"alias": "x"}, 400, "INVALID_ADDRESS"},
		{"not found", "/children/0x" + strings.Repeat("9", 40), map[string]interface{}{"alias": "x"}, 404, "CHILD_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, server, "PUT", tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if code := errorCodeOf(t, w); code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestAddFunds_Errors(t *testing.T) {
	server := createTestServer()
	doJSON(t, server, "POST", "/connect-child", connectBody(100))

	w := doJSON(t, server, "POST", "/children/"+childAddress+"/add-funds", map[string]interface{}{"amount": 0})
	if w.Code != http.StatusBadRequest || errorCodeOf(t, w) != "INVALID_AMOUNT" {
		t.Errorf("Expected 400 INVALID_AMOUNT, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, server, "POST", "/children/0x"+strings.Repeat("9", 40)+"/add-funds", map[string]interface{}{"amount": 5})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetActivity(t *testing.T) {
	server := createTestServer()
	doJSON(t, server, "POST", "/connect-child", connectBody(100))
	doJSON(t, server, "POST", "/children/"+childAddress+"/add-funds", map[string]interface{}{"amount": 5})

	w := doJSON(t, server, "GET", "/children/"+childAddress+"/activity?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ActivityResponse
	decodeBody(t, w, &resp)
	if len(resp.Events) != 1 || resp.Events[0].Kind != "funds_added" {
		t.Errorf("unexpected events: %+v", resp.Events)
	}

	for _, limit := range []string{"0", "-2", "ten"} {
		w = doJSON(t, server, "GET", "/children/"+childAddress+"/activity?limit="+limit, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, w.Code)
		}
	}
}

func TestGetOnChainBalance_NotConfigured(t *testing.T) {
	server := createTestServer()

	w := doJSON(t, server, "GET", "/children/"+childAddress+"/onchain-balance", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, server, "GET", "/children/nope/onchain-balance", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestClearChildren(t *testing.T) {
	server := createTestServer()
	doJSON(t, server, "POST", "/connect-child", connectBody(100))

	w := doJSON(t, server, "DELETE", "/children", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}

	server = createTestServerWith(testServerConfig(), service.ChildrenOptions{AllowBulkClear: true})
	doJSON(t, server, "POST", "/connect-child", connectBody(100))
	w = doJSON(t, server, "DELETE", "/api/children", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	w = doJSON(t, server, "GET", "/children", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list after clear, got %s", w.Body.String())
	}
}

func TestGenerateQR(t *testing.T) {
	server := createTestServer()

	w := doJSON(t, server, "POST", "/generate-qr", map[string]interface{}{
		"delegatorAddress": delegatorAddress,
		"maxAmount":        100,
		"alias":            "Sam",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp QRResponse
	decodeBody(t, w, &resp)
	if !resp.Success || resp.Payload.WeeklyLimit != 20 || resp.Payload.Token != config.SepoliaUSDC {
		t.Errorf("unexpected payload: %+v", resp.Payload)
	}

	var fromQR service.QRPayload
	if err := json.Unmarshal([]byte(resp.QRData), &fromQR); err != nil {
		t.Fatalf("qrData is not JSON: %v", err)
	}
	if fromQR != *resp.Payload {
		t.Errorf("qrData %+v does not match payload %+v", fromQR, *resp.Payload)
	}

	w = doJSON(t, server, "POST", "/generate-qr", map[string]interface{}{"delegatorAddress": "0x1", "maxAmount": 100})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestCORSHeaders tests that CORS headers are properly set
func TestCORSHeaders(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected CORS headers to be set")
	}
}

func TestCORSPreflight(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("OPTIONS", "/connect-child", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Expected Access-Control-Allow-Methods header")
	}
}

func TestCompression(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/children", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("invalid gzip body: %v", err)
	}
	body, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("failed to read gzip body: %v", err)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 2
	server := createTestServerWith(cfg, service.ChildrenOptions{})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/children", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence: %v", codes)
	}

	// another client has its own budget
	req := httptest.NewRequest("GET", "/children", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for a different client, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := createTestServer()
	doJSON(t, server, "GET", "/children", nil)

	w := doJSON(t, server, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "delegation_http_requests_total") {
		t.Error("expected http request counter in metrics output")
	}
}

func TestRequestIDHeader(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("Expected request id to be echoed, got %q", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RecoveryMiddleware)
	router.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}
