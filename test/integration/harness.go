// Package integration provides a reusable test harness for end-to-end
// integration testing of the charge configuration server. It starts a full
// HTTP server over the sample catalogue with in-memory stores and a test
// JWT issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/chargecfg/internal/approval"
	"github.com/pitabwire/chargecfg/internal/bulkupload"
	"github.com/pitabwire/chargecfg/internal/capability"
	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/config"
	"github.com/pitabwire/chargecfg/internal/draft"
	"github.com/pitabwire/chargecfg/internal/events"
	"github.com/pitabwire/chargecfg/internal/formula"
	"github.com/pitabwire/chargecfg/internal/idempotency"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/internal/pricing"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/internal/transport"
)

// TestHarness encapsulates a fully wired server instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry    *catalog.Registry
	Drafts      *draft.Service
	Approvals   *approval.Engine
	Publisher   *events.MemoryPublisher
	Metrics     *observability.Metrics
	Prometheus  *prometheus.Registry
	Idempotency idempotency.Store
	Redis       *miniredis.Miniredis

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	catalogDirs    []string
	policyFile     string
	idempotency    string
	handlerTimeout time.Duration
	priorityOrder  string
}

// WithCatalog sets the catalogue directories to load.
func WithCatalog(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.catalogDirs = dirs
	}
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithIdempotency enables idempotency checking with an in-memory store.
func WithIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotency = "memory"
	}
}

// WithRedisIdempotency enables idempotency checking backed by an in-process
// redis server.
func WithRedisIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotency = "redis"
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithPriorityOrder sets the rule priority order ("ascending" or
// "descending").
func WithPriorityOrder(order string) HarnessOption {
	return func(c *harnessConfig) {
		c.priorityOrder = order
	}
}

// NewTestHarness creates and starts a full server test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		priorityOrder:  "ascending",
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.catalogDirs) == 0 {
		hc.catalogDirs = []string{filepath.Join(repoRoot(), "catalog")}
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(testdataDir(), "policies.yaml")
	}

	logger := zap.NewNop()
	h := &TestHarness{
		t:          t,
		Publisher:  &events.MemoryPublisher{},
		Prometheus: prometheus.NewRegistry(),
	}
	h.Metrics = observability.InitMetrics(h.Prometheus)

	order, err := rules.ParsePriorityOrder(hc.priorityOrder)
	if err != nil {
		t.Fatalf("priority order: %v", err)
	}

	// Step 1: Load and validate the catalogue.
	files, err := catalog.NewLoader().LoadAll(hc.catalogDirs)
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	cat := catalog.Merge(files)

	variables := make([]string, 0, len(cat.Reference.FormulaVariables))
	for _, v := range cat.Reference.FormulaVariables {
		variables = append(variables, v.Name)
	}
	calc := pricing.NewCalculator(formula.NewEngine(variables))
	checker := catalog.NewValidator(calc)
	if verrs := checker.Validate(cat); len(verrs) > 0 {
		t.Fatalf("catalogue is invalid: %v", verrs)
	}
	h.Registry = catalog.NewRegistry(cat)

	// Step 2: Build capability resolver.
	evaluator, err := capability.NewStaticPolicyEvaluator(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	capResolver := capability.NewResolver(evaluator, 0, 0, h.Metrics) // no caching in tests

	// Step 3: Build the idempotency guard.
	var guard *idempotency.Guard
	switch hc.idempotency {
	case "memory":
		h.Idempotency = idempotency.NewMemoryStore()
	case "redis":
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		h.Idempotency = idempotency.NewRedisStore(client)
	}
	if h.Idempotency != nil {
		guard = idempotency.NewGuard(h.Idempotency, time.Hour)
	}

	// Step 4: Build services.
	h.Drafts = draft.NewService(h.Registry, draft.NewMemoryStore(), checker, h.Publisher, h.Metrics, logger)
	h.Approvals = approval.NewEngine(h.Registry, approval.NewMemoryStore(), calc, order, h.Publisher, h.Metrics, logger)
	bulk := bulkupload.NewService(h.Registry, checker, h.Publisher, h.Metrics, logger, bulkupload.Limits{
		MaxBytes: 1 << 20,
		MaxRows:  200,
	})

	// Step 5: Create JWT issuer.
	h.issuer = newTokenIssuer()

	// Step 6: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Catalog.Directories = hc.catalogDirs
	h.cfg.Rules.PriorityOrder = hc.priorityOrder

	// Step 7: Build router with full middleware chain.
	readiness := observability.ReadinessChecks{
		Catalog: h.Registry,
	}
	if store, ok := h.Idempotency.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = store
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Logger:             logger,
		Metrics:            h.Metrics,
		Authenticate:       transport.JWTAuthenticator(h.cfg.Identity, h.issuer.Secret()),
		CapabilityResolver: capResolver,
		Readiness:          readiness,
		PriorityOrder:      order,
		Registry:           h.Registry,
		Drafts:             h.Drafts,
		Approvals:          h.Approvals,
		BulkUpload:         bulk,
		Idempotency:        guard,
	})

	// Step 8: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

// Upload posts content as the "file" field of a multipart form.
func (h *TestHarness) Upload(path, filename, content, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	body, contentType := multipartBody(h.t, filename, content)
	req, err := http.NewRequestWithContext(context.Background(), "POST", h.server.URL+path, body)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	return h.send(req, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return h.send(req, token, headers)
}

func (h *TestHarness) send(req *http.Request, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// AdminClaims returns TestClaims for an administrator.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		Email:     "admin@fleet.example.com",
		Roles:     []string{"Admin"},
	}
}

// BranchManagerClaims returns TestClaims for a branch manager of BR001.
func BranchManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-branch",
		Email:     "branch@fleet.example.com",
		BranchID:  "BR001",
		Roles:     []string{"Branch Manager"},
	}
}

// FinanceManagerClaims returns TestClaims for a finance manager.
func FinanceManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-finance",
		Email:     "finance@fleet.example.com",
		Roles:     []string{"Finance Manager"},
	}
}

// OperationsHeadClaims returns TestClaims for an operations head.
func OperationsHeadClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-ops",
		Email:     "ops@fleet.example.com",
		Roles:     []string{"Operations Head"},
	}
}

// ViewerClaims returns TestClaims for a read-only user.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-viewer",
		Email:     "viewer@fleet.example.com",
		Roles:     []string{"Viewer"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// repoRoot returns the absolute path to the module root.
func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..")
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
