package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	checkTimeout = 2 * time.Second

	statusOK       = "ok"
	statusError    = "error"
	statusReady    = "ready"
	statusNotReady = "not_ready"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the readiness body, keyed by check name.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CatalogStatus reports the loaded charge catalogue.
type CatalogStatus interface {
	Len() int
	Checksum() string
}

// ReadinessChecks lists the dependencies /ready reports on. Catalog is
// always checked; the others only when set.
type ReadinessChecks struct {
	Catalog          CatalogStatus
	IdempotencyStore HealthChecker
	EventPublisher   HealthChecker
}

var errNoCatalog = errors.New("no charge catalogue loaded")

type check struct {
	name   string
	run    func(context.Context) error
	detail func() string
}

func (c ReadinessChecks) list() []check {
	checks := []check{{
		name: "catalog",
		run: func(context.Context) error {
			if c.Catalog == nil || c.Catalog.Len() == 0 {
				return errNoCatalog
			}
			return nil
		},
		detail: func() string {
			if c.Catalog == nil {
				return ""
			}
			return fmt.Sprintf("%d charges, checksum %s", c.Catalog.Len(), c.Catalog.Checksum())
		},
	}}
	if c.IdempotencyStore != nil {
		checks = append(checks, check{name: "idempotency_store", run: c.IdempotencyStore.HealthCheck})
	}
	if c.EventPublisher != nil {
		checks = append(checks, check{name: "event_publisher", run: c.EventPublisher.HealthCheck})
	}
	return checks
}

// HandleHealth serves the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  statusOK,
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady serves the readiness endpoint. Checks run concurrently, each
// bounded by checkTimeout; any failure answers 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := checks.list()
		results := make(map[string]CheckResult, len(list))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, c := range list {
			wg.Go(func() {
				res := runCheck(r.Context(), c)
				mu.Lock()
				results[c.name] = res
				mu.Unlock()
			})
		}
		wg.Wait()

		resp := ReadinessResponse{Status: statusReady, Checks: results}
		code := http.StatusOK
		for _, res := range results {
			if res.Status != statusOK {
				resp.Status = statusNotReady
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeHealthJSON(w, code, resp)
	}
}

func runCheck(parent context.Context, c check) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.run(ctx)
	res := CheckResult{Status: statusOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = statusError
		res.Error = err.Error()
		return res
	}
	if c.detail != nil {
		res.Detail = c.detail()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
