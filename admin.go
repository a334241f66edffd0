package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminAPI provides read-only REST endpoints for inspecting the gateway at
// runtime: configured rules, status, health, and Prometheus metrics. The
// governance rule set is immutable after startup, so there are deliberately
// no mutation endpoints.
//
// Routes use [chi] and return JSON.
type AdminAPI struct {
	// Proxy is the gateway instance to inspect.
	Proxy *Proxy

	// Logger for admin API events.
	Logger *slog.Logger

	// Metrics serves /metrics when set.
	Metrics *Metrics

	router  chi.Router
	started time.Time
}

// NewAdminAPI creates an AdminAPI wired to the given proxy.
func NewAdminAPI(proxy *Proxy) *AdminAPI {
	a := &AdminAPI{
		Proxy:   proxy,
		Logger:  slog.Default(),
		started: time.Now(),
	}
	a.buildRouter()
	return a
}

func (a *AdminAPI) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Get("/status", a.handleStatus)
		r.Get("/rules", a.handleListRules)
	})
	r.Get("/healthz", a.handleHealthz)
	r.Get("/metrics", a.handleMetrics)

	a.router = r
}

// ServeHTTP implements http.Handler.
func (a *AdminAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// --------------------------------------------------------------------------
// Response types
// --------------------------------------------------------------------------

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status     string `json:"status"`
	Backend    string `json:"backend"`
	RuleCount  int    `json:"rule_count"`
	DisableAll bool   `json:"governance_disabled"`
	Capture    bool   `json:"capture_enabled"`
	Uptime     string `json:"uptime"`
}

// RuleInfo describes one configured rule.
type RuleInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RulesResponse is returned by GET /api/rules.
type RulesResponse struct {
	Count int        `json:"count"`
	Rules []RuleInfo `json:"rules"`
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (a *AdminAPI) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:     "ok",
		Backend:    a.Proxy.BackendAddr,
		RuleCount:  len(a.Proxy.Governance.Rules),
		DisableAll: a.Proxy.Governance.DisableAll,
		Capture:    a.Proxy.Capture != nil,
		Uptime:     time.Since(a.started).Round(time.Second).String(),
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *AdminAPI) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := make([]RuleInfo, 0, len(a.Proxy.Governance.Rules))
	for _, cr := range a.Proxy.Governance.Rules {
		rules = append(rules, RuleInfo{
			Name: cr.Name,
			Type: fmt.Sprintf("%T", cr.Rule),
		})
	}
	a.writeJSON(w, http.StatusOK, RulesResponse{Count: len(rules), Rules: rules})
}

func (a *AdminAPI) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *AdminAPI) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if a.Metrics == nil {
		http.Error(w, "metrics not configured", http.StatusNotFound)
		return
	}
	a.Metrics.Handler().ServeHTTP(w, r)
}

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Error("encode admin response", "error", err)
	}
}
