// Package health serves liveness and readiness probes for the bot process.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; 200 only while every registered probe passes,
//     so the process is taken out of rotation when the database or a speech
//     provider goes away.
//
// Responses are JSON: {"status": "ok"|"fail", "checks": {name: verdict}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Check returns nil while the dependency
// is usable and must respect context cancellation.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler evaluates probes on demand. The probe set is fixed at construction
// time, which keeps the handler safe for concurrent use without locking.
type Handler struct {
	probes []Probe
}

// New creates a Handler over the given probes. Probes run sequentially in
// the order given on every /readyz request.
func New(probes ...Probe) *Handler {
	h := &Handler{probes: make([]Probe, len(probes))}
	copy(h.probes, probes)
	return h
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe with a per-probe timeout and answers 503 if any
// probe fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.probes))}
	code := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()

		if err != nil {
			rep.Checks[p.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
		} else {
			rep.Checks[p.Name] = "ok"
		}
	}

	writeJSON(w, code, rep)
}

// Mount attaches the probe routes to a chi router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
