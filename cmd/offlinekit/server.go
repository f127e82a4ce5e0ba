package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360/offlinekit/connectivity"
	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/health"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/tlsutil"
	"github.com/c360/offlinekit/queue"
)

func newHTTPServer(cliCfg *CLIConfig, d *daemon, registry *metric.MetricsRegistry) (*http.Server, error) {
	tlsCfg := tlsutil.ServerConfig{CertFile: cliCfg.TLSCert, KeyFile: cliCfg.TLSKey}
	if cliCfg.TLSClientCA != "" {
		tlsCfg.ClientCAFiles = []string{cliCfg.TLSClientCA}
		tlsCfg.RequireClientCert = true
	}
	tlsConfig, err := tlsutil.LoadServerTLSConfig(tlsCfg)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              cliCfg.HTTPAddr,
		Handler:           routes(d, registry),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

func startHTTPServer(srv *http.Server, logger *slog.Logger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr, "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

func routes(d *daemon, registry *metric.MetricsRegistry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", registry.Handler())
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /stats", d.handleStats)
	mux.HandleFunc("GET /queue", d.handleQueue)
	mux.HandleFunc("GET /events", d.handleEvents)
	mux.HandleFunc("POST /sync", d.handleSync)
	mux.HandleFunc("POST /queue/{id}/retry", d.handleRetry)
	mux.HandleFunc("POST /queue/{id}/discard", d.handleDiscard)
	mux.HandleFunc("DELETE /queue/{id}", d.handleCancel)
	mux.HandleFunc("PUT /connectivity", d.handleConnectivity)
	return mux
}

func (d *daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := d.current().Health()
	code := http.StatusOK
	if status.Status == health.StateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

type natsStats struct {
	Status      string    `json:"status"`
	Failures    int32     `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	RTTMs       int64     `json:"rtt_ms"`
}

func (d *daemon) handleStats(w http.ResponseWriter, _ *http.Request) {
	sys := d.current()
	stats := map[string]any{
		"online":      sys.Online(),
		"cache":       sys.CacheStats(),
		"performance": sys.Metrics().Report(),
		"queued":      sys.QueueLength(),
	}
	if d.deps.NATS != nil {
		st := d.deps.NATS.GetStatus()
		stats["nats"] = natsStats{
			Status:      st.Status.String(),
			Failures:    st.FailureCount,
			LastFailure: st.LastFailureTime,
			RTTMs:       st.RTT.Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

type queueResponse struct {
	Pending    int                      `json:"pending"`
	Operations []queue.PendingOperation `json:"operations"`
}

func (d *daemon) handleQueue(w http.ResponseWriter, _ *http.Request) {
	sys := d.current()
	writeJSON(w, http.StatusOK, queueResponse{
		Pending:    sys.QueueLength(),
		Operations: sys.PendingOperations(),
	})
}

func (d *daemon) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.current().RecentEvents())
}

func (d *daemon) handleSync(w http.ResponseWriter, r *http.Request) {
	summary, err := d.current().Sync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (d *daemon) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := d.current().Retry(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (d *daemon) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := d.current().Discard(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *daemon) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := d.current().Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

// handleConnectivity drives a manual connectivity source.
func (d *daemon) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	manual, ok := d.current().Monitor().(*connectivity.Manual)
	if !ok {
		http.Error(w, "connectivity is not manually controlled", http.StatusConflict)
		return
	}

	var req connectivityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	manual.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, map[string]string{"state": manual.State().String()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, queue.ErrNotFailed), errors.Is(err, queue.ErrNotCancellable), errors.Is(err, queue.ErrBusy):
		code = http.StatusConflict
	case errors.IsInvalid(err):
		code = http.StatusBadRequest
	case errors.IsTransient(err):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, health.Sanitize(err.Error()), code)
}
