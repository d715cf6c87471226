package provision

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"echokit/internal/battery"
	"echokit/internal/config"
	appLog "echokit/internal/log"
	"echokit/internal/settings"
)

// HTTP serves a small setup API on the local network. It accepts the same
// writes as the Bluetooth service.
//
//	GET  /health          liveness, never authenticated
//	GET  /api/settings    current ssid and server_url
//	POST /api/settings    {"ssid":..,"pass":..,"server_url":..}, any subset
//	PUT  /api/background  raw GIF body
//	GET  /api/battery     {"percent":..,"voltage_mv":..}
type HTTP struct {
	Listen  string
	Auth    *config.BasicAuth
	Battery battery.Reader

	mu      sync.Mutex
	srv     *http.Server
	handler *Handler
	ctx     context.Context

	batteryMu    sync.RWMutex
	batteryCache *batteryCache
}

type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

const batteryCacheTTL = 30 * time.Second

// settingsRequest uses pointers so absent fields are left untouched.
type settingsRequest struct {
	SSID      *string `json:"ssid"`
	Pass      *string `json:"pass"`
	ServerURL *string `json:"server_url"`
}

type settingsResponse struct {
	SSID      string `json:"ssid"`
	ServerURL string `json:"server_url"`
	HasPass   bool   `json:"has_pass"`
}

type batteryResponse struct {
	Percent   int `json:"percent"`
	VoltageMv int `json:"voltage_mv"`
}

// Start listens on h.Listen and serves until Stop.
func (h *HTTP) Start(ctx context.Context, sh *settings.Shared) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.srv != nil {
		return errStarted
	}

	ln, err := net.Listen("tcp", h.Listen)
	if err != nil {
		return fmt.Errorf("provision: listen %s: %w", h.Listen, err)
	}

	h.handler = &Handler{Shared: sh}
	h.ctx = ctx
	h.srv = &http.Server{
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv := h.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("provisioning HTTP server failed", err)
		}
	}()
	appLog.Info("HTTP provisioning started", "listen", "http://"+ln.Addr().String(), "auth", h.authEnabled())
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (h *HTTP) Stop() error {
	h.mu.Lock()
	srv := h.srv
	h.srv = nil
	h.handler = nil
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (h *HTTP) current() (*Handler, context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler, h.ctx
}

func (h *HTTP) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("POST /api/settings", h.handlePostSettings)
	mux.HandleFunc("PUT /api/background", h.handleBackground)
	mux.HandleFunc("GET /api/battery", h.handleBattery)

	if h.authEnabled() {
		return h.basicAuthMiddleware(mux)
	}
	return mux
}

func (h *HTTP) authEnabled() bool {
	return h.Auth != nil && h.Auth.Username != "" && h.Auth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (h *HTTP) basicAuthMiddleware(next http.Handler) http.Handler {
	username := h.Auth.Username
	password := h.Auth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="EchoKit", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *HTTP) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *HTTP) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	hd, _ := h.current()
	if hd == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning stopped")
		return
	}
	s, err := hd.Shared.Snapshot()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{SSID: s.SSID, ServerURL: s.ServerURL, HasPass: s.Pass != ""})
}

func (h *HTTP) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	hd, ctx := h.current()
	if hd == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning stopped")
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	fields := []struct {
		f Field
		v *string
	}{
		{FieldSSID, req.SSID},
		{FieldPass, req.Pass},
		{FieldServerURL, req.ServerURL},
	}
	for _, fv := range fields {
		if fv.v == nil {
			continue
		}
		if err := hd.Write(ctx, fv.f, []byte(*fv.v)); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) handleBackground(w http.ResponseWriter, r *http.Request) {
	hd, ctx := h.current()
	if hd == nil {
		writeError(w, http.StatusServiceUnavailable, "provisioning stopped")
		return
	}

	if err := hd.Write(ctx, FieldBackgroundBegin, nil); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	buf := make([]byte, 4096)
	body := http.MaxBytesReader(w, r.Body, settings.MaxBackground)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if werr := hd.Write(ctx, FieldBackgroundChunk, buf[:n]); werr != nil {
				writeError(w, statusFor(werr), werr.Error())
				return
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeError(w, http.StatusRequestEntityTooLarge, "background too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}
	}
	if err := hd.Write(ctx, FieldBackgroundEnd, nil); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBattery serves a cached reading; the gauge does not need
// sub-second freshness.
func (h *HTTP) handleBattery(w http.ResponseWriter, r *http.Request) {
	if h.Battery == nil {
		writeError(w, http.StatusNotFound, "battery reader unavailable")
		return
	}

	h.batteryMu.RLock()
	bc := h.batteryCache
	h.batteryMu.RUnlock()
	if bc != nil && time.Since(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, batteryResponse{Percent: bc.status.Percent, VoltageMv: bc.status.VoltageMv})
		return
	}

	status, err := h.Battery.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	h.batteryMu.Lock()
	h.batteryCache = &batteryCache{status: status, updatedAt: time.Now()}
	h.batteryMu.Unlock()

	writeJSON(w, http.StatusOK, batteryResponse{Percent: status.Percent, VoltageMv: status.VoltageMv})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, settings.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, settings.ErrReleased):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// Multi runs several transports side by side.
type Multi []Transport

// Start starts every transport. It fails only if none started.
func (m Multi) Start(ctx context.Context, sh *settings.Shared) error {
	var errs []error
	started := 0
	for _, t := range m {
		if err := t.Start(ctx, sh); err != nil {
			appLog.Error("provisioning transport failed to start", err, "transport", fmt.Sprintf("%T", t))
			errs = append(errs, err)
			continue
		}
		started++
	}
	if started == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (m Multi) Stop() error {
	var errs []error
	for _, t := range m {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
