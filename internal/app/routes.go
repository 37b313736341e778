package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/utsavkredmint/exotel-based-call/internal/dialer"
	"github.com/utsavkredmint/exotel-based-call/internal/observe"
	"github.com/utsavkredmint/exotel-based-call/internal/resilience"
	"github.com/utsavkredmint/exotel-based-call/pkg/audio/exotel"
)

// maxRequestBytes caps control API request bodies.
const maxRequestBytes = 4 << 10

// Handler returns the root HTTP handler. The telephony stream route is served
// directly; every other route goes through the observability middleware.
// The stream path is fixed when Handler is called.
func (a *App) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /make-call", a.handleMakeCall)
	api.HandleFunc("GET /calls", a.handleListCalls)
	api.HandleFunc("POST /calls/{id}/stop", a.handleStopCall)
	api.Handle("GET /metrics", observe.MetricsHandler(a.promRegistry))
	a.health.Register(api)

	root := http.NewServeMux()
	root.HandleFunc(a.config().Server.StreamPath, a.handleStream)
	root.Handle("/", observe.Middleware(a.metrics)(api))
	return root
}

// handleStream upgrades the telephony provider's request and bridges the
// call until it ends.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	if a.health.Draining() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := exotel.Accept(w, r, &websocket.AcceptOptions{
		// The telephony provider does not send a browser Origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("telephony stream upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	slog.Info("telephony stream connected", "remote", r.RemoteAddr)

	sum := a.bridge.Load().Serve(r.Context(), conn)
	if sum.Err != nil {
		slog.Debug("telephony stream closed with error", "call_id", sum.CallID, "err", sum.Err)
	}
}

type makeCallRequest struct {
	To string `json:"to"`
}

// handleMakeCall places an outbound call and relays the provider's response.
func (a *App) handleMakeCall(w http.ResponseWriter, r *http.Request) {
	d := a.currentDialer()
	if d == nil {
		writeError(w, http.StatusServiceUnavailable, "outbound calls are not configured")
		return
	}

	var req makeCallRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := d.Call(r.Context(), req.To)
	if err != nil {
		status := http.StatusBadGateway
		var apiErr *dialer.APIError
		switch {
		case errors.Is(err, dialer.ErrInvalidNumber):
			status = http.StatusBadRequest
		case errors.Is(err, resilience.ErrCircuitOpen):
			status = http.StatusServiceUnavailable
		case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
			status = apiErr.StatusCode
		}
		observe.Logger(r.Context()).Warn("make-call failed", "to", req.To, "err", err)
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if len(res.Raw) > 0 {
		_, _ = w.Write(res.Raw)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *App) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"calls": a.calls.List()})
}

func (a *App) handleStopCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, stopped := a.calls.Stop(id)
	if !found {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	observe.Logger(r.Context()).Info("call stop requested", "call_id", id, "stopped", stopped)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "stopped": stopped})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}
