// Package mgmtapi exposes the controller over HTTP: JSON operations in, JSON
// results out, plus health and Prometheus endpoints.
package mgmtapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Masterminds/semver/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vk/brokerconf/internal/controller"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/transform"
)

const maxBodyBytes = 1 << 20

// Server serves the management endpoint of one controller.
type Server struct {
	ctrl   *controller.Controller
	logger *slog.Logger
}

// New creates a management endpoint for ctrl.
func New(ctrl *controller.Controller, logger *slog.Logger) *Server {
	return &Server{ctrl: ctrl, logger: logger}
}

// Handler returns the routes of the endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /management", s.handleOperation)
	mux.HandleFunc("POST /management/transform", s.handleTransform)
	mux.HandleFunc("GET /health", s.handleHealth)
	if m := s.ctrl.Metrics(); m != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	ctx := ctxlog.WithLogger(r.Context(), s.logger)
	op, err := operation.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Debug("Rejected malformed operation.", "remote_addr", r.RemoteAddr, "error", err)
		writeJSON(w, http.StatusBadRequest, operation.FailedResult(err))
		return
	}
	res := s.ctrl.Execute(ctx, op)
	writeJSON(w, statusOf(res), res)
}

type transformResponse struct {
	Outcome   string               `json:"outcome"`
	Operation *operation.Operation `json:"operation,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	version, err := semver.NewVersion(r.URL.Query().Get("version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, failure.Wrap(failure.ValidationFailed, err, "invalid version %q", r.URL.Query().Get("version")))
		return
	}
	op, err := operation.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := s.ctrl.Transform(op, version)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	resp := transformResponse{Outcome: out.Action.String(), Reason: out.Reason}
	if out.Action == transform.Accept {
		resp.Operation = out.Operation
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status         string `json:"status"`
	ReloadRequired bool   `json:"reload-required"`
	Services       int    `json:"services"`
	ModelVersion   string `json:"model-version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	status := "ok"
	if s.ctrl.ReloadRequired() {
		status = "reload-required"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         status,
		ReloadRequired: s.ctrl.ReloadRequired(),
		Services:       s.ctrl.Services().Count(),
		ModelVersion:   s.ctrl.Registry().ModelVersion().String(),
	})
}

// statusOf maps a result to an HTTP status. Failed operations are client
// errors when the request itself was invalid.
func statusOf(res *operation.Result) int {
	if res.Succeeded() {
		return http.StatusOK
	}
	switch failure.CategoryOf(res.FailureKind) {
	case failure.CategoryValidation:
		return http.StatusBadRequest
	case failure.CategoryConcurrentModification:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string       `json:"error"`
	Kind  failure.Kind `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: failure.Describe(err), Kind: failure.KindOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(errorResponse{Error: err.Error()})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
