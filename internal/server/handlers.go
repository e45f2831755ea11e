package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"deployhook/internal/deployment"
	"deployhook/internal/eventlog"
	"deployhook/internal/target"
	"deployhook/internal/webhook"

	"github.com/go-chi/chi/v5"
)

const (
	MaxPayloadBytes = 1 << 20 // 1 MB
)

// Values of the "status" field in webhook responses.
const (
	StatusIgnored   = "ignored"
	StatusTriggered = "triggered"
)

// Result labels for the webhook events metric.
const (
	resultInvalid      = "invalid"
	resultUnsupported  = "unsupported"
	resultUnauthorized = "unauthorized"
	resultIgnored      = "ignored"
	resultBusy         = "busy"
	resultTriggered    = "triggered"
)

// WebhookHandler returns the webhook handler bound to t.
func (s *Server) WebhookHandler(t *target.Target) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.handleWebhook(w, r, t)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, t *target.Target) {
	logger := s.Logger.With("target", t.Name)

	// ContentLength is -1 when unknown; MaxBytesReader covers that case.
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if _, _, err := webhook.Identify(r.Header); err != nil {
		s.rejectUnsupported(w, r, logger, t)
		return
	}

	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		logger.Error("failed to read request body", "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read payload"})
		return
	}

	ev, err := webhook.NewEvent(r.Header, s.requestHost(r), body)
	if err != nil {
		s.rejectUnsupported(w, r, logger, t)
		return
	}
	logger = logger.With("provider", ev.Provider.DisplayName(), "event", ev.Type)

	if !webhook.Verify(ev, t.Secret) {
		logger.Warn("webhook rejected: verification failed", "remote_addr", r.RemoteAddr)
		s.Metrics.WebhookEvent(t.Name, string(ev.Provider), resultUnauthorized)
		s.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	if !json.Valid(body) {
		logger.Warn("webhook rejected: invalid JSON payload")
		s.Metrics.WebhookEvent(t.Name, string(ev.Provider), resultInvalid)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	profile := s.Resolver.Resolve(ev.Host)
	logger.Info("webhook received",
		"host", ev.Host,
		"environment", profile.Name,
		"branch", profile.Branch,
		"delivery_id", ev.DeliveryID)

	job, decision := deployment.Decide(ev, t, profile, s.Config.Timeout)
	if job == nil {
		logger.Info("deploy skipped", "reason", decision.Reason)
		s.Metrics.WebhookEvent(t.Name, string(ev.Provider), resultIgnored)
		s.respondJSON(w, http.StatusOK, map[string]string{
			"status": StatusIgnored,
			"reason": decision.Reason,
		})
		return
	}

	if !s.LockManager.TryLock(t.Name) {
		logger.Warn("deploy rejected: already in progress", "reason", decision.Reason)
		s.Metrics.WebhookEvent(t.Name, string(ev.Provider), resultBusy)
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Deployment already in progress"})
		return
	}

	logger.Info("deploy triggered", "job_id", job.ID, "reason", job.Reason)
	s.Metrics.WebhookEvent(t.Name, string(ev.Provider), resultTriggered)

	// The task handle is only used to release the lock; the outcome is
	// recorded by the supervisor.
	task := s.Supervisor.Dispatch(job)
	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.LockManager.Unlock(t.Name)
		<-task.Done()
	}()

	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": StatusTriggered,
		"job_id": job.ID,
		"reason": job.Reason,
	})
}

func (s *Server) rejectUnsupported(w http.ResponseWriter, r *http.Request, logger *slog.Logger, t *target.Target) {
	logger.Warn("webhook rejected: unsupported source", "remote_addr", r.RemoteAddr)
	s.Metrics.WebhookEvent(t.Name, "unknown", resultUnsupported)
	s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Unsupported source"})
}

// requestHost returns the host the webhook was addressed to.
func (s *Server) requestHost(r *http.Request) string {
	if s.Config.TrustForwardedHost {
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	return r.Host
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	loc := s.Config.Location
	if loc == nil {
		loc = time.Local
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "running",
		"time":    time.Now().In(loc).Format(eventlog.TimestampLayout),
		"port":    s.Config.Port,
		"targets": s.Registry.List(),
	})
}

// HandleStatus reports whether a deploy is running for a target and the
// outcome of the last one since startup.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	targetName := chi.URLParam(r, "targetName")

	t, err := s.Registry.Get(targetName)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
		return
	}

	running, last := s.Supervisor.Status(t.Name)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"target":       t.Name,
		"path":         t.Path,
		"in_flight":    running,
		"last_outcome": last,
	})
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	if err := writeJSON(w, statusCode, data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}
