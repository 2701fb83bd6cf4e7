package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/queue"
)

// DefaultMaxBodyBytes bounds a delivery body.
const DefaultMaxBodyBytes int64 = 1 << 20

const correlationHeader = "X-Correlation-Id"

// Accepted is the response body for a queued delivery.
type Accepted struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
}

// Server is the webhook HTTP receiver.
type Server struct {
	queue        queue.Enqueuer
	validator    *Validator
	secrets      map[core.Vendor]string
	connections  map[core.Connection]bool
	maxBodyBytes int64
	logger       *slog.Logger
	now          func() time.Time
	mux          *http.ServeMux
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithSecret requires deliveries from vendor to be signed with secret.
// Vendors without a secret are accepted unsigned.
func WithSecret(vendor core.Vendor, secret string) Option {
	return func(s *Server) error {
		if secret != "" {
			s.secrets[vendor] = secret
		}
		return nil
	}
}

// WithConnections restricts deliveries to the given tenant connections.
// Without it any valid tenant id is accepted.
func WithConnections(conns []core.Connection) Option {
	return func(s *Server) error {
		if s.connections == nil {
			s.connections = make(map[core.Connection]bool, len(conns))
		}
		for _, c := range conns {
			s.connections[c] = true
		}
		return nil
	}
}

// WithMaxBodyBytes sets the body size limit.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) error {
		if n <= 0 {
			return ErrInvalidMaxBody
		}
		s.maxBodyBytes = n
		return nil
	}
}

// WithClock overrides the receive timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) error {
		s.now = now
		return nil
	}
}

// NewServer creates a receiver that enqueues accepted deliveries on q.
func NewServer(q queue.Enqueuer, opts ...Option) (*Server, error) {
	if q == nil {
		return nil, ErrQueueRequired
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		queue:        q,
		validator:    validator,
		secrets:      make(map[core.Vendor]string),
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "webhook-server")

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /webhooks/{vendor}/{tenant}", s.handleDelivery)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook receiver listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	vendor := core.Vendor(r.PathValue("vendor"))
	tenantID := r.PathValue("tenant")
	logger := s.logger.With("vendor", vendor, "tenant_id", tenantID, "correlation_id", correlationID)

	if err := core.ValidateConnection(tenantID, vendor); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
		return
	}
	if s.connections != nil && !s.connections[core.Connection{TenantID: tenantID, Vendor: vendor}] {
		writeError(w, http.StatusNotFound, "not_found", "unknown connection", correlationID)
		return
	}

	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	if secret, signed := s.secrets[vendor]; signed {
		if err := VerifySignature(secret, r.Header.Get(SignatureHeader(vendor)), body); err != nil {
			logger.Warn("rejected webhook delivery", "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), correlationID)
			return
		}
	}
	if err := s.validator.Validate(body); err != nil {
		logger.Warn("invalid webhook delivery", "err", err)
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}

	cfg := core.WebhookJobConfig{
		TenantID:   tenantID,
		Vendor:     vendor,
		Body:       json.RawMessage(body),
		ReceivedAt: s.now().UTC(),
	}
	jobID, err := jobs.Enqueue(r.Context(), s.queue, jobs.KindWebhook, cfg, nil)
	if err != nil {
		logger.Error("error enqueueing webhook delivery", "err", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not queue delivery", correlationID)
		return
	}
	logger.Debug("queued webhook delivery", "job_id", jobID, "bytes", len(body))
	writeJSON(w, http.StatusAccepted, Accepted{JobID: jobID, CorrelationID: correlationID})
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
