// Package webhook exposes the provider-facing HTTP surface. Every callback
// endpoint acknowledges with 200 regardless of processing outcome; providers
// retry on non-2xx and a retry storm never helps a handler that is failing
// on its own data.
package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/normalizer"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/internal/tenant"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"gitlab.com/hearthline/api/telephony-engine/pkg/utils"
)

// emptyTwiML is the no-op instruction document Twilio expects back from a
// webhook that handles the event itself.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

const (
	kindMessage = "message"
	kindStatus  = "status"
	kindVoice   = "voice"
)

type messageProcessor interface {
	ProcessInboundMessage(ctx context.Context, ev *normalizer.InboundEvent) error
}

type statusProcessor interface {
	ProcessStatusCallback(ctx context.Context, ev *normalizer.InboundEvent) error
}

type callProcessor interface {
	HandleCallEvent(ctx context.Context, ev *normalizer.InboundEvent) error
}

// Server hosts the webhook endpoints plus the health and metrics surface.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *zap.Logger

	adapters map[string]normalizer.Adapter
	messages messageProcessor
	statuses statusProcessor
	calls    callProcessor
}

// HealthResponse is the response structure for health check endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewServer builds the webhook server with one route set per registered
// provider adapter.
func NewServer(addr string, adapters []normalizer.Adapter, messages messageProcessor, statuses statusProcessor, calls callProcessor, log *zap.Logger) *Server {
	byProvider := make(map[string]normalizer.Adapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}

	router := chi.NewRouter()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router:   router,
		logger:   log,
		adapters: byProvider,
		messages: messages,
		statuses: statuses,
		calls:    calls,
	}

	router.Use(s.requestContext)
	router.Route("/webhooks/{provider}", func(r chi.Router) {
		r.Post("/message", s.handleMessage)
		r.Post("/status", s.handleStatus)
		r.Post("/voice", s.handleVoice)
	})
	router.Get("/health", s.handleHealth)
	router.Get("/ready", s.handleReady)

	return s
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.router.Handle("/metrics", handler)
}

// Start begins serving in the background.
func (s *Server) Start() {
	utils.SafeGo(func() {
		s.logger.Info("Starting webhook server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Webhook server error", zap.Error(err))
		}
	})
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping webhook server")
	return s.httpServer.Shutdown(ctx)
}

// requestContext stamps every request with a request id and a request-scoped
// logger before handler code runs.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := tenant.WithRequestID(r.Context(), requestID)
		ctx = logger.WithLogger(ctx, s.logger.With(zap.String("request_id", requestID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	s.handleEvent(w, r, kindMessage)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.handleEvent(w, r, kindStatus)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	s.handleEvent(w, r, kindVoice)
}

// handleEvent runs the parse-dispatch cycle shared by all callback kinds.
// Parse and processing failures are logged and counted; the provider still
// gets its 200.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request, kind string) {
	providerName := chi.URLParam(r, "provider")
	log := logger.FromContext(r.Context()).With(
		zap.String("provider", providerName),
		zap.String("kind", kind))

	adapter, ok := s.adapters[providerName]
	if !ok {
		http.NotFound(w, r)
		return
	}
	observer.IncWebhookReceived(providerName, kind)
	startTime := time.Now()

	ev, err := s.parse(adapter, r, kind)
	if err != nil {
		observer.IncWebhookMalformed(providerName)
		log.Warn("malformed webhook payload", zap.Error(err))
		s.acknowledge(w, providerName, kind)
		return
	}

	if err := s.dispatch(r.Context(), ev, kind); err != nil {
		observer.IncWebhookFailed(providerName, kind)
		log.Error("webhook processing failed", zap.Error(err))
	}
	observer.ObserveEventProcessingDuration(providerName, kind, time.Since(startTime))
	s.acknowledge(w, providerName, kind)
}

func (s *Server) parse(adapter normalizer.Adapter, r *http.Request, kind string) (*normalizer.InboundEvent, error) {
	switch kind {
	case kindStatus:
		return adapter.ParseStatus(r)
	case kindVoice:
		return adapter.ParseCall(r)
	default:
		return adapter.ParseMessage(r)
	}
}

func (s *Server) dispatch(ctx context.Context, ev *normalizer.InboundEvent, kind string) error {
	switch kind {
	case kindStatus:
		return s.statuses.ProcessStatusCallback(ctx, ev)
	case kindVoice:
		return s.calls.HandleCallEvent(ctx, ev)
	default:
		return s.messages.ProcessInboundMessage(ctx, ev)
	}
}

// acknowledge answers in the dialect the provider expects: Twilio wants an
// instruction document, the rest accept plain JSON.
func (s *Server) acknowledge(w http.ResponseWriter, providerName, kind string) {
	if providerName == model.ProviderTwilio && kind != kindStatus {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(emptyTwiML)); err != nil {
			s.logger.Warn("failed to write response", zap.Error(err))
		}
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth handles the /health endpoint for liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "UP",
		Version: "1.0.0",
	}
	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleReady handles the /ready endpoint for readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "READY",
		Details: map[string]string{
			"timestamp": utils.FormatISO8601(utils.Now()),
		},
	}
	utils.WriteJSONResponse(w, http.StatusOK, resp)
}
