package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"petboarding/internal/config"
	"petboarding/internal/metrics"
	"petboarding/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Services are the application services behind the HTTP API.
type Services struct {
	Booking  *service.BookingService
	Baskets  *service.BasketService
	Payments *service.PaymentService
	// Ready checks storage for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// HTTPServer exposes the booking, basket and payment flows as JSON over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	router *mux.Router
	server *http.Server
	auth   *HTTPAuth
	log    zerolog.Logger
}

const (
	routeAvailability     = "availability"
	routeBook             = "book"
	routeGetReservation   = "get_reservation"
	routeUserReservations = "user_reservations"
	routeCancel           = "cancel_reservation"
	routeReschedule       = "reschedule_reservation"
	routeComments         = "update_comments"
	routeStart            = "start_reservation"
	routeComplete         = "complete_reservation"
	routeGetBasket        = "get_basket"
	routeAddToBasket      = "add_to_basket"
	routeRemoveFromBasket = "remove_from_basket"
	routeClearBasket      = "clear_basket"
	routeCheckout         = "checkout"
	routeRetryPayment     = "retry_payment"
	routeGetPayment       = "get_payment"
	routeConfirmPayment   = "confirm_payment"
	routeFailPayment      = "fail_payment"
	routeNotFoundEndpoint = "not_found"
	routeUnknownEndpoint  = "unknown"
)

var routePermissions = map[string]string{
	routeAvailability:     permReadAvailability,
	routeBook:             permWriteReservations,
	routeGetReservation:   permReadReservations,
	routeUserReservations: permReadReservations,
	routeCancel:           permWriteReservations,
	routeReschedule:       permWriteReservations,
	routeComments:         permWriteReservations,
	routeStart:            permWriteReservations,
	routeComplete:         permWriteReservations,
	routeGetBasket:        permReadReservations,
	routeAddToBasket:      permWriteReservations,
	routeRemoveFromBasket: permWriteReservations,
	routeClearBasket:      permWriteReservations,
	routeCheckout:         permWritePayments,
	routeRetryPayment:     permWritePayments,
	routeGetPayment:       permWritePayments,
	routeConfirmPayment:   permWritePayments,
	routeFailPayment:      permWritePayments,
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, svc: svc, auth: NewHTTPAuth(cfg), log: zerolog.Nop()}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	r := mux.NewRouter()
	r.Use(srv.recoverMiddleware, srv.loggingMiddleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metrics.IncHTTP(routeNotFoundEndpoint)
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", srv.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(srv.auth.Middleware)

	api.HandleFunc("/plannings/{id}/availability", srv.handleAvailability).Methods(http.MethodGet).Name(routeAvailability)

	api.HandleFunc("/reservations", srv.handleBook).Methods(http.MethodPost).Name(routeBook)
	api.HandleFunc("/reservations/{id}", srv.handleGetReservation).Methods(http.MethodGet).Name(routeGetReservation)
	api.HandleFunc("/reservations/{id}/cancel", srv.handleCancel).Methods(http.MethodPost).Name(routeCancel)
	api.HandleFunc("/reservations/{id}/reschedule", srv.handleReschedule).Methods(http.MethodPost).Name(routeReschedule)
	api.HandleFunc("/reservations/{id}/comments", srv.handleComments).Methods(http.MethodPatch).Name(routeComments)
	api.HandleFunc("/reservations/{id}/start", srv.handleStart).Methods(http.MethodPost).Name(routeStart)
	api.HandleFunc("/reservations/{id}/complete", srv.handleComplete).Methods(http.MethodPost).Name(routeComplete)
	api.HandleFunc("/users/{userID}/reservations", srv.handleUserReservations).Methods(http.MethodGet).Name(routeUserReservations)

	api.HandleFunc("/baskets/{userID}", srv.handleGetBasket).Methods(http.MethodGet).Name(routeGetBasket)
	api.HandleFunc("/baskets/{userID}", srv.handleClearBasket).Methods(http.MethodDelete).Name(routeClearBasket)
	api.HandleFunc("/baskets/{userID}/items", srv.handleAddToBasket).Methods(http.MethodPost).Name(routeAddToBasket)
	api.HandleFunc("/baskets/{userID}/items/{reservationID}", srv.handleRemoveFromBasket).Methods(http.MethodDelete).Name(routeRemoveFromBasket)
	api.HandleFunc("/baskets/{id}/checkout", srv.handleCheckout).Methods(http.MethodPost).Name(routeCheckout)
	api.HandleFunc("/baskets/{id}/retry", srv.handleRetryPayment).Methods(http.MethodPost).Name(routeRetryPayment)

	api.HandleFunc("/payments/{id}", srv.handleGetPayment).Methods(http.MethodGet).Name(routeGetPayment)
	api.HandleFunc("/payments/{id}/confirm", srv.handleConfirmPayment).Methods(http.MethodPost).Name(routeConfirmPayment)
	api.HandleFunc("/payments/{id}/fail", srv.handleFailPayment).Methods(http.MethodPost).Name(routeFailPayment)

	srv.router = r
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ready != nil {
		if err := s.svc.Ready(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg      config.APIConfig
	registry *clientRegistry
	limiter  *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:      cfg,
		registry: newClientRegistry(cfg.Auth),
		limiter:  newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

var (
	errMissingAPIKey    = errors.New("missing api key header")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
)

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := r.Header.Get(a.registry.header)
	if apiKey == "" {
		return errMissingAPIKey
	}

	client, ok := a.registry.lookup(apiKey)
	if !ok {
		return errInvalidAPIKey
	}

	if !hasPermission(client, routePermissions[routeName(r)]) {
		return errPermissionDenied
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := r.Header.Get(a.registry.header); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		return route.GetName()
	}
	return ""
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return routeUnknownEndpoint
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		recorder.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(recorder, r)

		endpoint := routeTemplate(r)
		metrics.IncHTTP(endpoint)

		ev := s.log.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("request_id", requestID).
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("http handler panic")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
