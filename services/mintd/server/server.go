package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/oracle"
	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
	"github.com/rikitrader/secure-mint-engine-sub001/native/policy"
	"github.com/rikitrader/secure-mint-engine-sub001/native/redemption"
	"github.com/rikitrader/secure-mint-engine-sub001/native/timelock"
	"github.com/rikitrader/secure-mint-engine-sub001/native/treasury"
	"github.com/rikitrader/secure-mint-engine-sub001/observability"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/engine"
)

// Config carries the dependencies required to construct the HTTP server.
type Config struct {
	Service   *engine.Service
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Logger    *slog.Logger
}

// Server exposes the mint engine over HTTP.
type Server struct {
	svc    *engine.Service
	logger *slog.Logger
	router http.Handler
}

// New constructs a configured router with authentication, rate limiting and
// per-route observability.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{svc: cfg.Service, logger: logger}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler returns the assembled router wrapped in OTLP HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "mintd")
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	auth := NewAuthenticator(cfg.Auth, s.logger)
	limiter := NewRateLimiter(cfg.RateLimit)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)
	r.Use(limiter.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/status", s.handleStatus)
		api.Get("/invariants", s.handleInvariants)
		api.Get("/treasury/attestation.csv", s.handleAttestationCSV)
		api.Get("/treasury/payouts", s.handlePayoutInstructions)

		api.Group(func(protected chi.Router) {
			protected.Use(auth.Middleware)
			protected.Post("/attestations", s.handleSubmitAttestation)
			protected.Post("/mint", s.handleMint)
			protected.Post("/mint/validate", s.handleValidateMintBatch)
			protected.Post("/redemptions", s.handleRequestRedemption)
			protected.Post("/redemptions/{holder}/execute", s.handleExecuteRedemption)
			protected.Post("/redemptions/{holder}/cancel", s.handleCancelRedemption)
			protected.Post("/treasury/deposit", s.handleTreasuryDeposit)
			protected.Post("/treasury/withdraw", s.handleTreasuryWithdraw)
			protected.Post("/treasury/transfer", s.handleTreasuryTransfer)
			protected.Post("/treasury/rebalance", s.handleTreasuryRebalance)
			protected.Post("/treasury/emergency-withdraw", s.handleEmergencyWithdraw)
			protected.Post("/peg", s.handleReportPegDeviation)
			protected.Post("/pause/escalate", s.handleEscalate)
			protected.Post("/pause/resume", s.handleResume)
			protected.Post("/changes/{param}/propose", s.handleProposeChange)
			protected.Post("/changes/{param}/execute", s.handleExecuteChange)
			protected.Post("/changes/{param}/cancel", s.handleCancelChange)
		})
	})
	return r
}

// requestID stamps every request with a UUID unless the caller supplied one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		observability.API().Observe(r.URL.Path, recorder.status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("mintd: encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain sentinels onto HTTP status codes. Unrecognised errors
// surface as 500 so operators notice them.
func statusFor(err error) int {
	switch {
	case errors.Is(err, access.ErrNotAuthorized),
		errors.Is(err, policy.ErrSanctioned):
		return http.StatusForbidden
	case errors.Is(err, pause.ErrPaused):
		return http.StatusLocked
	case errors.Is(err, timelock.ErrTimelockNotReady),
		errors.Is(err, redemption.ErrRedemptionNotReady):
		return http.StatusTooEarly
	case errors.Is(err, timelock.ErrNoPendingChange),
		errors.Is(err, redemption.ErrNoPendingRedemption),
		errors.Is(err, oracle.ErrUnknownAttestor):
		return http.StatusNotFound
	case errors.Is(err, timelock.ErrChangeAlreadyPending),
		errors.Is(err, redemption.ErrPendingRequestExists):
		return http.StatusConflict
	case errors.Is(err, policy.ErrEpochCapExceeded),
		errors.Is(err, policy.ErrGlobalCapExceeded),
		errors.Is(err, policy.ErrInsufficientBacking),
		errors.Is(err, redemption.ErrDailyLimitExceeded),
		errors.Is(err, treasury.ErrInsufficientBalance),
		errors.Is(err, oracle.ErrOracleUnhealthy),
		errors.Is(err, oracle.ErrOracleStale),
		errors.Is(err, pause.ErrOracleUnhealthy):
		return http.StatusConflict
	case errors.Is(err, policy.ErrZeroAmount),
		errors.Is(err, policy.ErrZeroAddress),
		errors.Is(err, redemption.ErrZeroAmount),
		errors.Is(err, redemption.ErrZeroAddress),
		errors.Is(err, redemption.ErrBelowMinimum),
		errors.Is(err, treasury.ErrZeroAmount),
		errors.Is(err, treasury.ErrInvalidTier),
		errors.Is(err, treasury.ErrAllocationSum),
		errors.Is(err, oracle.ErrInvalidBacking),
		errors.Is(err, pause.ErrInvalidLevel),
		errors.Is(err, pause.ErrNotEscalation),
		errors.Is(err, pause.ErrNotDeescalation),
		errors.Is(err, pause.ErrAboveGuardianCeiling),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
