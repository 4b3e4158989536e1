// Package api exposes the trigger lifecycle, instant swaps and admin
// operations over HTTP JSON, plus a websocket stream of lifecycle events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/observability"
	"trigger-keeper/internal/registry"
	"trigger-keeper/internal/swap"
)

const maxBodyBytes = 1 << 16

// Triggers is the trigger lifecycle surface.
type Triggers interface {
	Create(ctx context.Context, req registry.CreateRequest) (*domain.Trigger, *big.Int, error)
	Cancel(ctx context.Context, id uint64, caller domain.Address) (*domain.Trigger, error)
	Execute(ctx context.Context, id uint64, caller domain.Address) (*domain.Swap, error)
	Expire(ctx context.Context, id uint64) (*domain.Trigger, error)
	Get(ctx context.Context, id uint64) (*domain.Trigger, error)
	ListByOwner(ctx context.Context, owner domain.Address) ([]*domain.Trigger, error)
	Fees() registry.FeeSchedule
}

// Swaps issues direct conversions.
type Swaps interface {
	InstantSwap(ctx context.Context, req swap.Request) (*domain.Swap, error)
}

// Assets manages the asset index registry.
type Assets interface {
	Upsert(ctx context.Context, caller domain.Address, e domain.AssetEntry) (*domain.AssetEntry, error)
	List(ctx context.Context) ([]*domain.AssetEntry, error)
}

// Roles manages capabilities.
type Roles interface {
	Grant(ctx context.Context, caller, account domain.Address, c domain.Capability) error
	Revoke(ctx context.Context, caller, account domain.Address, c domain.Capability) error
	List(ctx context.Context) ([]*domain.RoleGrant, error)
}

// Server routes API requests to the services.
type Server struct {
	triggers Triggers
	swaps    Swaps
	assets   Assets
	roles    Roles
	hub      *Hub
	auth     *authenticator
	log      *logger.Entry
}

// Option configures a Server.
type Option func(*Server)

// WithSignatureWindow sets the allowed request timestamp skew. Non-positive
// values keep DefaultSignatureWindow.
func WithSignatureWindow(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.auth.window = d
		}
	}
}

// WithClock overrides the time source used to check request timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.auth.now = now }
}

// NewServer creates a Server. hub may be nil to disable the event stream.
func NewServer(triggers Triggers, swaps Swaps, assets Assets, roles Roles, hub *Hub, log *logger.Entry, opts ...Option) *Server {
	s := &Server{
		triggers: triggers,
		swaps:    swaps,
		assets:   assets,
		roles:    roles,
		hub:      hub,
		auth:     newAuthenticator(),
		log:      log.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /triggers", s.handleCreateTrigger)
	mux.HandleFunc("GET /triggers/{id}", s.handleGetTrigger)
	mux.HandleFunc("POST /triggers/{id}/cancel", s.handleCancelTrigger)
	mux.HandleFunc("POST /triggers/{id}/execute", s.handleExecuteTrigger)
	mux.HandleFunc("POST /triggers/{id}/expire", s.handleExpireTrigger)
	mux.HandleFunc("GET /owners/{address}/triggers", s.handleListOwnerTriggers)
	mux.HandleFunc("GET /fees", s.handleFees)
	mux.HandleFunc("POST /swaps", s.handleInstantSwap)
	mux.HandleFunc("GET /assets", s.handleListAssets)
	mux.HandleFunc("PUT /assets/{symbol}", s.handleUpsertAsset)
	mux.HandleFunc("GET /roles", s.handleListRoles)
	mux.HandleFunc("POST /roles/grant", s.handleGrantRole)
	mux.HandleFunc("POST /roles/revoke", s.handleRevokeRole)
	if s.hub != nil {
		mux.Handle("GET /events", s.hub)
	}
}

// Handler returns the API routes wrapped with request logging and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return s.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket upgrades.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		_, route := next.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		if route == "GET /events" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.RecordHTTPRequest(route, rec.code)
		s.log.WithFields(logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"route":    route,
			"code":     rec.code,
			"duration": time.Since(started).String(),
		}).Debug("request served")
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.NewInvalidInput("request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindTriggerExpired:
		return http.StatusConflict
	case domain.KindConditionNotMet:
		return http.StatusPreconditionFailed
	case domain.KindOracleUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindBridgeCallFailed:
		return http.StatusBadGateway
	case domain.KindRelayUnconfirmed:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUnauthenticated) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: domain.KindUnauthorized, Message: err.Error()})
		return
	}

	kind := domain.KindOf(err)
	code := statusFor(kind)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logger.Fields{"path": r.URL.Path, "method": r.Method}).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, errorResponse{Error: kind, Message: msg})
}
