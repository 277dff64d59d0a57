// Package api exposes the auction over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"auction_go/internal/auction"
	"auction_go/internal/domain"
	"auction_go/internal/engine"
	"auction_go/internal/infra/auth"

	"github.com/gorilla/mux"
)

const (
	maxBodyBytes      = 64 << 10
	defaultCallsLimit = 50
	maxCallsLimit     = 500
)

// Auction is the call surface of the sequencer.
type Auction interface {
	PlaceBid(ctx context.Context, caller domain.Identity, value int64) (domain.Offer, error)
	Winner(ctx context.Context) (domain.Offer, error)
	ListOffers(ctx context.Context) ([]domain.Offer, error)
	Finalize(ctx context.Context, caller domain.Identity) (domain.Identity, error)
	RequestPartialRefund(ctx context.Context, caller domain.Identity) (*domain.Offer, error)
	WithdrawPayout(ctx context.Context, caller domain.Identity) (int64, error)
	EmergencyWithdraw(ctx context.Context, caller domain.Identity) (int64, error)
	State(ctx context.Context) (engine.StateView, error)
	Ledger(ctx context.Context, id domain.Identity) (auction.LedgerRow, error)
}

// Journal reads the persisted call journal.
type Journal interface {
	Calls(ctx context.Context, limit int) ([]domain.CallRecord, error)
}

// Server routes HTTP requests to an Auction.
type Server struct {
	backend  Auction
	verifier *auth.Verifier
	journal  Journal
	format   func(int64) string
	router   *mux.Router
}

// Option configures a Server.
type Option func(*Server, *mux.Router)

// WithFeed mounts the websocket event feed at /feed.
func WithFeed(h http.Handler) Option {
	return func(_ *Server, r *mux.Router) {
		r.Handle("/feed", h).Methods(http.MethodGet)
	}
}

// WithMetrics mounts a Prometheus handler at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(_ *Server, r *mux.Router) {
		r.Handle("/metrics", h).Methods(http.MethodGet)
	}
}

// WithJournal serves the call journal at /v1/calls.
func WithJournal(j Journal) Option {
	return func(s *Server, _ *mux.Router) {
		s.journal = j
	}
}

// WithFormatter renders base units as display strings in responses.
func WithFormatter(format func(int64) string) Option {
	return func(s *Server, _ *mux.Router) {
		s.format = format
	}
}

// NewServer builds the router.
func NewServer(backend Auction, verifier *auth.Verifier, opts ...Option) *Server {
	s := &Server{
		backend:  backend,
		verifier: verifier,
		router:   mux.NewRouter(),
	}

	r := s.router
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/winner", s.handleWinner).Methods(http.MethodGet)
	v1.HandleFunc("/offers", s.handleOffers).Methods(http.MethodGet)
	v1.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/{identity}", s.handleLedger).Methods(http.MethodGet)
	v1.HandleFunc("/calls", s.handleCalls).Methods(http.MethodGet)

	signed := v1.NewRoute().Subrouter()
	signed.Use(s.authenticate)
	signed.HandleFunc("/bids", s.handleBid).Methods(http.MethodPost)
	signed.HandleFunc("/finalize", s.handleFinalize).Methods(http.MethodPost)
	signed.HandleFunc("/refunds", s.handleRefund).Methods(http.MethodPost)
	signed.HandleFunc("/payouts/withdraw", s.handleWithdrawPayout).Methods(http.MethodPost)
	signed.HandleFunc("/emergency-withdraw", s.handleEmergencyWithdraw).Methods(http.MethodPost)

	for _, opt := range opts {
		opt(s, r)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type callerKey struct{}

// authenticate verifies the request signature and stores the caller in the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", "unreadable body")
			return
		}
		caller, err := s.verifier.Verify(r, body)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(r *http.Request) domain.Identity {
	id, _ := r.Context().Value(callerKey{}).(domain.Identity)
	return id
}

// ======================================================================================
// Handlers
// ======================================================================================

type bidRequest struct {
	Value int64 `json:"value"`
}

type offerResponse struct {
	Offer   domain.Offer `json:"offer"`
	Display string       `json:"display,omitempty"`
}

type amountResponse struct {
	Amount  int64  `json:"amount"`
	Display string `json:"display,omitempty"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}

	offer, err := s.backend.PlaceBid(r.Context(), callerFrom(r), req.Value)
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.offerResponse(offer))
}

func (s *Server) handleWinner(w http.ResponseWriter, r *http.Request) {
	offer, err := s.backend.Winner(r.Context())
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.offerResponse(offer))
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.backend.ListOffers(r.Context())
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	winner, err := s.backend.Finalize(r.Context(), callerFrom(r))
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"winner": winner})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	refunded, err := s.backend.RequestPartialRefund(r.Context(), callerFrom(r))
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	if refunded == nil {
		writeJSON(w, http.StatusOK, map[string]any{"refunded": nil})
		return
	}
	resp := s.offerResponse(*refunded)
	writeJSON(w, http.StatusOK, map[string]any{"refunded": resp})
}

func (s *Server) handleWithdrawPayout(w http.ResponseWriter, r *http.Request) {
	amount, err := s.backend.WithdrawPayout(r.Context(), callerFrom(r))
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.amountResponse(amount))
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := s.backend.EmergencyWithdraw(r.Context(), callerFrom(r))
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.amountResponse(amount))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	view, err := s.backend.State(r.Context())
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	id := domain.Identity(mux.Vars(r)["identity"])
	row, err := s.backend.Ledger(r.Context(), id)
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeErr(w, http.StatusNotFound, "not_found", "journal not available")
		return
	}
	limit := defaultCallsLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxCallsLimit)
	}

	calls, err := s.journal.Calls(r.Context(), limit)
	if err != nil {
		s.writeCallErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (s *Server) offerResponse(o domain.Offer) offerResponse {
	resp := offerResponse{Offer: o}
	if s.format != nil {
		resp.Display = s.format(o.Amount)
	}
	return resp
}

func (s *Server) amountResponse(amount int64) amountResponse {
	resp := amountResponse{Amount: amount}
	if s.format != nil {
		resp.Display = s.format(amount)
	}
	return resp
}

// ======================================================================================
// Errors
// ======================================================================================

// StatusOf maps a call error to its HTTP status.
func StatusOf(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindTiming:
		return http.StatusConflict
	case domain.KindNoOffers:
		return http.StatusNotFound
	case domain.KindTransfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeCallErr(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	kind := string(domain.KindOf(err))
	if status == http.StatusServiceUnavailable {
		kind = "unavailable"
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		slog.Error("Call failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	writeErr(w, status, kind, err.Error())
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}
