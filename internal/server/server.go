package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rentrails/internal/config"
	"rentrails/internal/escrow"
	"rentrails/internal/hmacauth"
	"rentrails/internal/idempotency"
	"rentrails/internal/ledger"
)

// Server is the thin HTTP boundary the rental-management layer calls. All
// escrow logic lives in the orchestrator; the server adds request
// authentication, idempotent response replay, metrics, and error mapping.
type Server struct {
	cfg          *config.AppConfig
	orchestrator *escrow.Orchestrator
	client       ledger.Client
	store        idempotency.Store
	hmac         *hmacauth.Verifier
	httpServer   *http.Server
	metrics      *metricsRegistry
	log          zerolog.Logger
	dbHealthFn   func(context.Context) error
}

func NewServer(cfg *config.AppConfig, orch *escrow.Orchestrator, client ledger.Client, store idempotency.Store, log zerolog.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		client:       client,
		store:        store,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: newMetricsRegistry(),
		log:     log.With().Str("component", "server").Logger(),
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/rentals", s.hmac.Middleware(http.HandlerFunc(s.handleCreateRental)))
	mux.Handle("GET /api/v1/rentals/{id}", s.hmac.Middleware(http.HandlerFunc(s.handleGetRental)))
	mux.Handle("POST /api/v1/rentals/{id}/escrow", s.hmac.Middleware(http.HandlerFunc(s.handleCreateEscrow)))
	mux.Handle("POST /api/v1/rentals/{id}/fund", s.hmac.Middleware(http.HandlerFunc(s.handleFundEscrow)))
	mux.Handle("POST /api/v1/rentals/{id}/settle", s.hmac.Middleware(http.HandlerFunc(s.handleSettle)))
	mux.HandleFunc("GET /api/v1/balances/{address}", s.handleBalance)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createRentalRequest struct {
	OwnerAddress  string `json:"ownerAddress"`
	RenterAddress string `json:"renterAddress"`
	RentAmount    string `json:"rentAmount"`
	Deposit       string `json:"deposit"`
	OwnerShare    string `json:"ownerShare"`
	RenterShare   string `json:"renterShare"`
}

type fundRequest struct {
	Amount string `json:"amount"`
}

type settleRequest struct {
	Outcome string `json:"outcome"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) handleCreateRental(w http.ResponseWriter, r *http.Request) {
	key, ok := s.idempotencyKey(w, r)
	if !ok {
		return
	}
	if s.replay(w, r, key, "create_rental") {
		return
	}

	var payload createRentalRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := validateCreateRental(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	agreement, err := s.orchestrator.CreateAgreement(r.Context(), escrow.AgreementParams{
		OwnerAddress:  payload.OwnerAddress,
		RenterAddress: payload.RenterAddress,
		RentAmount:    payload.RentAmount,
		Deposit:       payload.Deposit,
		OwnerShare:    payload.OwnerShare,
		RenterShare:   payload.RenterShare,
	})
	if err != nil {
		s.metrics.incOp("create_rental", "failed")
		s.writeError(w, err)
		return
	}

	s.metrics.incOp("create_rental", "created")
	s.respond(w, r, key, http.StatusCreated, agreement)
}

func (s *Server) handleGetRental(w http.ResponseWriter, r *http.Request) {
	agreement, err := s.orchestrator.GetAgreement(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	key, ok := s.idempotencyKey(w, r)
	if !ok {
		return
	}
	if s.replay(w, r, key, "create_escrow") {
		return
	}

	result, err := s.orchestrator.CreateEscrow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.metrics.incOp("create_escrow", "failed")
		s.writeError(w, err)
		return
	}

	s.metrics.incOp("create_escrow", "created")
	s.respond(w, r, key, http.StatusCreated, result)
}

func (s *Server) handleFundEscrow(w http.ResponseWriter, r *http.Request) {
	key, ok := s.idempotencyKey(w, r)
	if !ok {
		return
	}
	if s.replay(w, r, key, "fund") {
		return
	}

	var payload fundRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Amount) == "" {
		http.Error(w, "amount is required", http.StatusBadRequest)
		return
	}

	result, err := s.orchestrator.FundEscrow(r.Context(), r.PathValue("id"), payload.Amount)
	if err != nil {
		s.metrics.incOp("fund", "failed")
		s.writeError(w, err)
		return
	}

	s.metrics.incOp("fund", "created")
	s.respond(w, r, key, http.StatusOK, result)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	key, ok := s.idempotencyKey(w, r)
	if !ok {
		return
	}
	if s.replay(w, r, key, "settle") {
		return
	}

	var payload settleRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	outcome, err := escrow.ParseSettleOutcome(payload.Outcome)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rentalID := r.PathValue("id")
	result, err := s.orchestrator.Settle(r.Context(), rentalID, outcome)
	if err != nil {
		s.metrics.incSettlement(string(outcome), "failed")
		s.writeDLQ(rentalID, payload, err)
		s.writeError(w, err)
		return
	}

	if result.AlreadySettled {
		s.metrics.incSettlement(string(result.Outcome), "cached")
	} else {
		s.metrics.incSettlement(string(result.Outcome), "confirmed")
	}
	s.respond(w, r, key, http.StatusOK, result)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	balance, err := s.orchestrator.QueryBalance(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.incBalance()
	writeJSON(w, http.StatusOK, balanceResponse{Address: address, Balance: balance})
}

func validateCreateRental(req createRentalRequest) error {
	if req.OwnerAddress == "" {
		return errors.New("ownerAddress is required")
	}
	if req.RenterAddress == "" {
		return errors.New("renterAddress is required")
	}
	if req.RentAmount == "" {
		return errors.New("rentAmount is required")
	}
	if req.Deposit == "" {
		return errors.New("deposit is required")
	}
	if req.OwnerShare == "" || req.RenterShare == "" {
		return errors.New("ownerShare and renterShare are required")
	}
	return nil
}

// idempotencyKey extracts the caller's key; mutating endpoints refuse
// requests without one.
func (s *Server) idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		http.Error(w, "missing X-Idempotency-Key header", http.StatusBadRequest)
		return "", false
	}
	return key, true
}

// replay serves the stored response for a key seen within the idempotency
// window.
func (s *Server) replay(w http.ResponseWriter, r *http.Request, key, op string) bool {
	existing, _ := s.store.Get(r.Context(), key)
	if existing == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(existing.StatusCode)
	_, _ = w.Write(existing.Response)
	s.metrics.incOp(op, "cached")
	return true
}

// respond writes the JSON body and records it for replay under the key.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, key string, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	record := idempotency.Record{
		StatusCode: status,
		Response:   b,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	}
	if err := s.store.Save(r.Context(), key, record); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("idempotency save failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps core error kinds onto HTTP statuses so callers can decide
// whether to re-prompt, retry, or abandon.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var submission *ledger.SubmissionError

	switch {
	case errors.Is(err, escrow.ErrAgreementNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, escrow.ErrInvalidTransition), errors.Is(err, ledger.ErrSequenceConflict):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrSignatureThreshold):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAddress), errors.Is(err, escrow.ErrInvalidRatio):
		status = http.StatusBadRequest
	case errors.As(err, &submission), errors.Is(err, ledger.ErrTransactionExpired):
		status = http.StatusBadGateway
	}

	http.Error(w, err.Error(), status)
}

// writeDLQ files a failed settlement for operator review, mirroring the
// poll-or-expire obligation once an envelope may have been broadcast.
func (s *Server) writeDLQ(rentalID string, payload settleRequest, execErr error) {
	if s.cfg.Service.DLQPath == "" {
		return
	}

	entry := struct {
		Timestamp time.Time     `json:"timestamp"`
		RentalID  string        `json:"rentalId"`
		Payload   settleRequest `json:"payload"`
		Error     string        `json:"error"`
	}{
		Timestamp: time.Now().UTC(),
		RentalID:  rentalID,
		Payload:   payload,
		Error:     execErr.Error(),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		s.log.Error().Err(err).Msg("dlq marshal error")
		return
	}
	if err := os.MkdirAll(s.cfg.Service.DLQPath, 0o755); err != nil {
		s.log.Error().Err(err).Msg("dlq mkdir error")
		return
	}

	filename := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), rentalID)
	if err := os.WriteFile(filepath.Join(s.cfg.Service.DLQPath, filename), data, 0o600); err != nil {
		s.log.Error().Err(err).Msg("dlq write error")
	}
	s.updateDLQDepth()
}

func (s *Server) updateDLQDepth() int {
	depth := s.currentDLQDepth()
	s.metrics.setDLQDepth(depth)
	return depth
}

func (s *Server) currentDLQDepth() int {
	if s.cfg.Service.DLQPath == "" {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.Service.DLQPath)
	if err != nil {
		return 0
	}
	return len(entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	ledgerInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if checker, ok := s.client.(ledger.HealthChecker); ok {
		start := time.Now()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := checker.Ping(pingCtx); err != nil {
			ledgerInfo.Error = err.Error()
			overallHealthy = false
		} else {
			ledgerInfo.Connected = true
			ledgerInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		ledgerInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, struct {
		Status   string `json:"status"`
		Ledger   any    `json:"ledger"`
		Database any    `json:"database"`
		DLQDepth int    `json:"dlq_depth"`
	}{
		Status:   status,
		Ledger:   ledgerInfo,
		Database: dbInfo,
		DLQDepth: s.updateDLQDepth(),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		next.ServeHTTP(w, r)
	})
}
