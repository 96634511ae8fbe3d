// Package relayer runs the gas funding service that tops up claim-code
// recipients, and the client the CLI uses to call it.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"claimcode/internal/config"
	"claimcode/internal/escrow"
	"claimcode/internal/hmacauth"
	"claimcode/internal/idempotency"
	"claimcode/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	headerIdempotencyKey = "X-Idempotency-Key"
	headerRequestID      = "X-Request-Id"
)

// Funder sends gas money to a recipient.
type Funder interface {
	FundRecipient(ctx context.Context, relayer escrow.Account, recipient common.Address, native, token decimal.Decimal) (protocol.Funding, error)
}

type pruner interface {
	Prune() int
	Len() int
}

type Server struct {
	cfg        *config.AppConfig
	funder     Funder
	account    escrow.Account
	store      idempotency.Store
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
	scheduler  *gocron.Scheduler
	now        func() time.Time

	// fundMu serialises funding so one relayer nonce sequence is used at a
	// time and a key is looked up and saved atomically.
	fundMu sync.Mutex

	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, funder Funder, account escrow.Account, store idempotency.Store) *Server {
	metrics := newMetricsRegistry()

	s := &Server{
		cfg:     cfg,
		funder:  funder,
		account: account,
		store:   store,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Relayer.HMACSecret,
			MaxSkew: cfg.Relayer.HMACClockSkew,
		},
		metrics:   metrics,
		scheduler: gocron.NewScheduler(time.UTC),
		now:       time.Now,
	}
	if checker, ok := funder.(escrow.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/fund", s.hmac.Middleware(http.HandlerFunc(s.handleFund)))
	mux.Handle("/api/v1/metrics", metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Relayer.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	if _, ok := s.store.(pruner); ok {
		if _, err := s.scheduler.Every(time.Minute).Do(s.pruneIdempotency); err != nil {
			return err
		}
		s.scheduler.StartAsync()
	}
	log.WithFields(log.Fields{
		"addr":    s.httpServer.Addr,
		"relayer": s.account.Address.Hex(),
	}).Info("relayer listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.scheduler.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) pruneIdempotency() {
	p, ok := s.store.(pruner)
	if !ok {
		return
	}
	if removed := p.Prune(); removed > 0 {
		log.WithField("removed", removed).Debug("pruned idempotency records")
	}
	s.metrics.setCacheSize(p.Len())
}

type FundRequest struct {
	Address string `json:"address"`
}

type FundResponse struct {
	Address      string `json:"address"`
	NativeAmount string `json:"nativeAmount"`
	TokenAmount  string `json:"tokenAmount"`
	NativeTxHash string `json:"nativeTxHash,omitempty"`
	TokenTxHash  string `json:"tokenTxHash,omitempty"`
	RequestID    string `json:"requestId"`
	// Error is set when only some of the transfers went through.
	Error string `json:"error,omitempty"`
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		http.Error(w, "missing X-Idempotency-Key header", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	requestID := r.Header.Get(headerRequestID)
	logger := log.WithFields(log.Fields{"request_id": requestID, "idempotency_key": key})

	var payload FundRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := validateFundRequest(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient := common.HexToAddress(payload.Address)
	logger = logger.WithField("recipient", recipient.Hex())

	s.fundMu.Lock()
	defer s.fundMu.Unlock()

	if existing, _ := s.store.Get(ctx, key); existing != nil {
		if existing.Fingerprint != recipient.Hex() {
			s.metrics.incFund("conflict")
			http.Error(w, "X-Idempotency-Key was already used for a different address", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incFund("cached")
		return
	}

	start := s.now()
	funding, err := s.funder.FundRecipient(ctx, s.account, recipient, s.cfg.Funding.NativeAmount, s.cfg.Funding.TokenAmount)
	if err != nil {
		s.metrics.incFund("failed")
		logger.WithError(err).Error("funding failed")
		if funding.NativeTx == nil && funding.TokenTx == nil {
			http.Error(w, "failed to fund recipient: "+err.Error(), http.StatusBadGateway)
			return
		}
		// Part of the funding is on chain; replay it instead of sending it again.
		resp := s.fundResponse(recipient, requestID, funding)
		resp.Error = err.Error()
		s.respond(ctx, w, key, recipient, http.StatusBadGateway, resp)
		return
	}
	s.metrics.observeFund(start)

	logger.Info("funded recipient")
	s.respond(ctx, w, key, recipient, http.StatusCreated, s.fundResponse(recipient, requestID, funding))
	s.metrics.incFund("created")
}

func (s *Server) fundResponse(recipient common.Address, requestID string, funding protocol.Funding) FundResponse {
	resp := FundResponse{
		Address:      recipient.Hex(),
		NativeAmount: s.cfg.Funding.NativeAmount.String(),
		TokenAmount:  s.cfg.Funding.TokenAmount.String(),
		RequestID:    requestID,
	}
	if funding.NativeTx != nil {
		resp.NativeTxHash = funding.NativeTx.Hash.Hex()
	}
	if funding.TokenTx != nil {
		resp.TokenTxHash = funding.TokenTx.Hash.Hex()
	}
	return resp
}

// respond writes resp and stores it under key for replays.
func (s *Server) respond(ctx context.Context, w http.ResponseWriter, key string, recipient common.Address, status int, resp FundResponse) {
	body, _ := json.Marshal(resp)

	now := s.now()
	_ = s.store.Save(ctx, key, idempotency.Record{
		StatusCode:  status,
		Response:    body,
		Fingerprint: recipient.Hex(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.Relayer.IdempotencyWindow),
	})
	if p, ok := s.store.(pruner); ok {
		s.metrics.setCacheSize(p.Len())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func validateFundRequest(req FundRequest) error {
	if req.Address == "" {
		return errors.New("address is required")
	}
	if !common.IsHexAddress(req.Address) {
		return errors.New("address is not a valid hex address")
	}
	if common.HexToAddress(req.Address) == (common.Address{}) {
		return errors.New("address must not be the zero address")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	healthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			healthy = false
		} else {
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	resp := struct {
		Status  string      `json:"status"`
		Relayer string      `json:"relayer"`
		RPC     interface{} `json:"rpc"`
	}{
		Status:  status,
		Relayer: s.account.Address.Hex(),
		RPC:     rpcInfo,
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}
