// Package api serves the buyback configuration surface over HTTP: pool
// registration, TWAP parameters, oracle quotes and, against a simulated
// ledger, payments.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Bananapus/juice-buyback-hook/internal/buyback"
	"github.com/Bananapus/juice-buyback-hook/internal/metadata"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/config"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/registry"
	"github.com/Bananapus/juice-buyback-hook/internal/sim"
)

// CallerHeader carries the address a configuration request acts as
const CallerHeader = "X-Caller"

var errBadRequest = errors.New("bad request")

// PoolRegistry is the registry surface the API drives
type PoolRegistry interface {
	SetPool(ctx context.Context, caller common.Address, projectID uint64, settlementToken common.Address, fee uint32, twapWindow, twapSlippageTolerance uint32) (common.Address, error)
	SetTwapWindow(ctx context.Context, caller common.Address, projectID uint64, window uint32) error
	SetTwapSlippageTolerance(ctx context.Context, caller common.Address, projectID uint64, tolerance uint32) error
	Config(ctx context.Context, projectID uint64, settlementToken common.Address) (registry.ProjectPoolConfig, bool, error)
	TwapParams(ctx context.Context, projectID uint64) (registry.TwapParams, error)
}

// Quoter prices a settlement token amount in project tokens
type Quoter interface {
	Quote(ctx context.Context, projectID uint64, projectToken common.Address, amountIn *big.Int, settlementToken common.Address) *big.Int
}

// Payments runs payments through a ledger
type Payments interface {
	Pay(ctx context.Context, req sim.PayRequest) (sim.Receipt, error)
}

// Faucet credits accounts on a simulated chain
type Faucet interface {
	Mint(token, to common.Address, amount *big.Int) error
}

// Config holds server dependencies. Payments and Faucet are only set when
// the daemon runs against the simulated ledger.
type Config struct {
	Registry PoolRegistry
	Oracle   Quoter
	Hook     common.Address
	Payments Payments
	Faucet   Faucet
	// Ready reports readiness; nil means always ready
	Ready   func(ctx context.Context) error
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the HTTP API
type Server struct {
	registry PoolRegistry
	oracle   Quoter
	hook     common.Address
	payments Payments
	faucet   Faucet
	ready    func(ctx context.Context) error
	logger   *observability.Logger
	metrics  *observability.Metrics

	router http.Handler
}

// New builds the server and its router
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}

	s := &Server{
		registry: cfg.Registry,
		oracle:   cfg.Oracle,
		hook:     cfg.Hook,
		payments: cfg.Payments,
		faucet:   cfg.Faucet,
		ready:    cfg.Ready,
		logger:   cfg.Logger.Component("api"),
		metrics:  cfg.Metrics,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.health)
	r.Get("/ready", s.readiness)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/projects/{projectID}", func(pr chi.Router) {
		pr.Post("/pools", s.setPool)
		pr.Get("/pools/{token}", s.getPool)
		pr.Get("/twap", s.getTwap)
		pr.Put("/twap/window", s.setTwapWindow)
		pr.Put("/twap/slippage-tolerance", s.setTwapSlippageTolerance)
		pr.Get("/quote", s.quote)
		pr.Post("/payments", s.pay)
	})

	return r
}

// observe records per-route request metrics
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Context(), route, status, time.Since(start))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type poolView struct {
	ProjectID             uint64         `json:"projectId"`
	SettlementToken       common.Address `json:"settlementToken"`
	Pool                  common.Address `json:"pool"`
	ProjectToken          common.Address `json:"projectToken"`
	ProjectTokenIsZero    bool           `json:"projectTokenIsZero"`
	Fee                   uint32         `json:"fee"`
	TwapWindow            uint32         `json:"twapWindow"`
	TwapSlippageTolerance uint32         `json:"twapSlippageTolerance"`
}

func newPoolView(c registry.ProjectPoolConfig) poolView {
	return poolView{
		ProjectID:             c.ProjectID,
		SettlementToken:       c.SettlementToken,
		Pool:                  c.Pool,
		ProjectToken:          c.ProjectToken,
		ProjectTokenIsZero:    c.ProjectTokenIsZero(),
		Fee:                   c.Fee,
		TwapWindow:            c.TwapWindow,
		TwapSlippageTolerance: c.TwapSlippageTolerance,
	}
}

func (s *Server) setPool(w http.ResponseWriter, r *http.Request) {
	projectID, caller, ok := s.configRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Token                 string `json:"token"`
		Fee                   uint32 `json:"fee"`
		TwapWindow            uint32 `json:"twapWindow"`
		TwapSlippageTolerance uint32 `json:"twapSlippageTolerance"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := parseToken(req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.registry.SetPool(r.Context(), caller, projectID, token, req.Fee, req.TwapWindow, req.TwapSlippageTolerance); err != nil {
		s.writeError(w, r, err)
		return
	}

	cfg, _, err := s.registry.Config(r.Context(), projectID, token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPoolView(cfg))
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseProjectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := parseToken(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cfg, ok, err := s.registry.Config(r.Context(), projectID, token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no pool configured"})
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(cfg))
}

type twapView struct {
	ProjectID         uint64 `json:"projectId"`
	Window            uint32 `json:"twapWindow"`
	SlippageTolerance uint32 `json:"twapSlippageTolerance"`
}

func (s *Server) getTwap(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseProjectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTwap(w, r, projectID)
}

func (s *Server) writeTwap(w http.ResponseWriter, r *http.Request, projectID uint64) {
	params, err := s.registry.TwapParams(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, twapView{ProjectID: projectID, Window: params.Window, SlippageTolerance: params.SlippageTolerance})
}

func (s *Server) setTwapWindow(w http.ResponseWriter, r *http.Request) {
	projectID, caller, ok := s.configRequest(w, r)
	if !ok {
		return
	}
	var req struct {
		TwapWindow uint32 `json:"twapWindow"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.SetTwapWindow(r.Context(), caller, projectID, req.TwapWindow); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTwap(w, r, projectID)
}

func (s *Server) setTwapSlippageTolerance(w http.ResponseWriter, r *http.Request) {
	projectID, caller, ok := s.configRequest(w, r)
	if !ok {
		return
	}
	var req struct {
		TwapSlippageTolerance uint32 `json:"twapSlippageTolerance"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.SetTwapSlippageTolerance(r.Context(), caller, projectID, req.TwapSlippageTolerance); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTwap(w, r, projectID)
}

type quoteView struct {
	ProjectID       uint64         `json:"projectId"`
	SettlementToken common.Address `json:"settlementToken"`
	AmountIn        string         `json:"amountIn"`
	Quote           string         `json:"quote"`
	Available       bool           `json:"available"`
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseProjectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := parseToken(r.URL.Query().Get("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view := quoteView{ProjectID: projectID, SettlementToken: token, AmountIn: amount.String(), Quote: "0"}
	cfg, ok, err := s.registry.Config(r.Context(), projectID, token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ok {
		q := s.oracle.Quote(r.Context(), projectID, cfg.ProjectToken, amount, token)
		view.Quote = q.String()
		view.Available = q.Sign() > 0
	}
	writeJSON(w, http.StatusOK, view)
}

type paymentRequest struct {
	Payer       string `json:"payer"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary"`
	// Fund mints the amount to the payer first
	Fund  bool `json:"fund"`
	Quote *struct {
		AmountToSwapWith     string `json:"amountToSwapWith"`
		MinimumSwapAmountOut string `json:"minimumSwapAmountOut"`
	} `json:"quote,omitempty"`
}

type paymentView struct {
	Path                 string `json:"path"`
	Weight               string `json:"weight"`
	AmountToSwapWith     string `json:"amountToSwapWith"`
	MinimumSwapAmountOut string `json:"minimumSwapAmountOut"`
	BeneficiaryTokens    string `json:"beneficiaryTokens"`
}

func (s *Server) pay(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "payments are only available against the simulated ledger"})
		return
	}
	projectID, err := parseProjectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	payReq, err := s.paymentFromRequest(projectID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Fund {
		if s.faucet == nil {
			s.writeError(w, r, fmt.Errorf("%w: funding is not available", errBadRequest))
			return
		}
		if err := s.faucet.Mint(payReq.Token, payReq.Payer, payReq.Amount); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	receipt, err := s.payments.Pay(r.Context(), payReq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	d := receipt.Decision
	writeJSON(w, http.StatusOK, paymentView{
		Path:                 d.Path.String(),
		Weight:               bigString(d.Weight),
		AmountToSwapWith:     bigString(d.AmountToSwapWith),
		MinimumSwapAmountOut: bigString(d.MinimumSwapAmountOut),
		BeneficiaryTokens:    bigString(receipt.BeneficiaryTokens),
	})
}

func (s *Server) paymentFromRequest(projectID uint64, req paymentRequest) (sim.PayRequest, error) {
	payer, err := parseAddress("payer", req.Payer)
	if err != nil {
		return sim.PayRequest{}, err
	}
	token, err := parseToken(req.Token)
	if err != nil {
		return sim.PayRequest{}, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return sim.PayRequest{}, err
	}
	beneficiary := payer
	if req.Beneficiary != "" {
		if beneficiary, err = parseAddress("beneficiary", req.Beneficiary); err != nil {
			return sim.PayRequest{}, err
		}
	}

	out := sim.PayRequest{ProjectID: projectID, Payer: payer, Token: token, Amount: amount, Beneficiary: beneficiary}
	if req.Quote == nil {
		return out, nil
	}

	q := metadata.Quote{}
	if q.AmountToSwapWith, err = parseAmount("amountToSwapWith", req.Quote.AmountToSwapWith); err != nil {
		return sim.PayRequest{}, err
	}
	if q.MinimumSwapAmountOut, err = parseAmount("minimumSwapAmountOut", req.Quote.MinimumSwapAmountOut); err != nil {
		return sim.PayRequest{}, err
	}
	data, err := metadata.EncodeQuote(q)
	if err != nil {
		return sim.PayRequest{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	out.Metadata, err = metadata.Build(metadata.Entry{ID: metadata.IDFor(metadata.QuotePurpose, s.hook), Data: data})
	if err != nil {
		return sim.PayRequest{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return out, nil
}

// configRequest parses the project and the acting caller
func (s *Server) configRequest(w http.ResponseWriter, r *http.Request) (uint64, common.Address, bool) {
	projectID, err := parseProjectID(r)
	if err != nil {
		s.writeError(w, r, err)
		return 0, common.Address{}, false
	}
	caller, err := parseAddress(CallerHeader, r.Header.Get(CallerHeader))
	if err != nil {
		s.writeError(w, r, err)
		return 0, common.Address{}, false
	}
	return projectID, caller, true
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, registry.ErrInvalidTwapWindow),
		errors.Is(err, registry.ErrInvalidTwapSlippageTolerance):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrUnauthorized),
		errors.Is(err, buyback.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrPoolAlreadySet):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNoProjectToken),
		errors.Is(err, buyback.ErrInsufficientPayAmount),
		errors.Is(err, buyback.ErrSpecifiedSlippageExceeded),
		errors.Is(err, sim.ErrInsufficientBalance),
		errors.Is(err, sim.ErrTokenNotAccepted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.LogError(r.Context(), "request failed", err, "path", r.URL.Path)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", errBadRequest, err)
	}
	return nil
}

func parseProjectID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "projectID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid project id %q", errBadRequest, raw)
	}
	return id, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address: %q", errBadRequest, field, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseToken accepts a well-known symbol or an address
func parseToken(raw string) (common.Address, error) {
	info, err := config.ResolveToken(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return info.Address, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is not a non-negative integer: %q", errBadRequest, field, raw)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
