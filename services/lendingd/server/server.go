package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MELD-labs/evm-defi-public-sub006/native/lending"
	"github.com/MELD-labs/evm-defi-public-sub006/observability"
	"github.com/MELD-labs/evm-defi-public-sub006/observability/logging"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine *lending.Engine
	Logger *slog.Logger
	// Auth protects mutating routes; nil leaves them open (dev mode).
	Auth *Authenticator
	// RateLimitPerMinute throttles mutating requests per caller; zero disables.
	RateLimitPerMinute float64
	Burst              int
}

// Server exposes the lending engine over a JSON HTTP API.
type Server struct {
	engine  *lending.Engine
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	router  http.Handler
}

// New constructs a configured HTTP router with authentication, throttling and
// metrics instrumentation.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:  cfg.Engine,
		logger:  logger,
		auth:    cfg.Auth,
		limiter: NewRateLimiter(cfg.RateLimitPerMinute, cfg.Burst),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/reserves", s.instrument("reserves_list", s.handleListReserves))
		api.Get("/reserves/{asset}", s.instrument("reserve_get", s.handleGetReserve))
		api.Get("/accounts/{address}", s.instrument("account_get", s.handleGetAccount))

		api.Group(func(protected chi.Router) {
			protected.Use(s.requireAuth)
			if s.limiter != nil {
				protected.Use(s.limiter.Middleware("mutate"))
			}
			protected.Post("/reserves/{asset}/deposit", s.instrument("deposit", s.handleDeposit))
			protected.Post("/reserves/{asset}/withdraw", s.instrument("withdraw", s.handleWithdraw))
			protected.Post("/reserves/{asset}/borrow", s.instrument("borrow", s.handleBorrow))
			protected.Post("/reserves/{asset}/repay", s.instrument("repay", s.handleRepay))
			protected.Post("/reserves/{asset}/collateral", s.instrument("collateral", s.handleCollateral))
			protected.Post("/reserves/{asset}/credit", s.instrument("credit", s.handleCredit))
			protected.Post("/reserves/{asset}/active", s.instrument("active", s.handleActive))
			protected.Post("/liquidations", s.instrument("liquidate", s.handleLiquidate))
		})
	})
	return r
}

type requestIDKey struct{}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := contextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) instrument(operation string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		handler(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.LendingMetrics().Observe(operation, status, time.Since(start))
		if status >= 400 {
			s.logger.Warn("request failed",
				slog.String("operation", operation),
				slog.Int("status", status),
				slog.String("request_id", requestIDFrom(r)),
			)
		}
	}
}

// requireAuth verifies the request signature before handing the body back to
// the handler. With no authenticator configured the request passes through.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(MaxBodyForSignature)+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body", RequestID: requestIDFrom(r)})
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if _, err := s.auth.Authenticate(r, body); err != nil {
			s.logger.Warn("authentication rejected",
				slog.String("request_id", requestIDFrom(r)),
				slog.String("reason", err.Error()),
				logging.MaskField("api_key", r.Header.Get(HeaderAPIKey)),
			)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", RequestID: requestIDFrom(r)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListReserves(w http.ResponseWriter, r *http.Request) {
	assets := s.engine.Assets()
	out := make([]reserveResponse, 0, len(assets))
	for _, asset := range assets {
		resp, err := s.reserveView(asset)
		if err != nil {
			writeError(w, requestIDFrom(r), err)
			return
		}
		out = append(out, *resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	resp, err := s.reserveView(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reserveView(asset string) (*reserveResponse, error) {
	reserve, err := s.engine.ReserveSnapshot(asset)
	if err != nil {
		return nil, err
	}
	income, err := s.engine.ReserveNormalizedIncome(asset)
	if err != nil {
		return nil, err
	}
	debt, err := s.engine.ReserveNormalizedVariableDebt(asset)
	if err != nil {
		return nil, err
	}
	return &reserveResponse{
		Asset:                     asset,
		AvailableLiquidity:        bigString(reserve.AvailableLiquidity),
		TotalStableDebt:           bigString(reserve.PrincipalStableDebt),
		TotalVariableDebt:         bigString(reserve.TotalVariableDebt()),
		LiquidityIndex:            bigString(reserve.LiquidityIndex),
		VariableBorrowIndex:       bigString(reserve.VariableBorrowIndex),
		CurrentLiquidityRate:      bigString(reserve.CurrentLiquidityRate),
		CurrentVariableBorrowRate: bigString(reserve.CurrentVariableBorrowRate),
		CurrentStableBorrowRate:   bigString(reserve.CurrentStableBorrowRate),
		AverageStableRate:         bigString(reserve.AverageStableRate),
		NormalizedIncome:          bigString(income),
		NormalizedVariableDebt:    bigString(debt),
		LastUpdateTimestamp:       reserve.LastUpdateTimestamp,
	}, nil
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	hf, err := s.engine.HealthFactor(addr)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	resp := accountResponse{
		Address:      addr.Hex(),
		HealthFactor: healthFactorString(hf),
	}
	for _, asset := range s.engine.Assets() {
		position, err := s.positionView(asset, addr)
		if err != nil {
			writeError(w, requestIDFrom(r), err)
			return
		}
		if position != nil {
			resp.Positions = append(resp.Positions, *position)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) positionView(asset string, addr common.Address) (*positionResponse, error) {
	user, err := s.engine.UserSnapshot(asset, addr)
	if err != nil {
		return nil, err
	}
	deposit, err := s.engine.DepositBalance(asset, addr)
	if err != nil {
		return nil, err
	}
	variable, err := s.engine.VariableDebt(asset, addr)
	if err != nil {
		return nil, err
	}
	stable, err := s.engine.StableDebt(asset, addr)
	if err != nil {
		return nil, err
	}
	wallet, err := s.engine.Balance(asset, addr)
	if err != nil {
		return nil, err
	}
	if deposit.Sign() == 0 && variable.Sign() == 0 && stable.Sign() == 0 && wallet.Sign() == 0 {
		return nil, nil
	}
	return &positionResponse{
		Asset:           asset,
		DepositBalance:  deposit.String(),
		VariableDebt:    variable.String(),
		StableDebt:      stable.String(),
		StableRate:      bigString(user.StableBorrowRate),
		UseAsCollateral: user.UseAsCollateral,
		WalletBalance:   wallet.String(),
	}, nil
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	onBehalfOf, err := parseOptionalAddress("onBehalfOf", req.OnBehalfOf, from)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	applied, err := s.engine.Deposit(asset, from, onBehalfOf, amount)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Asset: asset, Applied: applied.String(), RequestID: requestIDFrom(r)})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	to, err := parseOptionalAddress("to", req.To, owner)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	applied, err := s.engine.Withdraw(asset, owner, to, amount)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Asset: asset, Applied: applied.String(), RequestID: requestIDFrom(r)})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	onBehalfOf, err := parseOptionalAddress("onBehalfOf", req.OnBehalfOf, borrower)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	mode, err := parseRateMode(req.RateMode)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	applied, err := s.engine.Borrow(asset, borrower, onBehalfOf, amount, mode)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Asset: asset, Applied: applied.String(), RequestID: requestIDFrom(r)})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	payer, err := parseAddress("payer", req.Payer)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	onBehalfOf, err := parseOptionalAddress("onBehalfOf", req.OnBehalfOf, payer)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	mode, err := parseRateMode(req.RateMode)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	applied, err := s.engine.Repay(asset, payer, onBehalfOf, amount, mode)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Asset: asset, Applied: applied.String(), RequestID: requestIDFrom(r)})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	repaid, seized, err := s.engine.Liquidate(req.DebtAsset, req.CollateralAsset, liquidator, borrower, debtToCover)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, liquidateResponse{
		DebtAsset:       req.DebtAsset,
		CollateralAsset: req.CollateralAsset,
		Repaid:          repaid.String(),
		Seized:          seized.String(),
		RequestID:       requestIDFrom(r),
	})
}

func (s *Server) handleCollateral(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	if err := s.engine.SetUseAsCollateral(asset, addr, req.Enabled); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "enabled": req.Enabled})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	if err := s.engine.Credit(asset, addr, amount); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Asset: asset, Applied: amount.String(), RequestID: requestIDFrom(r)})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	var req activeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	if err := s.engine.SetReserveActive(asset, req.Active); err != nil {
		writeError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "active": req.Active})
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, int64(MaxBodyForSignature)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return errMalformedBody
	}
	return nil
}
