package server

import (
	"ClearLedger/internal/event"
	"ClearLedger/internal/ingestion"
	"ClearLedger/internal/observability"
	"ClearLedger/internal/projection"
	"ClearLedger/internal/query"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server hosts the gRPC endpoint (health + reflection) and the HTTP/JSON
// API for balances, positions, liquidation history, funding history and
// operator injection. The JSON routes are registered on a gRPC-Gateway
// ServeMux so path templates and error shapes stay consistent with the
// rest of the fleet's gateways.
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	health     *observability.HealthChecker
	log        zerolog.Logger
}

// ServerDeps holds everything the API surface reads from or writes to.
type ServerDeps struct {
	Query         *query.Service
	Ingest        *ingestion.GRPCIngestService
	History       *projection.History
	Metrics       *observability.Metrics
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
}

// NewServer wires the gRPC server and the HTTP mux.
func NewServer(grpcAddr, httpAddr string, deps *ServerDeps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui.
	reflection.Register(grpcServer)

	s := &Server{
		grpcServer: grpcServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		health:     deps.HealthChecker,
		log:        deps.Logger.With().Str("component", "server").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.buildHTTPMux(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) buildHTTPMux(deps *ServerDeps) http.Handler {
	mux := runtime.NewServeMux()
	api := &apiHandler{
		query:   deps.Query,
		ingest:  deps.Ingest,
		history: deps.History,
		metrics: deps.Metrics,
	}

	mux.HandlePath(http.MethodGet, "/v1/balances/{address}/{asset}", api.handle("get_balance", api.getBalance))
	mux.HandlePath(http.MethodGet, "/v1/balances/{address}/{asset}/history", api.handle("balance_history", api.getBalanceHistory))
	mux.HandlePath(http.MethodGet, "/v1/positions/{address}", api.handle("get_positions", api.getPositions))
	mux.HandlePath(http.MethodGet, "/v1/liquidations/{address}", api.handle("get_liquidations", api.getLiquidations))
	mux.HandlePath(http.MethodGet, "/v1/funding/{contract}", api.handle("get_funding", api.getFunding))
	mux.HandlePath(http.MethodGet, "/v1/recent/liquidations/{address}", api.handle("recent_liquidations", api.recentLiquidations))
	mux.HandlePath(http.MethodGet, "/v1/recent/funding/{contract}", api.handle("recent_funding", api.recentFunding))
	mux.HandlePath(http.MethodGet, "/v1/integrity", api.handle("verify_integrity", api.verifyIntegrity))
	mux.HandlePath(http.MethodPost, "/v1/admin/margin/allocate", api.handle("inject_margin_allocate", api.injectMarginAllocate))
	mux.HandlePath(http.MethodPost, "/v1/admin/margin/release", api.handle("inject_margin_release", api.injectMarginRelease))
	mux.HandlePath(http.MethodPost, "/v1/admin/contracts", api.handle("inject_contract_params", api.injectContractParams))

	httpMux := http.NewServeMux()
	if s.health != nil {
		httpMux.HandleFunc("/healthz", s.health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.health.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux
}

// ============================================================================
// HTTP/JSON handlers
// ============================================================================

type apiHandler struct {
	query   *query.Service
	ingest  *ingestion.GRPCIngestService
	history *projection.History
	metrics *observability.Metrics
}

type apiFunc func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) error

// handle wraps an endpoint with per-endpoint request counting and latency
// observation. Handler errors have already been written to the client.
func (h *apiHandler) handle(endpoint string, fn apiFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		err := fn(w, r, pathParams)
		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if err != nil {
				h.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
			}
		}
	}
}

func (h *apiHandler) getBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) error {
	bal, err := h.query.GetBalance(r.Context(), pathParams["address"], pathParams["asset"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, err)
	}
	return writeJSON(w, bal)
}

func (h *apiHandler) getBalanceHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) error {
	limit := queryInt(r, "limit", 100)
	before := queryInt64Ptr(r, "before_sequence")
	entries, err := h.query.GetBalanceHistory(r.Context(), pathParams["address"], pathParams["asset"], limit, before)
	if err != nil {
		return writeError(w, http.StatusBadRequest, err)
	}
	return writeJSON(w, map[string]interface{}{"entries": entries})
}

func (h *apiHandler) getPositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) error {
	positions, err := h.query.GetPositions(r.Context(), pathParams["address"])
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	return writeJSON(w, map[string]interface{}{"positions": positions})
}

func (h *apiHandler) getLiquidations(w http.ResponseWriter, r *http.Request, pathParams map[string]string) error {
	limit := queryInt(r, "limit", 100)
	before := queryInt64Ptr(r, "before_block")
	liqs, err := h.query.GetLiquidations(r.Context(), pathParams["address"], limit, before)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	return writeJSON(w, map[string]interface{}{"liquidations": liqs})
}

func (h *apiHandler) getFunding(w http.ResponseWriter, r *http.Request, pathParams map[string]string) error {
	limit := queryInt(r, "limit", 100)
	before := queryInt64Ptr(r, "before_block")
	rounds, err := h.query.GetFundingRounds(r.Context(), pathParams["contract"], limit, before)
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	return writeJSON(w, map[string]interface{}{"funding_rounds": rounds})
}

// recentLiquidations reads the in-memory activity feed, which stays current
// even while the database projection is catching up.
func (h *apiHandler) recentLiquidations(w http.ResponseWriter, r *http.Request, pathParams map[string]string) error {
	if h.history == nil {
		return writeError(w, http.StatusNotFound, fmt.Errorf("activity feed not enabled"))
	}
	limit := queryInt(r, "limit", 100)
	return writeJSON(w, map[string]interface{}{
		"liquidations": h.history.LiquidationsByAddress(pathParams["address"], limit),
	})
}

func (h *apiHandler) recentFunding(w http.ResponseWriter, r *http.Request, pathParams map[string]string) error {
	if h.history == nil {
		return writeError(w, http.StatusNotFound, fmt.Errorf("activity feed not enabled"))
	}
	limit := queryInt(r, "limit", 100)
	return writeJSON(w, map[string]interface{}{
		"funding_rounds": h.history.FundingByContract(pathParams["contract"], limit),
	})
}

func (h *apiHandler) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	report, err := h.query.VerifyIntegrity(r.Context())
	if err != nil {
		return writeError(w, http.StatusInternalServerError, err)
	}
	return writeJSON(w, report)
}

type marginRequest struct {
	Address  string `json:"address"`
	Contract string `json:"contract"`
	Amount   int64  `json:"amount"`
}

func (h *apiHandler) injectMarginAllocate(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req marginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
	}
	if err := h.ingest.InjectMarginAllocate(r.Context(), req.Address, req.Contract, req.Amount); err != nil {
		return writeError(w, http.StatusBadRequest, err)
	}
	return writeJSON(w, map[string]string{"status": "accepted"})
}

func (h *apiHandler) injectMarginRelease(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req marginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
	}
	if err := h.ingest.InjectMarginRelease(r.Context(), req.Address, req.Contract, req.Amount); err != nil {
		return writeError(w, http.StatusBadRequest, err)
	}
	return writeJSON(w, map[string]string{"status": "accepted"})
}

type contractParamsRequest struct {
	Contract        string `json:"contract"`
	CollateralAsset string `json:"collateral_asset"`
	NotionalValue   int64  `json:"notional_value"`
	Leverage        int64  `json:"leverage"`
	Inverse         bool   `json:"inverse"`
	Perpetual       bool   `json:"perpetual"`
	Whitelisted     bool   `json:"whitelisted"`
}

func (h *apiHandler) injectContractParams(w http.ResponseWriter, r *http.Request, _ map[string]string) error {
	var req contractParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
	}
	params := &event.ContractParamUpdate{
		Contract:        req.Contract,
		CollateralAsset: req.CollateralAsset,
		NotionalValue:   req.NotionalValue,
		Leverage:        req.Leverage,
		Inverse:         req.Inverse,
		Perpetual:       req.Perpetual,
		Whitelisted:     req.Whitelisted,
	}
	if err := h.ingest.InjectContractParams(r.Context(), params); err != nil {
		return writeError(w, http.StatusBadRequest, err)
	}
	return writeJSON(w, map[string]string{"status": "accepted"})
}

// ============================================================================
// Response helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
	return nil
}

func writeError(w http.ResponseWriter, code int, err error) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	return err
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryInt64Ptr(r *http.Request, name string) *int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
