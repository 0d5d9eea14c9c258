package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/observability"
	"FundLedger/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

// Executor runs operator commands on the goroutine that owns the hub
// and records them in the command log. The ingestion worker satisfies
// it.
type Executor interface {
	Execute(cmd event.Inbound) (any, error)
}

// Gateway is the JSON/HTTP surface: read endpoints backed by the query
// service and operator endpoints that flow through the command log.
type Gateway struct {
	log      zerolog.Logger
	mux      *runtime.ServeMux
	queries  *query.Service
	health   *observability.HealthChecker
	executor Executor
	server   *http.Server
}

func NewGateway(
	log zerolog.Logger,
	addr string,
	queries *query.Service,
	health *observability.HealthChecker,
	executor Executor,
) (*Gateway, error) {
	g := &Gateway{
		log:      log.With().Str("component", "gateway").Logger(),
		mux:      runtime.NewServeMux(),
		queries:  queries,
		health:   health,
		executor: executor,
	}
	if err := g.routes(); err != nil {
		return nil, err
	}
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return g, nil
}

func (g *Gateway) routes() error {
	type route struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}
	for _, r := range []route{
		{http.MethodGet, "/healthz", g.wrap(g.health.LivenessHandler)},
		{http.MethodGet, "/readyz", g.wrap(g.health.ReadinessHandler)},
		{http.MethodGet, "/v1/commands", g.handleCommands},
		{http.MethodGet, "/v1/pools/{pool}/accounts/{account}/postings", g.handlePostings},
		{http.MethodGet, "/v1/pools/{pool}/accounts/{account}/totals", g.handleTotals},
		{http.MethodGet, "/v1/pools/{pool}/share-prices", g.handleSharePrices},
		{http.MethodPost, "/v1/admin/pools", g.handleCreatePool},
		{http.MethodPost, "/v1/admin/share-classes", g.handleAddShareClass},
		{http.MethodPost, "/v1/admin/accounts", g.handleCreateAccount},
		{http.MethodPost, "/v1/admin/managers", g.handleUpdateManager},
		{http.MethodPost, "/v1/admin/holdings", g.handleInitializeHolding},
		{http.MethodPost, "/v1/admin/revalue", g.handleRevalue},
		{http.MethodPost, "/v1/admin/approve-deposits", g.handleApproveDeposits},
		{http.MethodPost, "/v1/admin/approve-redeems", g.handleApproveRedeems},
		{http.MethodPost, "/v1/admin/issue-shares", g.handleIssueShares},
		{http.MethodPost, "/v1/admin/revoke-shares", g.handleRevokeShares},
		{http.MethodPost, "/v1/admin/submit-queued", g.handleSubmitQueued},
	} {
		if err := g.mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.path, err)
		}
	}
	return nil
}

// Start serves until Stop is called. Blocking.
func (g *Gateway) Start() error {
	g.log.Info().Str("addr", g.server.Addr).Msg("gateway listening")
	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

func (g *Gateway) wrap(h http.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		h(w, r)
	}
}

// execute stamps the operator envelope and hands the command to the
// worker, so it is logged and replayed like any spoke command. Callers
// may supply their own request_id for end-to-end idempotency.
func (g *Gateway) execute(w http.ResponseWriter, meta *event.Meta, cmd event.Inbound) {
	if meta.RequestID == "" {
		meta.RequestID = uuid.New().String()
	}
	if meta.Source == "" {
		meta.Source = event.OriginOperator
	}
	result, err := g.executor.Execute(cmd)
	g.writeResult(w, result, err)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Warn().Err(err).Msg("encode response")
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, err error) {
	g.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (g *Gateway) writeResult(w http.ResponseWriter, result any, err error) {
	if err != nil {
		g.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if result == nil {
		result = map[string]string{"status": "ok"}
	}
	g.writeJSON(w, http.StatusOK, result)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parsePathUint(params map[string]string, name string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(params[name], 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, params[name])
	}
	return v, nil
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

// --- Read endpoints ---

func (g *Gateway) handleCommands(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	out, err := g.queries.Commands(r.Context(), r.URL.Query().Get("origin"), queryLimit(r))
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, err)
		return
	}
	g.writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handlePostings(w http.ResponseWriter, r *http.Request, params map[string]string) {
	pool, err := parsePathUint(params, "pool", 64)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parsePathUint(params, "account", 32)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := g.queries.Postings(r.Context(), pool, uint32(account), queryLimit(r))
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, err)
		return
	}
	g.writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleTotals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	pool, err := parsePathUint(params, "pool", 64)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parsePathUint(params, "account", 32)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := g.queries.Totals(r.Context(), pool, uint32(account))
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, err)
		return
	}
	g.writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleSharePrices(w http.ResponseWriter, r *http.Request, params map[string]string) {
	pool, err := parsePathUint(params, "pool", 64)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := g.queries.SharePrices(r.Context(), pool, queryLimit(r))
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, err)
		return
	}
	g.writeJSON(w, http.StatusOK, out)
}

// --- Operator endpoints ---
// Each handler decodes straight into the command type the worker
// dispatches, so the HTTP body and the logged payload share one shape.

func (g *Gateway) handleCreatePool(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.CreatePool
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleAddShareClass(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.AddShareClass
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleCreateAccount(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.CreateAccount
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleUpdateManager(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.UpdateManager
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleInitializeHolding(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.InitializeHolding
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleRevalue(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.RevalueHolding
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleApproveDeposits(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.ApproveDeposits
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleApproveRedeems(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.ApproveRedeems
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleIssueShares(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.IssueShares
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleRevokeShares(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.RevokeShares
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}

func (g *Gateway) handleSubmitQueued(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var cmd event.SubmitQueued
	if err := decodeBody(r, &cmd); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	g.execute(w, &cmd.Meta, &cmd)
}
