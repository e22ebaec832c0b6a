// Package service provides the HTTP handlers and business logic for
// creating pools, managing liquidity, executing swaps, and querying
// positions and the audit ledger.
//
// All asset quantities cross the wire as decimal strings — never float64
// for money. Display prices use shopspring/decimal.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/swapline/pool-engine/internal/cpmm"
	"github.com/swapline/pool-engine/internal/custody"
	"github.com/swapline/pool-engine/internal/metrics"
	"github.com/swapline/pool-engine/internal/model"
	"github.com/swapline/pool-engine/internal/pool"
	"github.com/swapline/pool-engine/internal/position"
	"github.com/swapline/pool-engine/internal/registry"
	"github.com/swapline/pool-engine/internal/store"
)

// pricePlaces is the number of decimal places reported by the price and
// quote endpoints.
const pricePlaces = 18

// Service handles pool operations. The live engines own the accounting
// state; the store receives snapshots after each mutation and holds the
// append-only event ledger.
type Service struct {
	registry *registry.Registry
	store    store.Store
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a pool service. It constructs its own registry with
// itself as the event recorder, so every engine operation lands in the
// ledger. Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(admin string, vault *custody.Vault, dir *position.Directory, st store.Store, hub *WSHub) *Service {
	svc := &Service{
		store: st,
		wsHub: hub,
	}
	svc.registry = registry.New(admin, vault, dir, svc)
	return svc
}

// Registry exposes the pool registry, mainly for wiring and tests.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Record implements pool.EventRecorder. It stamps the event with an id and
// timestamp, appends it to the ledger, and broadcasts it to WebSocket
// clients. Called synchronously from inside engine operations.
func (s *Service) Record(ev model.PoolEvent) {
	ev.ID = uuid.New().String()
	ev.Timestamp = time.Now().UTC()

	if err := s.store.InsertEvent(context.Background(), &ev); err != nil {
		slog.Error("event insert failed", "pool", ev.PoolID, "kind", ev.Kind, "err", err)
	}

	switch ev.Kind {
	case model.EventSwap:
		metrics.SwapsTotal.WithLabelValues(ev.PoolID).Inc()
	case model.EventAddLiquidity:
		metrics.LiquidityOpsTotal.WithLabelValues(ev.PoolID, "add").Inc()
	case model.EventRemoveLiquidity:
		metrics.LiquidityOpsTotal.WithLabelValues(ev.PoolID, "remove").Inc()
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "pool_event",
			PoolID:     ev.PoolID,
			Kind:       ev.Kind,
			Actor:      ev.Actor,
			AmountA:    ev.AmountA,
			AmountB:    ev.AmountB,
			Shares:     ev.Shares,
			AssetIn:    ev.AssetIn,
			AssetOut:   ev.AssetOut,
			AmountIn:   ev.AmountIn,
			AmountOut:  ev.AmountOut,
			PositionID: ev.PositionID,
		})
	}
}

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for pool creation.
type CreatePoolRequest struct {
	Creator string `json:"creator"`
	AssetA  string `json:"asset_a"`
	AssetB  string `json:"asset_b"`
	FeeBps  uint64 `json:"fee_bps"`  // parts-per-10000 of swap input
	Tracked bool   `json:"tracked"`  // record positions in the directory
}

// LiquidityRequest is the JSON body for POST (add) and DELETE (remove) on
// the liquidity endpoint. For removal, exactly one of Shares or PositionID
// selects the redemption mode.
type LiquidityRequest struct {
	Provider   string  `json:"provider"`
	AmountA    string  `json:"amount_a,omitempty"`
	AmountB    string  `json:"amount_b,omitempty"`
	Shares     string  `json:"shares,omitempty"`
	PositionID *uint64 `json:"position_id,omitempty"`
	RangeLower int32   `json:"range_lower,omitempty"`
	RangeUpper int32   `json:"range_upper,omitempty"`
}

// LiquidityResponse is returned from both liquidity operations.
type LiquidityResponse struct {
	PoolID       string  `json:"pool_id"`
	SharesMinted string  `json:"shares_minted,omitempty"`
	SharesBurned string  `json:"shares_burned,omitempty"`
	AmountA      string  `json:"amount_a,omitempty"`
	AmountB      string  `json:"amount_b,omitempty"`
	PositionID   *uint64 `json:"position_id,omitempty"`
	ReserveA     string  `json:"reserve_a"`
	ReserveB     string  `json:"reserve_b"`
	ShareSupply  string  `json:"share_supply"`
}

// SwapRequest is the JSON body for POST /swap.
type SwapRequest struct {
	Trader   string `json:"trader"`
	AssetIn  string `json:"asset_in"`
	AssetOut string `json:"asset_out"`
	AmountIn string `json:"amount_in"`
}

// SwapResponse is the JSON body returned from POST /swap.
type SwapResponse struct {
	PoolID    string `json:"pool_id"`
	Trader    string `json:"trader"`
	AssetIn   string `json:"asset_in"`
	AssetOut  string `json:"asset_out"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	ReserveA  string `json:"reserve_a"`
	ReserveB  string `json:"reserve_b"`
}

// --- HTTP Handlers ---

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}

	eng, err := s.registry.CreatePool(req.Creator, req.AssetA, req.AssetB, req.FeeBps, req.Tracked)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.ActivePools.Inc()

	snapshot := eng.Snapshot()
	if err := s.store.UpsertPool(r.Context(), snapshot); err != nil {
		slog.Error("pool snapshot failed", "pool", eng.ID(), "err", err)
	}

	slog.Info("pool created",
		"id", eng.ID(),
		"pair", req.AssetA+"/"+req.AssetB,
		"fee_bps", req.FeeBps,
		"tracked", req.Tracked,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(snapshot)
}

// ListPools handles GET /api/v1/pools
// Returns all pools in creation order, optionally filtered by ?asset=<symbol>.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := []model.Pool{}
	for _, eng := range s.registry.List() {
		pools = append(pools, *eng.Snapshot())
	}

	if asset := r.URL.Query().Get("asset"); asset != "" {
		filtered := []model.Pool{}
		for _, p := range pools {
			if p.AssetA == asset || p.AssetB == asset {
				filtered = append(filtered, p)
			}
		}
		pools = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pools)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	eng, err := s.registry.Get(chi.URLParam(r, "poolID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(eng.Snapshot())
}

// GetPrice handles GET /api/v1/pools/{poolID}/price
// Returns the marginal (fee-free) price in both directions.
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	eng, err := s.registry.Get(chi.URLParam(r, "poolID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	reserveA, reserveB := eng.Reserves()
	if reserveA.IsZero() || reserveB.IsZero() {
		writeError(w, "pool has no liquidity", http.StatusConflict)
		return
	}

	decA, _ := decimal.NewFromString(reserveA.Dec())
	decB, _ := decimal.NewFromString(reserveB.Dec())
	assetA, assetB := eng.Assets()

	resp := map[string]string{
		assetA: decB.DivRound(decA, pricePlaces).String(),
		assetB: decA.DivRound(decB, pricePlaces).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetQuote handles GET /api/v1/pools/{poolID}/quote?asset_in=X&asset_out=Y&amount_in=N
// Prices a prospective swap without executing it.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	eng, err := s.registry.Get(chi.URLParam(r, "poolID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	q := r.URL.Query()
	amountIn, err := parseAmount(q.Get("amount_in"))
	if err != nil {
		writeError(w, "amount_in must be a non-negative integer", http.StatusBadRequest)
		return
	}

	amountOut, err := eng.Quote(q.Get("asset_in"), q.Get("asset_out"), amountIn)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	decIn, _ := decimal.NewFromString(amountIn.Dec())
	decOut, _ := decimal.NewFromString(amountOut.Dec())

	resp := map[string]string{
		"asset_in":        q.Get("asset_in"),
		"asset_out":       q.Get("asset_out"),
		"amount_in":       amountIn.Dec(),
		"amount_out":      amountOut.Dec(),
		"effective_price": decOut.DivRound(decIn, pricePlaces).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// AddLiquidity handles POST /api/v1/pools/{poolID}/liquidity
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	eng, err := s.registry.Get(chi.URLParam(r, "poolID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req LiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}
	amountA, err := parseAmount(req.AmountA)
	if err != nil {
		writeError(w, "amount_a must be a non-negative integer", http.StatusBadRequest)
		return
	}
	amountB, err := parseAmount(req.AmountB)
	if err != nil {
		writeError(w, "amount_b must be a non-negative integer", http.StatusBadRequest)
		return
	}

	res, err := eng.AddLiquidity(req.Provider, amountA, amountB, req.RangeLower, req.RangeUpper)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	snapshot := eng.Snapshot()
	if err := s.store.UpsertPool(r.Context(), snapshot); err != nil {
		slog.Error("pool snapshot failed", "pool", eng.ID(), "err", err)
	}

	slog.Info("liquidity added",
		"pool", eng.ID(),
		"provider", req.Provider,
		"amount_a", amountA.Dec(),
		"amount_b", amountB.Dec(),
		"shares", res.SharesMinted.Dec(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LiquidityResponse{
		PoolID:       eng.ID(),
		SharesMinted: res.SharesMinted.Dec(),
		PositionID:   res.PositionID,
		ReserveA:     snapshot.ReserveA,
		ReserveB:     snapshot.ReserveB,
		ShareSupply:  snapshot.ShareSupply,
	})
}

// RemoveLiquidity handles DELETE /api/v1/pools/{poolID}/liquidity
// Redeems either a raw share amount or a whole position by id.
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	eng, err := s.registry.Get(chi.URLParam(r, "poolID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req LiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		writeError(w, "provider is required", http.StatusBadRequest)
		return
	}
	if req.PositionID != nil && req.Shares != "" {
		writeError(w, "specify either shares or position_id, not both", http.StatusBadRequest)
		return
	}

	var res *pool.RemoveResult
	if req.PositionID != nil {
		res, err = eng.RemoveLiquidityPosition(req.Provider, *req.PositionID)
	} else {
		var shares *uint256.Int
		shares, err = parseAmount(req.Shares)
		if err != nil {
			writeError(w, "shares must be a non-negative integer", http.StatusBadRequest)
			return
		}
		res, err = eng.RemoveLiquidity(req.Provider, shares)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	snapshot := eng.Snapshot()
	if err := s.store.UpsertPool(r.Context(), snapshot); err != nil {
		slog.Error("pool snapshot failed", "pool", eng.ID(), "err", err)
	}

	slog.Info("liquidity removed",
		"pool", eng.ID(),
		"provider", req.Provider,
		"shares", res.SharesBurned.Dec(),
		"amount_a", res.AmountA.Dec(),
		"amount_b", res.AmountB.Dec(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LiquidityResponse{
		PoolID:       eng.ID(),
		SharesBurned: res.SharesBurned.Dec(),
		AmountA:      res.AmountA.Dec(),
		AmountB:      res.AmountB.Dec(),
		PositionID:   res.PositionID,
		ReserveA:     snapshot.ReserveA,
		ReserveB:     snapshot.ReserveB,
		ShareSupply:  snapshot.ShareSupply,
	})
}

// Swap handles POST /api/v1/pools/{poolID}/swap
// Executes against the constant-product curve, returns the output amount
// and post-trade reserves.
func (s *Service) Swap(w http.ResponseWriter, r *http.Request) {
	eng, err := s.registry.Get(chi.URLParam(r, "poolID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}
	amountIn, err := parseAmount(req.AmountIn)
	if err != nil {
		writeError(w, "amount_in must be a non-negative integer", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res, err := eng.Swap(req.Trader, req.AssetIn, req.AssetOut, amountIn)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.SwapLatency.WithLabelValues(eng.ID()).Observe(time.Since(start).Seconds())

	snapshot := eng.Snapshot()
	if err := s.store.UpsertPool(r.Context(), snapshot); err != nil {
		slog.Error("pool snapshot failed", "pool", eng.ID(), "err", err)
	}

	slog.Info("swap executed",
		"pool", eng.ID(),
		"trader", req.Trader,
		"asset_in", req.AssetIn,
		"amount_in", amountIn.Dec(),
		"amount_out", res.AmountOut.Dec(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SwapResponse{
		PoolID:    eng.ID(),
		Trader:    req.Trader,
		AssetIn:   req.AssetIn,
		AssetOut:  req.AssetOut,
		AmountIn:  amountIn.Dec(),
		AmountOut: res.AmountOut.Dec(),
		ReserveA:  snapshot.ReserveA,
		ReserveB:  snapshot.ReserveB,
	})
}

// ListPositions handles GET /api/v1/positions/{owner}
// Returns every live position owned by the given identity.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	dir := s.registry.Directory()

	positions := []model.Position{}
	for _, id := range dir.ListByOwner(owner) {
		rec, err := dir.Get(id)
		if err != nil {
			continue
		}
		positions = append(positions, rec.View())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// GetPoolEvents handles GET /api/v1/pools/{poolID}/events
// Returns the pool's audit ledger in insertion order.
func (s *Service) GetPoolEvents(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	if _, err := s.registry.Get(poolID); err != nil {
		writeDomainError(w, err)
		return
	}

	events, err := s.store.GetEventsByPool(r.Context(), poolID)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.PoolEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// --- Helpers ---

// parseAmount converts a decimal string into an unsigned 256-bit amount.
// The empty string parses as zero so optional fields stay optional.
func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	return uint256.FromDecimal(s)
}

// writeDomainError maps engine and custody errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	// Malformed or self-contradictory requests.
	case errors.Is(err, cpmm.ErrInvalidFee),
		errors.Is(err, custody.ErrInvalidSymbol),
		errors.Is(err, custody.ErrAssetExists),
		errors.Is(err, pool.ErrIdenticalTokens),
		errors.Is(err, pool.ErrInvalidTokenIn),
		errors.Is(err, pool.ErrInvalidTokenOut),
		errors.Is(err, pool.ErrInvalidLiquidityAmount):
		status = http.StatusBadRequest

	// Unknown entities.
	case errors.Is(err, registry.ErrPoolNotFound),
		errors.Is(err, custody.ErrUnknownAsset),
		errors.Is(err, position.ErrPositionDoesNotExist),
		errors.Is(err, pool.ErrPositionNotFound),
		errors.Is(err, pool.ErrUntracked):
		status = http.StatusNotFound

	// Valid requests the current state cannot satisfy.
	case errors.Is(err, registry.ErrPoolExists),
		errors.Is(err, custody.ErrInsufficientBalance),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, cpmm.ErrInsufficientLiquidityMinted),
		errors.Is(err, cpmm.ErrInsufficientWithdrawalAmount),
		errors.Is(err, cpmm.ErrInsufficientOutputAmount):
		status = http.StatusConflict

	// Amounts beyond the representable range.
	case errors.Is(err, cpmm.ErrValueOverflow):
		status = http.StatusUnprocessableEntity

	// Capability and transfer-guard violations.
	case errors.Is(err, position.ErrNotAuthorized),
		errors.Is(err, position.ErrTransferForbidden):
		status = http.StatusForbidden

	// Bookkeeping faults.
	case errors.Is(err, pool.ErrInconsistentState):
		status = http.StatusInternalServerError
	}

	metrics.RejectedOpsTotal.WithLabelValues(http.StatusText(status)).Inc()
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
