package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/swapline/pool-engine/internal/custody"
	"github.com/swapline/pool-engine/internal/model"
	"github.com/swapline/pool-engine/internal/position"
	"github.com/swapline/pool-engine/internal/service"
	"github.com/swapline/pool-engine/internal/store"
)

// newTestEnv creates a test Service with in-memory store, a funded vault,
// and a chi router wired like cmd/server.
func newTestEnv(t *testing.T) (*service.Service, *store.MemoryStore, chi.Router) {
	t.Helper()

	vault := custody.NewVault()
	if err := vault.NewAsset("USD Coin", "USDC", uint256.NewInt(1_000_000), "alice"); err != nil {
		t.Fatalf("register USDC: %v", err)
	}
	if err := vault.NewAsset("Wrapped Ether", "WETH", uint256.NewInt(1_000_000), "alice"); err != nil {
		t.Fatalf("register WETH: %v", err)
	}
	if err := vault.Transfer("USDC", "alice", "bob", uint256.NewInt(100_000)); err != nil {
		t.Fatalf("fund bob: %v", err)
	}
	if err := vault.Transfer("WETH", "alice", "bob", uint256.NewInt(100_000)); err != nil {
		t.Fatalf("fund bob: %v", err)
	}

	dir := position.NewDirectory("factory")
	ms := store.NewMemoryStore()
	svc := service.NewService("factory", vault, dir, ms, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/pools", svc.CreatePool)
	r.Get("/api/v1/pools", svc.ListPools)
	r.Get("/api/v1/pools/{poolID}", svc.GetPool)
	r.Get("/api/v1/pools/{poolID}/price", svc.GetPrice)
	r.Get("/api/v1/pools/{poolID}/quote", svc.GetQuote)
	r.Get("/api/v1/pools/{poolID}/events", svc.GetPoolEvents)
	r.Post("/api/v1/pools/{poolID}/liquidity", svc.AddLiquidity)
	r.Delete("/api/v1/pools/{poolID}/liquidity", svc.RemoveLiquidity)
	r.Post("/api/v1/pools/{poolID}/swap", svc.Swap)
	r.Get("/api/v1/positions/{owner}", svc.ListPositions)

	return svc, ms, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// createPool creates a pool through the API and returns its id.
func createPool(t *testing.T, router chi.Router, feeBps uint64, tracked bool) string {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/pools", service.CreatePoolRequest{
		Creator: "alice",
		AssetA:  "USDC",
		AssetB:  "WETH",
		FeeBps:  feeBps,
		Tracked: tracked,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create pool: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p model.Pool
	json.Unmarshal(w.Body.Bytes(), &p)
	return p.ID
}

// addLiquidity deposits through the API and fails the test on a non-200.
func addLiquidity(t *testing.T, router chi.Router, poolID, provider, amountA, amountB string) service.LiquidityResponse {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/pools/"+poolID+"/liquidity", service.LiquidityRequest{
		Provider: provider,
		AmountA:  amountA,
		AmountB:  amountB,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("add liquidity: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp service.LiquidityResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

// --- Pool creation ---

func TestCreatePool_Valid(t *testing.T) {
	_, ms, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/pools", service.CreatePoolRequest{
		Creator: "alice",
		AssetA:  "USDC",
		AssetB:  "WETH",
		FeeBps:  300,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var p model.Pool
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.ID != "POOL-0" {
		t.Errorf("expected id POOL-0, got %s", p.ID)
	}
	if p.ReserveA != "0" || p.ReserveB != "0" || p.ShareSupply != "0" {
		t.Errorf("new pool should be empty, got %s/%s supply %s", p.ReserveA, p.ReserveB, p.ShareSupply)
	}

	// Creation lands in the ledger and the snapshot store.
	events, _ := ms.GetEventsByPool(context.Background(), p.ID)
	if len(events) != 1 || events[0].Kind != model.EventPoolCreated {
		t.Fatalf("expected one pool_created event, got %v", events)
	}
	if events[0].ID == "" || events[0].Timestamp.IsZero() {
		t.Error("ledger event should carry id and timestamp")
	}
	if _, err := ms.GetPool(context.Background(), p.ID); err != nil {
		t.Errorf("snapshot not persisted: %v", err)
	}
}

func TestCreatePool_DuplicatePair(t *testing.T) {
	_, _, router := newTestEnv(t)
	createPool(t, router, 300, false)

	w := doJSON(t, router, "POST", "/api/v1/pools", service.CreatePoolRequest{
		Creator: "alice", AssetA: "WETH", AssetB: "USDC", FeeBps: 300,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate pair, got %d", w.Code)
	}
}

func TestCreatePool_IdenticalAssets(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/pools", service.CreatePoolRequest{
		Creator: "alice", AssetA: "USDC", AssetB: "USDC", FeeBps: 300,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for identical assets, got %d", w.Code)
	}
}

func TestCreatePool_FeeOutOfRange(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/pools", service.CreatePoolRequest{
		Creator: "alice", AssetA: "USDC", AssetB: "WETH", FeeBps: 10000,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for fee at scale, got %d", w.Code)
	}
}

// --- Liquidity ---

func TestAddLiquidity_Bootstrap(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)

	resp := addLiquidity(t, router, id, "alice", "100", "100")
	if resp.SharesMinted != "100" {
		t.Errorf("expected 100 shares, got %s", resp.SharesMinted)
	}
	if resp.ReserveA != "100" || resp.ReserveB != "100" {
		t.Errorf("expected reserves 100/100, got %s/%s", resp.ReserveA, resp.ReserveB)
	}
	if resp.PositionID != nil {
		t.Error("untracked pool should not return a position id")
	}
}

func TestAddLiquidity_InsufficientBalance(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)

	w := doJSON(t, router, "POST", "/api/v1/pools/"+id+"/liquidity", service.LiquidityRequest{
		Provider: "bob", AmountA: "200000", AmountB: "1",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for insufficient balance, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAddLiquidity_ZeroDeposit(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)

	w := doJSON(t, router, "POST", "/api/v1/pools/"+id+"/liquidity", service.LiquidityRequest{
		Provider: "alice", AmountA: "0", AmountB: "100",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for one-sided deposit, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRemoveLiquidity_ByShares(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)
	addLiquidity(t, router, id, "alice", "400", "100")

	w := doJSON(t, router, "DELETE", "/api/v1/pools/"+id+"/liquidity", service.LiquidityRequest{
		Provider: "alice", Shares: "100",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp service.LiquidityResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SharesBurned != "100" {
		t.Errorf("expected 100 shares burned, got %s", resp.SharesBurned)
	}
	if resp.AmountA != "200" || resp.AmountB != "50" {
		t.Errorf("expected redemption 200/50, got %s/%s", resp.AmountA, resp.AmountB)
	}
	if resp.ReserveA != "200" || resp.ReserveB != "50" {
		t.Errorf("expected reserves 200/50, got %s/%s", resp.ReserveA, resp.ReserveB)
	}
}

func TestRemoveLiquidity_BothSelectorsRejected(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, true)
	addLiquidity(t, router, id, "alice", "100", "100")

	posID := uint64(0)
	w := doJSON(t, router, "DELETE", "/api/v1/pools/"+id+"/liquidity", service.LiquidityRequest{
		Provider: "alice", Shares: "50", PositionID: &posID,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for ambiguous request, got %d", w.Code)
	}
}

func TestRemoveLiquidity_ExceedsBalance(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)
	addLiquidity(t, router, id, "alice", "100", "100")

	w := doJSON(t, router, "DELETE", "/api/v1/pools/"+id+"/liquidity", service.LiquidityRequest{
		Provider: "alice", Shares: "500",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for over-redemption, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Positions ---

func TestTrackedPool_PositionLifecycle(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, true)

	resp := addLiquidity(t, router, id, "alice", "100", "100")
	if resp.PositionID == nil {
		t.Fatal("tracked pool should return a position id")
	}

	// Owner listing shows the position.
	w := doJSON(t, router, "GET", "/api/v1/positions/alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var positions []model.Position
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 1 || positions[0].Shares != "100" {
		t.Fatalf("expected one 100-share position, got %v", positions)
	}

	// Redeem by position id.
	w = doJSON(t, router, "DELETE", "/api/v1/pools/"+id+"/liquidity", service.LiquidityRequest{
		Provider: "alice", PositionID: resp.PositionID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rm service.LiquidityResponse
	json.Unmarshal(w.Body.Bytes(), &rm)
	if rm.AmountA != "100" || rm.AmountB != "100" {
		t.Errorf("expected full redemption 100/100, got %s/%s", rm.AmountA, rm.AmountB)
	}

	// The position is gone.
	w = doJSON(t, router, "GET", "/api/v1/positions/alice", nil)
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 0 {
		t.Errorf("expected no positions after redemption, got %d", len(positions))
	}
}

func TestRemoveLiquidity_ForeignPosition(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, true)
	resp := addLiquidity(t, router, id, "alice", "100", "100")

	w := doJSON(t, router, "DELETE", "/api/v1/pools/"+id+"/liquidity", service.LiquidityRequest{
		Provider: "bob", PositionID: resp.PositionID,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign position, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Swaps ---

func TestSwap_Executes(t *testing.T) {
	_, ms, router := newTestEnv(t)
	id := createPool(t, router, 300, false)
	addLiquidity(t, router, id, "alice", "100", "100")

	w := doJSON(t, router, "POST", "/api/v1/pools/"+id+"/swap", service.SwapRequest{
		Trader: "bob", AssetIn: "USDC", AssetOut: "WETH", AmountIn: "10",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp service.SwapResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.AmountOut != "8" {
		t.Errorf("expected output 8, got %s", resp.AmountOut)
	}
	if resp.ReserveA != "110" || resp.ReserveB != "92" {
		t.Errorf("expected reserves 110/92, got %s/%s", resp.ReserveA, resp.ReserveB)
	}

	// Ledger carries the swap.
	events, _ := ms.GetEventsByActor(context.Background(), "bob")
	if len(events) != 1 || events[0].Kind != model.EventSwap {
		t.Fatalf("expected one swap event, got %v", events)
	}
	if events[0].AmountIn != "10" || events[0].AmountOut != "8" {
		t.Errorf("expected amounts 10/8, got %s/%s", events[0].AmountIn, events[0].AmountOut)
	}
}

func TestSwap_DustInput(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)
	addLiquidity(t, router, id, "alice", "100", "100")

	// A 1-unit input floors to zero after the fee haircut.
	w := doJSON(t, router, "POST", "/api/v1/pools/"+id+"/swap", service.SwapRequest{
		Trader: "bob", AssetIn: "USDC", AssetOut: "WETH", AmountIn: "1",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for dust input, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSwap_UnknownAsset(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)
	addLiquidity(t, router, id, "alice", "100", "100")

	w := doJSON(t, router, "POST", "/api/v1/pools/"+id+"/swap", service.SwapRequest{
		Trader: "bob", AssetIn: "DOGE", AssetOut: "WETH", AmountIn: "10",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for foreign input asset, got %d", w.Code)
	}
}

func TestSwap_UnknownPool(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/pools/POOL-99/swap", service.SwapRequest{
		Trader: "bob", AssetIn: "USDC", AssetOut: "WETH", AmountIn: "10",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Prices and quotes ---

func TestGetPrice(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)
	addLiquidity(t, router, id, "alice", "100", "200")

	w := doJSON(t, router, "GET", "/api/v1/pools/"+id+"/price", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var prices map[string]string
	json.Unmarshal(w.Body.Bytes(), &prices)
	if prices["USDC"] != "2" {
		t.Errorf("expected USDC priced at 2, got %s", prices["USDC"])
	}
	if prices["WETH"] != "0.5" {
		t.Errorf("expected WETH priced at 0.5, got %s", prices["WETH"])
	}
}

func TestGetPrice_EmptyPool(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)

	w := doJSON(t, router, "GET", "/api/v1/pools/"+id+"/price", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for empty pool, got %d", w.Code)
	}
}

func TestGetQuote_DoesNotMutate(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)
	addLiquidity(t, router, id, "alice", "100", "100")

	w := doJSON(t, router, "GET", "/api/v1/pools/"+id+"/quote?asset_in=USDC&asset_out=WETH&amount_in=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var quote map[string]string
	json.Unmarshal(w.Body.Bytes(), &quote)
	if quote["amount_out"] != "8" {
		t.Errorf("expected quoted output 8, got %s", quote["amount_out"])
	}
	if quote["effective_price"] != "0.8" {
		t.Errorf("expected effective price 0.8, got %s", quote["effective_price"])
	}

	// Reserves unchanged after a quote.
	w = doJSON(t, router, "GET", "/api/v1/pools/"+id, nil)
	var p model.Pool
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.ReserveA != "100" || p.ReserveB != "100" {
		t.Errorf("quote mutated reserves: %s/%s", p.ReserveA, p.ReserveB)
	}
}

// --- Listings and ledger ---

func TestListPools_FilterByAsset(t *testing.T) {
	_, _, router := newTestEnv(t)
	createPool(t, router, 300, false)
	createPool(t, router, 500, false)

	w := doJSON(t, router, "GET", "/api/v1/pools?asset=USDC", nil)
	var pools []model.Pool
	json.Unmarshal(w.Body.Bytes(), &pools)
	if len(pools) != 2 {
		t.Errorf("expected 2 USDC pools, got %d", len(pools))
	}

	w = doJSON(t, router, "GET", "/api/v1/pools?asset=DOGE", nil)
	json.Unmarshal(w.Body.Bytes(), &pools)
	if len(pools) != 0 {
		t.Errorf("expected no DOGE pools, got %d", len(pools))
	}
}

func TestGetPoolEvents_InsertionOrder(t *testing.T) {
	_, _, router := newTestEnv(t)
	id := createPool(t, router, 300, false)
	addLiquidity(t, router, id, "alice", "100", "100")
	doJSON(t, router, "POST", "/api/v1/pools/"+id+"/swap", service.SwapRequest{
		Trader: "bob", AssetIn: "USDC", AssetOut: "WETH", AmountIn: "10",
	})

	w := doJSON(t, router, "GET", "/api/v1/pools/"+id+"/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var events []model.PoolEvent
	json.Unmarshal(w.Body.Bytes(), &events)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	kinds := []string{events[0].Kind, events[1].Kind, events[2].Kind}
	want := []string{model.EventPoolCreated, model.EventAddLiquidity, model.EventSwap}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestGetPoolEvents_UnknownPool(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doJSON(t, router, "GET", "/api/v1/pools/POOL-99/events", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
