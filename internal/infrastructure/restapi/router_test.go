package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reserve_tracker/internal/app/service"
	"reserve_tracker/internal/domain/entity"
	"reserve_tracker/internal/pkg/metrics"
)

type stubReserves struct {
	err error
}

func (s stubReserves) GetReserveHoldings(context.Context) ([]entity.AssetBalance, error) {
	return []entity.AssetBalance{{Symbol: "USDC", Chain: entity.ChainBase, FormattedBalance: "10", UsdValue: 10}}, s.err
}

func (s stubReserves) GetReserveHoldingsForChain(_ context.Context, chain entity.Chain) ([]entity.AssetBalance, error) {
	if chain != entity.ChainBase {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownChain, chain)
	}
	return []entity.AssetBalance{{Symbol: "USDC", Chain: chain}}, nil
}

func (s stubReserves) GetGroupedReserveHoldings(context.Context) (entity.GroupedHoldings, error) {
	return entity.GroupedHoldings{TotalUsdValue: 10}, s.err
}

func (s stubReserves) GetReserveComposition(context.Context) ([]entity.CompositionEntry, error) {
	return []entity.CompositionEntry{{CanonicalSymbol: "USDC", UsdValue: 10, Percentage: 100}}, s.err
}

func (s stubReserves) CalculateTotalAdjustments(context.Context, []entity.StablecoinToken) (entity.AdjustmentsResult, error) {
	return entity.AdjustmentsResult{TotalUsdValue: 5}, s.err
}

func (s stubReserves) GetCollateralization(context.Context) (entity.CollateralizationStats, error) {
	return entity.CollateralizationStats{Ratio: 1.2}, s.err
}

type stubStates []entity.ChainRefreshState

func (s stubStates) States() []entity.ChainRefreshState { return s }

func newTestRouter(r ReserveReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	metrics.New(reg).IncDroppedTrigger("base")
	states := stubStates{{Chain: entity.ChainBase, LastProcessedBlock: 7}}
	return SetupRouter(NewReserveHandler(r, states), RouterOptions{Gatherer: reg})
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestReserveRoutes(t *testing.T) {
	router := newTestRouter(stubReserves{})

	for _, path := range []string{
		"/api/v1/reserves",
		"/api/v1/reserves/grouped",
		"/api/v1/reserves/composition",
		"/api/v1/reserves/collateralization",
		"/api/v1/reserves/base",
		"/api/v1/stablecoins/adjustments",
		"/api/v1/status",
	} {
		rec, body := get(t, router, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, body["status_message"], path)
		assert.Contains(t, body, "data", path)
	}
}

func TestReserveRoutes_Errors(t *testing.T) {
	router := newTestRouter(stubReserves{err: errors.New("cache down")})

	rec, body := get(t, router, "/api/v1/reserves/grouped")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "cache down", body["error"])

	rec, _ = get(t, router, "/api/v1/reserves/solana")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOperationalRoutes(t *testing.T) {
	router := newTestRouter(stubReserves{})

	rec, _ := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reserve_tracker_refresh_triggers_dropped_total")
}
