package restapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reserve_tracker/internal/app/service"
	"reserve_tracker/internal/domain/entity"
)

// ReserveReader is the read side of the reserve pipeline served over HTTP.
type ReserveReader interface {
	GetReserveHoldings(ctx context.Context) ([]entity.AssetBalance, error)
	GetReserveHoldingsForChain(ctx context.Context, chain entity.Chain) ([]entity.AssetBalance, error)
	GetGroupedReserveHoldings(ctx context.Context) (entity.GroupedHoldings, error)
	GetReserveComposition(ctx context.Context) ([]entity.CompositionEntry, error)
	CalculateTotalAdjustments(ctx context.Context, tokens []entity.StablecoinToken) (entity.AdjustmentsResult, error)
	GetCollateralization(ctx context.Context) (entity.CollateralizationStats, error)
}

// RefreshStates reports the cache warmer state per chain.
type RefreshStates interface {
	States() []entity.ChainRefreshState
}

// APIResponse is the envelope of every API reply.
type APIResponse struct {
	Data          any    `json:"data,omitempty"`
	StatusMessage string `json:"status_message"`
	Error         string `json:"error,omitempty"`
}

// ReserveHandler serves the reserve read endpoints.
type ReserveHandler struct {
	reserves ReserveReader
	states   RefreshStates
}

// NewReserveHandler creates a handler. states may be nil.
func NewReserveHandler(reserves ReserveReader, states RefreshStates) *ReserveHandler {
	return &ReserveHandler{reserves: reserves, states: states}
}

func respond(c *gin.Context, data any, err error, okMessage string) {
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, service.ErrUnknownChain) {
			status = http.StatusNotFound
		}
		c.JSON(status, APIResponse{StatusMessage: "Request failed.", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Data: data, StatusMessage: okMessage})
}

// GetHoldings returns every reserve balance.
func (h *ReserveHandler) GetHoldings(c *gin.Context) {
	data, err := h.reserves.GetReserveHoldings(c.Request.Context())
	respond(c, data, err, "Reserve holdings retrieved successfully.")
}

// GetChainHoldings returns the balances of the chain named in the path.
func (h *ReserveHandler) GetChainHoldings(c *gin.Context) {
	chain := entity.Chain(c.Param("chain"))
	data, err := h.reserves.GetReserveHoldingsForChain(c.Request.Context(), chain)
	respond(c, data, err, "Chain holdings retrieved successfully.")
}

func (h *ReserveHandler) GetGrouped(c *gin.Context) {
	data, err := h.reserves.GetGroupedReserveHoldings(c.Request.Context())
	respond(c, data, err, "Grouped holdings retrieved successfully.")
}

func (h *ReserveHandler) GetComposition(c *gin.Context) {
	data, err := h.reserves.GetReserveComposition(c.Request.Context())
	respond(c, data, err, "Reserve composition retrieved successfully.")
}

func (h *ReserveHandler) GetCollateralization(c *gin.Context) {
	data, err := h.reserves.GetCollateralization(c.Request.Context())
	respond(c, data, err, "Collateralization retrieved successfully.")
}

// GetAdjustments returns the supply adjustments of the registry's stablecoins.
func (h *ReserveHandler) GetAdjustments(c *gin.Context) {
	data, err := h.reserves.CalculateTotalAdjustments(c.Request.Context(), nil)
	respond(c, data, err, "Supply adjustments retrieved successfully.")
}

// GetStatus returns the cache warmer state of every chain.
func (h *ReserveHandler) GetStatus(c *gin.Context) {
	var states []entity.ChainRefreshState
	if h.states != nil {
		states = h.states.States()
	}
	c.JSON(http.StatusOK, APIResponse{Data: states, StatusMessage: "Refresh state retrieved successfully."})
}
