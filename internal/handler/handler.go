package handler

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/nathanyu/matching-core/internal/ledger"
	"github.com/nathanyu/matching-core/internal/matching"
	"github.com/nathanyu/matching-core/internal/ordermanager"
	"github.com/nathanyu/matching-core/internal/tradefeed"
)

const (
	defaultDepth      = 5
	defaultTradeCount = 100
)

// Handler holds the HTTP handler dependencies.
type Handler struct {
	manager *ordermanager.Manager
	engine  *matching.Engine
	feed    *tradefeed.Feed
}

// NewHandler creates a new Handler.
func NewHandler(manager *ordermanager.Manager, engine *matching.Engine, feed *tradefeed.Feed) *Handler {
	return &Handler{
		manager: manager,
		engine:  engine,
		feed:    feed,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/order", h.PlaceOrder)
		v1.DELETE("/order/:symbol/:id", h.CancelOrder)
		v1.GET("/order/:id", h.GetOrder)
		v1.GET("/trades", h.GetTrades)
		v1.GET("/orderbook/:symbol", h.GetL2OrderBook)
		v1.GET("/orderbook/:symbol/orders", h.GetRestingOrders)
		v1.GET("/orderbook/:symbol/orders/:id", h.GetRestingOrder)
		v1.GET("/symbols", h.GetSymbols)
		v1.POST("/brokers", h.RegisterBroker)
		v1.GET("/brokers", h.ListBrokers)
		v1.GET("/brokers/:id", h.GetBroker)
		v1.POST("/shareholders", h.RegisterShareholder)
		v1.GET("/shareholders/:id", h.GetShareholder)
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"service":            "matching-core",
		"reservation_policy": h.engine.Policy().String(),
	})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ordermanager.ErrOrderNotFound),
		errors.Is(err, matching.ErrOrderNotFound),
		errors.Is(err, ledger.ErrBrokerNotFound),
		errors.Is(err, ledger.ErrShareholderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ordermanager.ErrOrderClosed),
		errors.Is(err, ledger.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, ordermanager.ErrInvalidQuantity),
		errors.Is(err, ordermanager.ErrInvalidPrice),
		errors.Is(err, ordermanager.ErrInvalidSide),
		errors.Is(err, ordermanager.ErrInvalidPeakSize),
		errors.Is(err, ordermanager.ErrOrderTooLarge),
		errors.Is(err, ordermanager.ErrUnknownSymbol),
		errors.Is(err, ordermanager.ErrInvalidBalance):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

// PlaceOrderRequest is the request body for placing an order.
type PlaceOrderRequest struct {
	Symbol        string      `json:"symbol" binding:"required"`
	Side          domain.Side `json:"side" binding:"required"`
	Price         int64       `json:"price" binding:"required,gt=0"`
	Quantity      int64       `json:"quantity" binding:"required,gt=0"`
	PeakSize      int64       `json:"peak_size" binding:"gte=0"`
	BrokerID      string      `json:"broker_id" binding:"required"`
	ShareholderID string      `json:"shareholder_id" binding:"required"`
}

// PlaceOrder handles POST /v1/order. A financing rejection is still a
// processed order and comes back 200 with its outcome; 201 means the order
// executed.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.manager.PlaceOrder(c.Request.Context(), ordermanager.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		PeakSize:      req.PeakSize,
		BrokerID:      req.BrokerID,
		ShareholderID: req.ShareholderID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if !result.Executed() {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// CancelOrder handles DELETE /v1/order/:symbol/:id.
func (h *Handler) CancelOrder(c *gin.Context) {
	order, err := h.manager.CancelOrder(c.Request.Context(), c.Param("symbol"), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetOrder handles GET /v1/order/:id.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.manager.GetOrder(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetTrades handles GET /v1/trades.
func (h *Handler) GetTrades(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(defaultTradeCount)))
	if err != nil || count <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
		return
	}

	trades := h.feed.GetTrades(c.Query("symbol"), c.Query("order_id"), count)
	c.JSON(http.StatusOK, trades)
}

// GetL2OrderBook handles GET /v1/orderbook/:symbol.
func (h *Handler) GetL2OrderBook(c *gin.Context) {
	depth, err := strconv.Atoi(c.DefaultQuery("depth", strconv.Itoa(defaultDepth)))
	if err != nil || depth <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a positive integer"})
		return
	}

	c.JSON(http.StatusOK, h.engine.GetL2Snapshot(c.Param("symbol"), depth))
}

// GetRestingOrders handles GET /v1/orderbook/:symbol/orders?side=buy|sell.
func (h *Handler) GetRestingOrders(c *gin.Context) {
	side := domain.Side(c.Query("side"))
	if !side.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be 'buy' or 'sell'"})
		return
	}

	c.JSON(http.StatusOK, h.engine.RestingOrders(c.Param("symbol"), side))
}

// GetRestingOrder handles GET /v1/orderbook/:symbol/orders/:id: the order as
// the book holds it right now.
func (h *Handler) GetRestingOrder(c *gin.Context) {
	snap, err := h.engine.RestingOrder(c.Param("symbol"), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetSymbols handles GET /v1/symbols: every symbol that has a book.
func (h *Handler) GetSymbols(c *gin.Context) {
	symbols := h.engine.Symbols()
	slices.Sort(symbols)
	c.JSON(http.StatusOK, symbols)
}

// RegisterBrokerRequest opens a broker account.
type RegisterBrokerRequest struct {
	BrokerID string `json:"broker_id" binding:"required"`
	Credit   int64  `json:"credit"`
}

// RegisterBroker handles POST /v1/brokers.
func (h *Handler) RegisterBroker(c *gin.Context) {
	var req RegisterBrokerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.manager.RegisterBroker(req.BrokerID, req.Credit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, brokerView(b))
}

// GetBroker handles GET /v1/brokers/:id.
func (h *Handler) GetBroker(c *gin.Context) {
	b, err := h.manager.Broker(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, brokerView(b))
}

// ListBrokers handles GET /v1/brokers.
func (h *Handler) ListBrokers(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.BrokerIDs())
}

func brokerView(b *ledger.Broker) gin.H {
	return gin.H{"broker_id": b.ID, "credit": b.Credit()}
}

// RegisterShareholderRequest opens a shareholder account.
type RegisterShareholderRequest struct {
	ShareholderID string           `json:"shareholder_id" binding:"required"`
	Positions     map[string]int64 `json:"positions"`
}

// RegisterShareholder handles POST /v1/shareholders.
func (h *Handler) RegisterShareholder(c *gin.Context) {
	var req RegisterShareholderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sh, err := h.manager.RegisterShareholder(req.ShareholderID, req.Positions)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, shareholderView(sh))
}

// GetShareholder handles GET /v1/shareholders/:id.
func (h *Handler) GetShareholder(c *gin.Context) {
	sh, err := h.manager.Shareholder(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, shareholderView(sh))
}

func shareholderView(sh *ledger.Shareholder) gin.H {
	return gin.H{"shareholder_id": sh.ID, "positions": sh.Positions()}
}
