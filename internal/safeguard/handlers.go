package safeguard

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/validation"
)

// Handler provides the risk profile endpoints.
type Handler struct {
	engine  *Engine
	network chain.Network
}

// NewHandler creates a handler that assesses on mainnet.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine, network: chain.Mainnet}
}

// WithNetwork changes the network assessed.
func (h *Handler) WithNetwork(n chain.Network) *Handler {
	h.network = n
	return h
}

// RegisterRoutes sets up the risk profile endpoints under /chains/:chain.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/chains/:chain", validation.ChainParamMiddleware())
	g.POST("/transactions/risk-profiles", h.AssessTransaction)
	g.POST("/messages/risk-profiles", h.AssessMessage)
	g.POST("/users/risk-profiles", h.AssessUser)
}

// AssessTransaction profiles a pending transaction.
// POST /chains/:chain/transactions/risk-profiles
func (h *Handler) AssessTransaction(c *gin.Context) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if errs := ValidateTransaction(req); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	out := h.engine.AssessTransaction(c.Request.Context(), validation.ChainFrom(c), h.network, req)
	c.JSON(http.StatusOK, out)
}

// AssessMessage profiles an EIP-712 message.
// POST /chains/:chain/messages/risk-profiles
func (h *Handler) AssessMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	msg, errs := PrepareMessage(req, h.engine.now())
	if len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	out := h.engine.AssessMessage(c.Request.Context(), validation.ChainFrom(c), h.network, req, msg)
	c.JSON(http.StatusOK, out)
}

// AssessUser profiles a wallet.
// POST /chains/:chain/users/risk-profiles
func (h *Handler) AssessUser(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if errs := ValidateUser(req); len(errs) > 0 {
		validationFailed(c, errs)
		return
	}
	out, err := h.engine.AssessUser(c.Request.Context(), validation.ChainFrom(c), h.network, req)
	if errors.Is(err, ErrInvalidENSName) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"errors":  []string{err.Error()},
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to assess user",
		})
		return
	}
	c.JSON(http.StatusOK, out)
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Request body must be valid JSON",
	})
}

func validationFailed(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"message": errs.Error(),
		"errors":  errs.Messages(),
	})
}
