package assessments

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LukasBures/olynthus/internal/validation"
)

// Handler provides the audit log endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new assessments handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up assessment endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/assessments", h.ListAssessments)
}

// ListAssessments returns recent assessments, most recent first.
// GET /api/v1/assessments?subject=&limit=
func (h *Handler) ListAssessments(c *gin.Context) {
	subject := c.Query("subject")
	if subject != "" && !validation.IsValidEthAddress(subject) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_subject",
			"message": "subject should be valid ethereum address",
		})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit should be a positive integer",
			})
			return
		}
		limit = n
	}

	list, err := h.service.List(c.Request.Context(), subject, limit)
	if errors.Is(err, ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "Assessment log is not configured",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}
	if list == nil {
		list = []*Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{
		"assessments": list,
		"count":       len(list),
	})
}
