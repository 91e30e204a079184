package purchase

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/ksred/goldfeed/pkg/response"
	"github.com/rs/zerolog/log"
)

// GinHandlers contains HTTP handlers for purchase endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for purchase endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreatePurchaseHandler handles POST requests recording a purchase
// Request body: {"investmentAmount": 100, "goldOunces": 0.05, "priceAtPurchase": 2000}
func (h *GinHandlers) CreatePurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, response.MsgInvalidBody)
			return
		}

		record, err := h.service.RecordPurchase(c.Request.Context(), req)
		if err != nil {
			var validationErr *ValidationError
			if errors.As(err, &validationErr) {
				response.BadRequest(c, validationErr.Message)
				return
			}
			log.Error().Err(err).Str("component", "purchase").Msg("failed to record purchase")
			response.InternalError(c, MsgPurchaseFailed)
			return
		}

		response.SuccessWithMessage(c, "purchase", record, MsgPurchaseRecorded)
	}
}

// ListPurchasesHandler handles GET requests for the purchase history
func (h *GinHandlers) ListPurchasesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, "purchases", h.service.ListPurchases(c.Request.Context()))
	}
}
