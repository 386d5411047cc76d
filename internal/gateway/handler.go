package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/logger"
	"courier/pkg/errors"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages", h.SubmitMessage)
		v1.GET("/messages/:id", h.GetMessage)
	}
}

// SubmitMessage accepts a delivery request, suppressing duplicates by
// content fingerprint. New submissions answer 202; duplicates answer 200
// with the original record's id and status.
func (h *Handler) SubmitMessage(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// GetMessage returns the delivery status for a message id.
func (h *Handler) GetMessage(c *gin.Context) {
	record, err := h.service.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messageId": record.MessageID,
		"status":    record.Status,
		"attempts":  record.Attempts,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	if !errors.IsValidation(err) && !errors.IsNotFound(err) {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error",
			"error", err,
			"path", c.Request.URL.Path,
		)
	}

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}
