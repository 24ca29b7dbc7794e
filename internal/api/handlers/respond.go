package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

// respondOK wraps success payloads in the structured body admin tooling
// expects
func respondOK(c *gin.Context, data gin.H) {
	body := gin.H{"success": true}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// respondError maps taxonomy errors onto HTTP statuses and attaches the
// recovery suggestion admins act on
func respondError(c *gin.Context, logger *zap.Logger, err error, suggestion string) {
	body := gin.H{"success": false, "error": err.Error()}
	if suggestion != "" {
		body["suggestion"] = suggestion
	}

	var (
		notFound      *errors.ErrNotFound
		invalid       *errors.ErrInvalidTransition
		alreadySet    *errors.ErrAlreadyAssigned
		unserviceable *errors.ErrServiceUnavailable
		notCancel     *errors.ErrNotCancellable
		authFail      *errors.ErrAuthFailure
		conflict      *errors.ErrConflict
		network       *errors.ErrNetwork
	)

	switch {
	case stderrors.As(err, &notFound):
		c.JSON(http.StatusNotFound, body)
	case stderrors.As(err, &invalid), stderrors.As(err, &alreadySet), stderrors.As(err, &notCancel):
		c.JSON(http.StatusBadRequest, body)
	case stderrors.As(err, &unserviceable):
		c.JSON(http.StatusUnprocessableEntity, body)
	case stderrors.As(err, &conflict):
		c.JSON(http.StatusConflict, body)
	case stderrors.As(err, &authFail), stderrors.As(err, &network):
		logger.Error("carrier call failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, body)
	default:
		logger.Error("request failed", zap.Error(err))
		body["error"] = "internal error"
		c.JSON(http.StatusInternalServerError, body)
	}
}

// fetchOrder loads the order named in the route
func fetchOrder(c *gin.Context, repos *repository.Repositories, logger *zap.Logger) (*domain.Order, bool) {
	orderNumber := c.Param("orderNumber")
	order, err := repos.Order.GetByOrderNumber(c.Request.Context(), orderNumber)
	if err != nil {
		respondError(c, logger, err, "")
		return nil, false
	}
	return order, true
}
