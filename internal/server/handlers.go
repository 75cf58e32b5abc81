package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andy/invoicepay/internal/domain"
	"github.com/andy/invoicepay/internal/service"
	"github.com/andy/invoicepay/internal/webhook"
)

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfirmationRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvoiceNotFound), errors.Is(err, domain.ErrIntentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrDuplicateNumber):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGatewayUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   service.Describe(err),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWebhook answers 2xx for every event it has dealt with, including
// rejected ones, so the processor only redelivers on real failures
func (s *Server) handleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadSize))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"success": false,
			"error":   "payload too large",
		})
		return
	}

	res, err := s.hooks.HandlePayload(c.Request.Context(), payload, c.GetHeader(webhook.SignatureHeader))
	if err != nil {
		s.log.Warn().Err(err).Msg("webhook not applied")
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleList(c *gin.Context) {
	views, err := s.invoices.List(c.Request.Context(), service.ListFilter{
		Status: c.Query("status"),
		Client: c.Query("client"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    views,
		"count":   len(views),
	})
}

func (s *Server) handleGet(c *gin.Context) {
	view, err := s.invoices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    view,
	})
}

func (s *Server) handleSend(c *gin.Context) {
	inv, err := s.invoices.Send(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    inv,
		"message": "Invoice sent",
	})
}

func (s *Server) handlePay(c *gin.Context) {
	res, err := s.invoices.Pay(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    res.Invoice,
		"intent":  res.Intent,
		"result":  res.Result,
	})
}
