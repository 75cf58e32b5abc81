package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/andy/invoicepay/internal/service"
)

// maxPayloadSize bounds webhook bodies
const maxPayloadSize = 64 << 10

// Server exposes the webhook endpoint and a small invoice API
type Server struct {
	invoices service.InvoiceService
	hooks    service.WebhookService
	router   *gin.Engine
	log      zerolog.Logger
}

// NewServer creates a new HTTP server
func NewServer(invoices service.InvoiceService, hooks service.WebhookService, log zerolog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	s := &Server{
		invoices: invoices,
		hooks:    hooks,
		router:   router,
		log:      log,
	}

	router.GET("/healthz", s.handleHealth)
	router.POST("/webhooks/payments", s.handleWebhook)

	api := router.Group("/invoices")
	{
		api.GET("", s.handleList)
		api.GET("/:id", s.handleGet)
		api.POST("/:id/send", s.handleSend)
		api.POST("/:id/pay", s.handlePay)
	}

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then drains in-flight requests
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info().Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
