package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const webhookMaxBodyBytes = 1 << 20

const landingPage = `<!DOCTYPE html>
<html>
<head><title>bothive</title></head>
<body>
<h1>bothive</h1>
<p>Multi-bot webhook gateway. Nothing to see here.</p>
</body>
</html>`

// Server is the public webhook HTTP surface.
type Server struct {
	echo       *echo.Echo
	dispatcher *Dispatcher
	ready      func() bool
	log        *slog.Logger
}

// NewServer builds the HTTP server around a dispatcher. The ready function
// backs /readyz; nil means always ready.
func NewServer(dispatcher *Dispatcher, ready func() bool, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if ready == nil {
		ready = func() bool { return true }
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		dispatcher: dispatcher,
		ready:      ready,
		log:        log.With("component", "dispatch.server"),
	}

	e.GET("/", s.handleLanding)
	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.POST("/:token", s.handleWebhook)

	return s
}

// Handler exposes the underlying HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("Webhook server started", "address", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleWebhook accepts one update for the bot addressed by the URL token.
//
// The platform retries deliveries it considers failed, so the status split
// matters: 200 acknowledges even updates a worker may later reject, 404
// refuses tokens no bot owns, and 500 signals a transient dispatch failure
// worth retrying.
func (s *Server) handleWebhook(c echo.Context) error {
	token := c.Param("token")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes))
	if err != nil {
		s.log.Warn("Failed to read webhook body", "error", err)
		return c.String(http.StatusInternalServerError, "Error")
	}

	start := time.Now()
	if err := s.dispatcher.Dispatch(token, body); err != nil {
		if errors.Is(err, ErrUnknownToken) {
			s.log.Debug("Webhook for unknown token", "remote", c.RealIP())
			return c.String(http.StatusNotFound, "Unknown Bot Token")
		}
		s.log.Error("Failed to dispatch webhook", "error", err, "duration", time.Since(start))
		return c.String(http.StatusInternalServerError, "Error")
	}

	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleLanding(c echo.Context) error {
	return c.HTML(http.StatusOK, landingPage)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleReady(c echo.Context) error {
	if !s.ready() {
		return c.String(http.StatusServiceUnavailable, "not_ready")
	}
	return c.String(http.StatusOK, "ready")
}
