package health

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"floor-price-bot/internal/logging"
)

// Status is the process health as reported to the external scheduler that
// polls the liveness endpoint.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
)

// StatusFunc reports current health. A reconnecting gateway session is still
// OK; only a permanently failed one is DEGRADED.
type StatusFunc func() Status

// Server exposes GET /health. Every other path is a 404.
type Server struct {
	echo   *echo.Echo
	status StatusFunc
	logger zerolog.Logger
}

func NewServer(status StatusFunc, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		status: status,
		logger: logging.Component(logger, "health"),
	}
	e.GET("/health", s.health)

	return s
}

func (s *Server) health(c echo.Context) error {
	status := StatusOK
	if s.status != nil {
		status = s.status()
	}
	code := http.StatusOK
	if status == StatusDegraded {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{"status": string(status)})
}

func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("liveness endpoint listening")
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
