// Package api serves the bot control and inspection endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"GapPullback/internal/engine"
	"GapPullback/internal/model"
	"GapPullback/internal/risk"
)

// Bot is the control surface the API drives.
type Bot interface {
	Status() engine.Status
	Start() bool
	Stop() bool
	Pause() bool
	Resume() bool
	EmergencyClose(ctx context.Context) error
	Watchlist() []model.Candidate
	Positions() []model.Position
	PnL() risk.Summary
}

// Server wraps an echo instance.
type Server struct {
	echo *echo.Echo
	addr string
	log  zerolog.Logger
}

// NewServer registers the bot routes and /metrics for gatherer.
func NewServer(bot Bot, gatherer prometheus.Gatherer, addr string, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogging(log))

	h := &handler{bot: bot, log: log}
	g := e.Group("/api/bot")
	g.GET("/status", h.status)
	g.POST("/start", h.start)
	g.POST("/stop", h.stop)
	g.POST("/pause", h.pause)
	g.POST("/resume", h.resume)
	g.POST("/emergency-close", h.emergencyClose)
	g.GET("/watchlist", h.watchlist)
	g.GET("/positions", h.positions)
	g.GET("/pnl", h.pnl)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	return &Server{echo: e, addr: addr, log: log}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server error")
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func requestLogging(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			log.Debug().Str("method", req.Method).Str("uri", req.RequestURI).
				Int("status", c.Response().Status).Dur("latency", time.Since(start)).Msg("request")
			return err
		}
	}
}
