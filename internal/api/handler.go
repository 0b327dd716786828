package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type handler struct {
	bot Bot
	log zerolog.Logger
}

// ActionResponse is the body of every control POST.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func action(c echo.Context, ok bool, okMsg, failMsg string) error {
	if ok {
		return c.JSON(http.StatusOK, ActionResponse{Success: true, Message: okMsg})
	}
	return c.JSON(http.StatusConflict, ActionResponse{Success: false, Message: failMsg})
}

func (h *handler) status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.bot.Status())
}

func (h *handler) start(c echo.Context) error {
	return action(c, h.bot.Start(), "Bot started", "Bot is already running")
}

func (h *handler) stop(c echo.Context) error {
	return action(c, h.bot.Stop(), "Bot stopped", "Bot is not running")
}

func (h *handler) pause(c echo.Context) error {
	return action(c, h.bot.Pause(), "Bot paused", "Cannot pause bot")
}

func (h *handler) resume(c echo.Context) error {
	return action(c, h.bot.Resume(), "Bot resumed", "Cannot resume bot")
}

func (h *handler) emergencyClose(c echo.Context) error {
	if err := h.bot.EmergencyClose(c.Request().Context()); err != nil {
		h.log.Error().Err(err).Msg("emergency close incomplete")
		return c.JSON(http.StatusInternalServerError, ActionResponse{Success: false, Message: err.Error()})
	}
	return c.JSON(http.StatusOK, ActionResponse{Success: true, Message: "Emergency close executed"})
}

func (h *handler) watchlist(c echo.Context) error {
	return c.JSON(http.StatusOK, h.bot.Watchlist())
}

func (h *handler) positions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.bot.Positions())
}

func (h *handler) pnl(c echo.Context) error {
	return c.JSON(http.StatusOK, h.bot.PnL())
}
