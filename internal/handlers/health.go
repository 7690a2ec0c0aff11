package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports store reachability and live counts. A failing store answers 503.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := h.storeContext(c)
	defer cancel()

	rooms, participants := h.registry.Stats()
	body := gin.H{
		"status":       "ok",
		"store":        h.cfg.StoreBackend,
		"rooms":        rooms,
		"participants": participants,
		"connections":  h.hub.Count(),
	}

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("store health check failed")
		body["status"] = "degraded"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
