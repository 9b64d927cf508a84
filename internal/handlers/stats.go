package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/inksight/inksight-backend/internal/logger"
	"github.com/inksight/inksight-backend/internal/repos"
)

type StatsHandler struct {
	log   *logger.Logger
	stats repos.StatsRepo
}

func NewStatsHandler(log *logger.Logger, stats repos.StatsRepo) *StatsHandler {
	return &StatsHandler{
		log:   log.With("handler", "StatsHandler"),
		stats: stats,
	}
}

// Device returns per-mode render counts and recent heartbeats for one mac.
func (h *StatsHandler) Device(c *gin.Context) {
	mac := c.Param("mac")
	ctx := c.Request.Context()

	counts, err := h.stats.RenderCounts(ctx, mac)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	heartbeats, err := h.stats.RecentHeartbeats(ctx, mac, clamp(queryInt(c, "limit", 50), 1, 200))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"mac":         mac,
		"mode_counts": counts,
		"heartbeats":  heartbeats,
	})
}
