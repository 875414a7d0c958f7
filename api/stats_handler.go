package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/backlog/queue"
)

// QueueStatsResponse counts the records of one queue.
type QueueStatsResponse struct {
	Queue string `json:"queue"`
	queue.Stats
	Total int64 `json:"total"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *API) health(c *gin.Context) {
	if p, ok := a.eng.Store().(pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) queueStats(c *gin.Context) {
	name := c.Param("queue")
	stats, err := a.eng.Stats(c.Request.Context(), name)
	if err != nil {
		a.fail(c, fmt.Errorf("queue %q stats: %w", name, err))
		return
	}
	c.JSON(http.StatusOK, QueueStatsResponse{Queue: name, Stats: stats, Total: stats.Total()})
}

func (a *API) restartWorkers(c *gin.Context) {
	if err := a.eng.RestartWorkers(c.Request.Context()); err != nil {
		a.fail(c, fmt.Errorf("signal worker restart: %w", err))
		return
	}
	c.Status(http.StatusAccepted)
}
