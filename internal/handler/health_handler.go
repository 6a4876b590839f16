package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/response"
)

const healthTimeout = 2 * time.Second

// HealthHandler reports dependency reachability and worker queue depth.
type HealthHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{pool: pool, rdb: rdb, startTime: time.Now()}
}

type healthStatus struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`

	QueueAutosave   int64 `json:"queue_autosave"`
	QueueViolations int64 `json:"queue_violations"`
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	st := healthStatus{
		Status:   "ok",
		Uptime:   time.Since(h.startTime).Truncate(time.Second).String(),
		Postgres: "ok",
		Redis:    "ok",
	}

	if err := h.pool.Ping(ctx); err != nil {
		st.Status, st.Postgres = "degraded", err.Error()
	}

	pipe := h.rdb.Pipeline()
	autosaveCmd := pipe.LLen(ctx, config.WorkerKey.PersistAutosaveQueue)
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		st.Status, st.Redis = "degraded", err.Error()
	} else {
		st.QueueAutosave = autosaveCmd.Val()
		st.QueueViolations = violationsCmd.Val()
	}

	code := http.StatusOK
	if st.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, st)
}
