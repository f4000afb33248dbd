package status

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/orchestrator"
	"github.com/zulandar/fleetsync/internal/policy"
	"github.com/zulandar/fleetsync/internal/queue"
	"github.com/zulandar/fleetsync/internal/syncerr"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, svc Service, eventInterval time.Duration) {
	api := router.Group("/api")
	api.GET("/status", handleStatus(svc))
	api.GET("/pending", handlePending(svc))
	api.GET("/failures", handleFailures(svc))
	api.POST("/commands", handleEnqueue(svc))
	api.POST("/sync", handleSync(svc))
	api.POST("/sensors/network", handleNetwork(svc))
	api.POST("/sensors/power", handlePower(svc))
	api.POST("/failures/:id/requeue", handleRequeue(svc))
	api.DELETE("/failures/:id", handleDismiss(svc))
	api.GET("/events", handleEvents(svc, eventInterval))
}

// abort writes err as JSON with a status code matching its class.
func abort(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case syncerr.IsValidation(err):
		code = http.StatusBadRequest
	case errors.Is(err, queue.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrOffline), errors.Is(err, orchestrator.ErrStopped):
		code = http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrDropped):
		code = http.StatusConflict
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func handleStatus(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Status(c.Request.Context())
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func handlePending(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := svc.PendingRecords(c.Request.Context())
		if err != nil {
			abort(c, err)
			return
		}
		now := time.Now()
		views := make([]pendingView, 0, len(recs))
		for _, r := range recs {
			views = append(views, newPendingView(r, now))
		}
		c.JSON(http.StatusOK, gin.H{"count": len(views), "records": views})
	}
}

func handleFailures(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		all := c.Query("all") == "true"
		failures, err := svc.Failures(c.Request.Context(), all)
		if err != nil {
			abort(c, err)
			return
		}
		views := make([]failureView, 0, len(failures))
		for _, f := range failures {
			views = append(views, newFailureView(f))
		}
		c.JSON(http.StatusOK, gin.H{"count": len(views), "failures": views})
	}
}

func handleEnqueue(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req command.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cmd, err := req.Build()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := svc.Enqueue(c.Request.Context(), cmd)
		if err != nil {
			abort(c, err)
			return
		}
		resp := gin.H{
			"id":              id,
			"kind":            cmd.Kind(),
			"idempotency_key": cmd.IdempotencyKey,
		}
		if cmd.TempEntityID != "" {
			resp["temp_entity_id"] = cmd.TempEntityID
		}
		c.JSON(http.StatusAccepted, resp)
	}
}

func handleSync(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.ForceSyncNow(c.Request.Context())
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, newBatchView(res))
	}
}

func handleNetwork(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var s policy.NetworkState
		if err := c.ShouldBindJSON(&s); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, newRecommendationView(svc.ObserveNetwork(s)))
	}
}

func handlePower(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := policy.PowerState{BatteryPct: -1}
		if err := c.ShouldBindJSON(&s); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if s.BatteryPct > 100 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "battery_pct must be at most 100"})
			return
		}
		c.JSON(http.StatusOK, newRecommendationView(svc.ObservePower(s)))
	}
}

func handleRequeue(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		recID, err := svc.RequeueFailure(c.Request.Context(), id)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"record_id": recID})
	}
}

func handleDismiss(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		if err := svc.DismissFailure(c.Request.Context(), id); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id " + strconv.Quote(c.Param("id"))})
		return 0, false
	}
	return uint(id), true
}
