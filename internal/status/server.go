// Package status serves the local HTTP API used by the driver app and
// operators: queue status, command submission, sensor readings, and
// failure management.
package status

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/fleetsync/internal/agent"
	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/orchestrator"
	"github.com/zulandar/fleetsync/internal/policy"
)

// Service is the caller surface the API exposes. *agent.Agent satisfies it.
type Service interface {
	Enqueue(ctx context.Context, cmd command.Command) (uint, error)
	PendingRecords(ctx context.Context) ([]models.QueuedCommand, error)
	Failures(ctx context.Context, all bool) ([]models.CommandFailure, error)
	DismissFailure(ctx context.Context, id uint) error
	RequeueFailure(ctx context.Context, id uint) (uint, error)
	ForceSyncNow(ctx context.Context) (orchestrator.BatchResult, error)
	ObserveNetwork(s policy.NetworkState) policy.Recommendation
	ObservePower(s policy.PowerState) policy.Recommendation
	Status(ctx context.Context) (agent.Status, error)
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Service Service
	Addr    string
	Out     io.Writer
	// EventInterval is how often /api/events polls for changes.
	EventInterval time.Duration
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(svc Service, eventInterval time.Duration) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, svc, eventInterval)
	return router
}

// Start launches the status server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Service == nil {
		return fmt.Errorf("status: service is required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8787"
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           NewRouter(opts.Service, opts.EventInterval),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status API listening on http://%s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}
