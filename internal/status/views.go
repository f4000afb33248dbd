package status

import (
	"fmt"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/orchestrator"
	"github.com/zulandar/fleetsync/internal/policy"
)

// pendingView is one queued record as shown to callers.
type pendingView struct {
	ID            uint      `json:"id"`
	Kind          string    `json:"kind"`
	Priority      string    `json:"priority"`
	ChainKey      string    `json:"chain_key,omitempty"`
	EntityRef     string    `json:"entity_ref,omitempty"`
	RetryCount    int       `json:"retry_count"`
	MaxRetries    int       `json:"max_retries"`
	Executing     bool      `json:"executing"`
	LastError     string    `json:"last_error,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	// State is a one-line summary for a status bar, e.g. "retry in 2m".
	State string `json:"state"`
}

func newPendingView(r models.QueuedCommand, now time.Time) pendingView {
	v := pendingView{
		ID:            r.ID,
		Kind:          r.Kind,
		Priority:      command.Priority(r.Priority).String(),
		ChainKey:      r.ChainKey,
		EntityRef:     r.EntityRef,
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		Executing:     r.IsExecuting,
		LastError:     r.LastError,
		EnqueuedAt:    r.EnqueuedAt,
		NextAttemptAt: time.UnixMilli(r.NextAttemptAt).UTC(),
	}
	switch wait := v.NextAttemptAt.Sub(now); {
	case r.IsExecuting:
		v.State = "sending"
	case wait > 0 && r.RetryCount > 0:
		v.State = "retry in " + formatDuration(wait)
	case wait > 0:
		v.State = "waiting " + formatDuration(wait)
	default:
		v.State = "pending sync"
	}
	return v
}

// failureView is one undelivered command.
type failureView struct {
	ID             uint      `json:"id"`
	RecordID       uint      `json:"record_id"`
	Kind           string    `json:"kind"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
	TempEntityID   string    `json:"temp_entity_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	ServerData     string    `json:"server_data,omitempty"`
	RetryCount     int       `json:"retry_count"`
	Dismissed      bool      `json:"dismissed"`
	FailedAt       time.Time `json:"failed_at"`
}

func newFailureView(f models.CommandFailure) failureView {
	return failureView{
		ID:             f.ID,
		RecordID:       f.RecordID,
		Kind:           f.Kind,
		Reason:         f.Reason,
		IdempotencyKey: f.IdempotencyKey,
		TempEntityID:   f.TempEntityID,
		LastError:      f.LastError,
		ServerData:     f.ServerData,
		RetryCount:     f.RetryCount,
		Dismissed:      f.Dismissed,
		FailedAt:       f.FailedAt,
	}
}

type batchView struct {
	Rounds     int    `json:"rounds"`
	Attempted  int    `json:"attempted"`
	Delivered  int    `json:"delivered"`
	Retrying   int    `json:"retrying"`
	Postponed  int    `json:"postponed"`
	Failed     int    `json:"failed"`
	Conflicted int    `json:"conflicted"`
	Duration   string `json:"duration"`
}

func newBatchView(r orchestrator.BatchResult) batchView {
	return batchView{
		Rounds:     r.Rounds,
		Attempted:  r.Attempted,
		Delivered:  r.Delivered,
		Retrying:   r.Retrying,
		Postponed:  r.Postponed,
		Failed:     r.Failed(),
		Conflicted: r.Conflicted,
		Duration:   r.Duration.Round(time.Millisecond).String(),
	}
}

type recommendationView struct {
	RunNow            bool   `json:"run_now"`
	Priority          string `json:"priority,omitempty"`
	CancelNonCritical bool   `json:"cancel_non_critical"`
	Reason            string `json:"reason,omitempty"`
}

func newRecommendationView(r policy.Recommendation) recommendationView {
	v := recommendationView{RunNow: r.RunNow, CancelNonCritical: r.CancelNonCritical, Reason: r.Reason}
	if r.RunNow {
		v.Priority = r.Priority.String()
	}
	return v
}

// formatDuration formats a duration as a human-readable string like "2h 15m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		days := h / 24
		h = h % 24
		return fmt.Sprintf("%dd %dh", days, h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
