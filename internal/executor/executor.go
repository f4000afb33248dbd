// Package executor performs one queued command against the fleet API and
// classifies what happened. It never retries on its own; all retry and
// backoff decisions belong to the queue.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/fleetsync/internal/api"
	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/queue"
	"github.com/zulandar/fleetsync/internal/syncerr"
)

// NetworkClient sends one command to the server. *api.Client satisfies it.
type NetworkClient interface {
	Send(ctx context.Context, cmd command.Command) (api.Response, error)
}

// Resolver looks up temp ids in the reconciliation map. *queue.Queue
// satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, tempID string) (queue.Resolution, string, error)
}

// Executor runs queued commands.
type Executor struct {
	client   NetworkClient
	resolver Resolver
	timeout  time.Duration
}

// New returns an Executor. timeout bounds each network call; zero means 20s.
func New(client NetworkClient, resolver Resolver, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Executor{client: client, resolver: resolver, timeout: timeout}
}

// Execute runs rec and returns its outcome. It makes at most one network
// call. A temp reference that is still unconfirmed defers the record
// without calling the server.
//
// The network call is detached from ctx cancellation: once a request is
// sent it runs to completion or to the per-call timeout, so the queue
// always learns what actually happened.
//
// A non-nil error is returned only for storage failures during resolution;
// the record should then be released, not reported.
func (e *Executor) Execute(ctx context.Context, rec models.QueuedCommand) (queue.Outcome, error) {
	cmd, err := command.Decode([]byte(rec.Payload))
	if err != nil {
		return queue.Failure(fmt.Sprintf("undecodable payload: %v", err), false), nil
	}

	if ref := cmd.EntityRef(); command.IsTempID(ref) {
		state, serverID, err := e.resolver.Resolve(ctx, ref)
		if err != nil {
			return queue.Outcome{}, err
		}
		switch state {
		case queue.Resolved:
			cmd = cmd.WithEntityRef(serverID)
		case queue.Pending:
			return queue.Deferred(fmt.Sprintf("waiting for %s to be confirmed", ref)), nil
		case queue.Orphaned:
			return queue.Failure(fmt.Sprintf("referenced entity %s was never created on the server", ref), false), nil
		}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	resp, err := e.client.Send(callCtx, cmd)
	if err != nil {
		return Classify(err), nil
	}
	return queue.Success(resp.EntityID, string(resp.Body)), nil
}

// Classify maps a send error to a queue outcome. Unknown errors are
// retried.
func Classify(err error) queue.Outcome {
	var (
		conflict   *syncerr.ConflictError
		validation *syncerr.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		return queue.Conflict(string(conflict.ServerData))
	case errors.As(err, &validation):
		return queue.Failure(validation.Error(), false)
	case errors.Is(err, context.DeadlineExceeded):
		return queue.Failure("timeout: "+err.Error(), true)
	}
	return queue.Failure(err.Error(), true)
}
