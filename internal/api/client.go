// Package api is the HTTP client for the fleet REST API. Every request
// carries the command's idempotency key so the server can collapse
// repeated deliveries of the same action.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/syncerr"
)

// Endpoint paths, relative to the base URL.
const (
	PathStartDuty        = "/duty/start"
	PathEndDuty          = "/duty/end"
	PathLocationSync     = "/location/sync"
	PathPushToken        = "/push-token"
	PathAcceptAssignment = "/assignment/accept"
	PathHealth           = "/health"
)

// HeaderIdempotencyKey carries the command's idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxBodyBytes = 1 << 20

// Client is a minimal fleet API client.
type Client struct {
	BaseURL    string
	Token      string
	DeviceID   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		Timeout:    20 * time.Second,
	}
}

// Response is the decoded body of a 2xx reply.
type Response struct {
	StatusCode int
	// EntityID is the server id of the entity the request created or
	// touched, when the body reports one.
	EntityID string
	Body     []byte
}

// Send delivers cmd to the endpoint for its kind. It makes exactly one
// HTTP request.
func (c *Client) Send(ctx context.Context, cmd command.Command) (Response, error) {
	switch p := cmd.Payload.(type) {
	case command.StartDuty:
		return c.StartDuty(ctx, cmd.IdempotencyKey, cmd.TempEntityID, p)
	case command.EndDuty:
		return c.EndDuty(ctx, cmd.IdempotencyKey, p)
	case command.LocationBatch:
		return c.SyncLocations(ctx, cmd.IdempotencyKey, p)
	case command.PushTokenUpdate:
		return c.UpdatePushToken(ctx, cmd.IdempotencyKey, p)
	case command.AcceptAssignment:
		return c.AcceptAssignment(ctx, cmd.IdempotencyKey, p)
	}
	return Response{}, &syncerr.ValidationError{Op: "send", Message: fmt.Sprintf("no endpoint for %T", cmd.Payload)}
}

// StartDuty opens a duty. The server must answer with the new duty id;
// clientRef is the temp id the device used for it while offline.
func (c *Client) StartDuty(ctx context.Context, key, clientRef string, p command.StartDuty) (Response, error) {
	body := struct {
		command.StartDuty
		ClientRef string `json:"client_ref,omitempty"`
	}{p, clientRef}
	resp, err := c.do(ctx, "start duty", http.MethodPost, PathStartDuty, key, body)
	if err != nil {
		return resp, err
	}
	if resp.EntityID == "" {
		// Replaying the key returns the original reply, so a retry is safe.
		return resp, &syncerr.TransientNetworkError{Op: "start duty", StatusCode: resp.StatusCode, Err: errors.New("response carries no duty id")}
	}
	return resp, nil
}

// EndDuty closes a duty.
func (c *Client) EndDuty(ctx context.Context, key string, p command.EndDuty) (Response, error) {
	return c.do(ctx, "end duty", http.MethodPost, PathEndDuty, key, p)
}

// SyncLocations uploads a batch of GPS fixes.
func (c *Client) SyncLocations(ctx context.Context, key string, p command.LocationBatch) (Response, error) {
	return c.do(ctx, "sync locations", http.MethodPost, PathLocationSync, key, p)
}

// UpdatePushToken registers the device's push token.
func (c *Client) UpdatePushToken(ctx context.Context, key string, p command.PushTokenUpdate) (Response, error) {
	return c.do(ctx, "update push token", http.MethodPost, PathPushToken, key, p)
}

// AcceptAssignment accepts a dispatch assignment.
func (c *Client) AcceptAssignment(ctx context.Context, key string, p command.AcceptAssignment) (Response, error) {
	return c.do(ctx, "accept assignment", http.MethodPost, PathAcceptAssignment, key, p)
}

// Ping checks that the API is reachable. A link-layer connection behind a
// captive portal fails here even though the OS reports connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "ping", http.MethodGet, PathHealth, "", nil)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path, key string, body any) (Response, error) {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return Response{}, &syncerr.ValidationError{Op: op, Message: fmt.Sprintf("encode body: %v", err)}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &buf)
	if err != nil {
		return Response{}, &syncerr.ValidationError{Op: op, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return Response{}, &syncerr.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, &syncerr.TransientNetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := Classify(op, resp.StatusCode, data); err != nil {
		return Response{StatusCode: resp.StatusCode, Body: data}, err
	}
	return Response{StatusCode: resp.StatusCode, EntityID: entityID(data), Body: data}, nil
}

// Classify maps an HTTP status to the sync error taxonomy. It returns nil
// for 2xx.
//
//	409                 conflict
//	401, 403            transient (credentials are refreshed out of band)
//	408, 425, 429, 5xx  transient
//	other 4xx           validation
func Classify(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusConflict:
		return &syncerr.ConflictError{Op: op, ServerData: body}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &syncerr.TransientNetworkError{Op: op, StatusCode: status, Err: errors.New("not authorized")}
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status == http.StatusTooManyRequests, status >= 500:
		return &syncerr.TransientNetworkError{Op: op, StatusCode: status, Err: errors.New(http.StatusText(status))}
	case status >= 400:
		return &syncerr.ValidationError{Op: op, StatusCode: status, Message: errorMessage(status, body)}
	}
	// 1xx/3xx are unexpected from a JSON API; treat as transient.
	return &syncerr.TransientNetworkError{Op: op, StatusCode: status, Err: fmt.Errorf("unexpected status %d", status)}
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(status int, body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 200 {
		return s
	}
	return http.StatusText(status)
}
