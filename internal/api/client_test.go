package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/syncerr"
)

type captured struct {
	method string
	path   string
	key    string
	auth   string
	body   map[string]any
}

func newTestServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.key = r.Header.Get(HeaderIdempotencyKey)
		got.auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			json.Unmarshal(data, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestSend_RoutesByKind(t *testing.T) {
	tests := []struct {
		name string
		cmd  command.Command
		path string
	}{
		{"end duty", command.New(command.EndDuty{DutyID: "42"}), PathEndDuty},
		{"location", command.New(command.LocationBatch{Points: []command.LocationPoint{{Latitude: 1, Longitude: 2}}}), PathLocationSync},
		{"push token", command.New(command.PushTokenUpdate{Token: "tok"}), PathPushToken},
		{"assignment", command.New(command.AcceptAssignment{AssignmentID: "as-1"}), PathAcceptAssignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newTestServer(t, http.StatusOK, `{}`)
			c := New(srv.URL, "secret")

			if _, err := c.Send(context.Background(), tt.cmd); err != nil {
				t.Fatalf("Send: %v", err)
			}
			if got.path != tt.path || got.method != http.MethodPost {
				t.Errorf("request = %s %s, want POST %s", got.method, got.path, tt.path)
			}
			if got.key != tt.cmd.IdempotencyKey {
				t.Errorf("Idempotency-Key = %q, want %q", got.key, tt.cmd.IdempotencyKey)
			}
			if got.auth != "Bearer secret" {
				t.Errorf("Authorization = %q", got.auth)
			}
		})
	}
}

func TestStartDuty_ReturnsServerID(t *testing.T) {
	srv, got := newTestServer(t, http.StatusCreated, `{"id": 42, "status": "active"}`)
	c := New(srv.URL, "")

	cmd, tempID := command.NewStartDuty(command.StartDuty{VehicleID: "veh-1", OdometerKm: 1200})
	resp, err := c.Send(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.EntityID != "42" {
		t.Errorf("EntityID = %q, want 42", resp.EntityID)
	}
	if got.body["client_ref"] != tempID {
		t.Errorf("client_ref = %v, want %q", got.body["client_ref"], tempID)
	}
	if got.body["vehicle_id"] != "veh-1" {
		t.Errorf("vehicle_id = %v", got.body["vehicle_id"])
	}
}

func TestStartDuty_MissingIDIsTransient(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"status":"active"}`)
	c := New(srv.URL, "")
	cmd, _ := command.NewStartDuty(command.StartDuty{VehicleID: "veh-1"})

	_, err := c.Send(context.Background(), cmd)
	if !syncerr.IsTransient(err) {
		t.Errorf("err = %v, want TransientNetworkError", err)
	}
}

func TestSend_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		body   string
		check  func(error) bool
		want   string
	}{
		{http.StatusConflict, `{"status":"ended"}`, syncerr.IsConflict, "conflict"},
		{http.StatusUnprocessableEntity, `{"message":"odometer below start"}`, syncerr.IsValidation, "validation"},
		{http.StatusBadRequest, `bad`, syncerr.IsValidation, "validation"},
		{http.StatusNotFound, ``, syncerr.IsValidation, "validation"},
		{http.StatusUnauthorized, ``, syncerr.IsTransient, "transient"},
		{http.StatusForbidden, ``, syncerr.IsTransient, "transient"},
		{http.StatusRequestTimeout, ``, syncerr.IsTransient, "transient"},
		{http.StatusTooManyRequests, ``, syncerr.IsTransient, "transient"},
		{http.StatusInternalServerError, ``, syncerr.IsTransient, "transient"},
		{http.StatusBadGateway, ``, syncerr.IsTransient, "transient"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.body)
			c := New(srv.URL, "")
			_, err := c.Send(context.Background(), command.New(command.EndDuty{DutyID: "42"}))
			if !tt.check(err) {
				t.Errorf("status %d: err = %v, want %s", tt.status, err, tt.want)
			}
		})
	}
}

func TestSend_ConflictCarriesServerData(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusConflict, `{"status":"ended","ended_at":"2026-03-01T10:00:00Z"}`)
	c := New(srv.URL, "")
	_, err := c.EndDuty(context.Background(), "k", command.EndDuty{DutyID: "42"})

	var ce *syncerr.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if !strings.Contains(string(ce.ServerData), `"ended"`) {
		t.Errorf("ServerData = %s", ce.ServerData)
	}
}

func TestSend_ValidationMessage(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnprocessableEntity, `{"message":"odometer below start"}`)
	c := New(srv.URL, "")
	_, err := c.EndDuty(context.Background(), "k", command.EndDuty{DutyID: "42"})

	var ve *syncerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Message != "odometer below start" || ve.StatusCode != 422 {
		t.Errorf("ValidationError = %+v", ve)
	}
}

func TestSend_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, command.New(command.PushTokenUpdate{Token: "t"}))
	if !syncerr.IsTransient(err) {
		t.Errorf("err = %v, want TransientNetworkError", err)
	}
}

func TestSend_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, "")
	_, err := c.Send(context.Background(), command.New(command.PushTokenUpdate{Token: "t"}))
	if !syncerr.IsTransient(err) {
		t.Errorf("err = %v, want TransientNetworkError", err)
	}
}

func TestPing(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK, `{"ok":true}`)
	c := New(srv.URL+"/", "")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if got.method != http.MethodGet || got.path != PathHealth {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	if got.key != "" {
		t.Errorf("Ping sent Idempotency-Key %q", got.key)
	}
}

func TestEntityID(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"id": 42}`, "42"},
		{`{"id": "d-9"}`, "d-9"},
		{`{"duty_id": 7}`, "7"},
		{`{"data": {"id": 13}}`, "13"},
		{`{"status": "ok"}`, ""},
		{``, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := entityID([]byte(tt.body)); got != tt.want {
			t.Errorf("entityID(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
