package slack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/fleetsync/internal/alert"
	"github.com/zulandar/fleetsync/internal/models"
)

type mockSlackClient struct {
	mu       sync.Mutex
	posted   []string
	errs     []error // returned in order, then nil
	attempts int
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return "", "", err
		}
	}
	m.posted = append(m.posted, channelID)
	return channelID, "1234567890.123456", nil
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Opts{ChannelID: "C1"}); err == nil {
		t.Fatal("expected error without token or client")
	}
	if _, err := New(Opts{Client: &mockSlackClient{}}); err == nil {
		t.Fatal("expected error without channel")
	}
}

func TestNotify_Posts(t *testing.T) {
	mock := &mockSlackClient{}
	n, err := New(Opts{ChannelID: "C_ALERTS", Client: mock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := alert.FromFailure(models.CommandFailure{Kind: "end_duty", Reason: models.FailureRejected, LastError: "bad odometer"})
	if err := n.Notify(context.Background(), a); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mock.posted) != 1 || mock.posted[0] != "C_ALERTS" {
		t.Errorf("posted = %v, want [C_ALERTS]", mock.posted)
	}
}

func TestNotify_RetriesRateLimit(t *testing.T) {
	mock := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	n, _ := New(Opts{ChannelID: "C1", Client: mock})
	if err := n.Notify(context.Background(), alert.Alert{Title: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if mock.attempts != 2 {
		t.Errorf("attempts = %d, want 2", mock.attempts)
	}
}

func TestNotify_OtherErrorNotRetried(t *testing.T) {
	mock := &mockSlackClient{errs: []error{errors.New("channel_not_found")}}
	n, _ := New(Opts{ChannelID: "C1", Client: mock})
	err := n.Notify(context.Background(), alert.Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v, want channel_not_found", err)
	}
	if mock.attempts != 1 {
		t.Errorf("attempts = %d, want 1", mock.attempts)
	}
}

func TestNotify_RateLimitHonorsContext(t *testing.T) {
	rl := &slackapi.RateLimitedError{RetryAfter: time.Hour}
	mock := &mockSlackClient{errs: []error{rl}}
	n, _ := New(Opts{ChannelID: "C1", Client: mock})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.Notify(ctx, alert.Alert{Title: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestToAttachment(t *testing.T) {
	a := alert.Alert{
		Title:  "end_duty rejected by server",
		Body:   "bad odometer",
		Color:  alert.ColorError,
		At:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Fields: []alert.Field{{Name: "Record", Value: "7", Short: true}},
	}
	att := toAttachment(a)
	if att.Title != a.Title || att.Text != a.Body || att.Color != alert.ColorError {
		t.Errorf("attachment = %+v", att)
	}
	if att.Footer != "2026-03-01T08:00:00Z" {
		t.Errorf("Footer = %q", att.Footer)
	}
	if len(att.Fields) != 1 || att.Fields[0].Title != "Record" || !att.Fields[0].Short {
		t.Errorf("Fields = %+v", att.Fields)
	}
}
