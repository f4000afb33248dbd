package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/fleetsync/internal/alert"
	"github.com/zulandar/fleetsync/internal/models"
)

type sentEmbed struct {
	channelID string
	embed     *discordgo.MessageEmbed
}

type mockSession struct {
	mu       sync.Mutex
	sent     []sentEmbed
	errs     []error
	attempts int
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.sent = append(m.sent, sentEmbed{channelID: channelID, embed: embed})
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "123"}); err == nil {
		t.Fatal("expected error without token or session")
	}
	if _, err := New(Opts{Session: &mockSession{}}); err == nil {
		t.Fatal("expected error without channel")
	}
}

func TestNotify_SendsEmbed(t *testing.T) {
	mock := &mockSession{}
	n, err := New(Opts{ChannelID: "chan-1", Session: mock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := models.CommandFailure{
		RecordID:   3,
		Kind:       "end_duty",
		Reason:     models.FailureConflict,
		ServerData: `{"status":"ended"}`,
		FailedAt:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	if err := n.Notify(context.Background(), alert.FromFailure(f)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mock.sent) != 1 {
		t.Fatalf("sent %d embeds, want 1", len(mock.sent))
	}
	got := mock.sent[0]
	if got.channelID != "chan-1" {
		t.Errorf("channel = %q", got.channelID)
	}
	if got.embed.Color != 0xff9800 {
		t.Errorf("Color = %#x, want warning color", got.embed.Color)
	}
	if got.embed.Timestamp != "2026-03-01T08:00:00Z" {
		t.Errorf("Timestamp = %q", got.embed.Timestamp)
	}
	var found bool
	for _, fld := range got.embed.Fields {
		if fld.Name == "Server state" && fld.Value == `{"status":"ended"}` {
			found = true
		}
	}
	if !found {
		t.Errorf("server state field missing: %+v", got.embed.Fields)
	}
}

func TestNotify_RetriesRateLimit(t *testing.T) {
	mock := &mockSession{errs: []error{rateLimited(), rateLimited()}}
	n, _ := New(Opts{ChannelID: "c", Session: mock})
	n.baseBackoff = time.Millisecond
	if err := n.Notify(context.Background(), alert.Alert{Title: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if mock.attempts != 3 {
		t.Errorf("attempts = %d, want 3", mock.attempts)
	}
}

func TestNotify_GivesUpAfterMaxRetries(t *testing.T) {
	mock := &mockSession{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	n, _ := New(Opts{ChannelID: "c", Session: mock})
	n.baseBackoff = time.Millisecond
	if err := n.Notify(context.Background(), alert.Alert{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if mock.attempts != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", mock.attempts, maxRetries+1)
	}
}

func TestNotify_NonRateLimitError(t *testing.T) {
	mock := &mockSession{errs: []error{errors.New("missing access")}}
	n, _ := New(Opts{ChannelID: "c", Session: mock})
	if err := n.Notify(context.Background(), alert.Alert{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if mock.attempts != 1 {
		t.Errorf("attempts = %d, want 1", mock.attempts)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#e53935", 0xe53935},
		{"ff9800", 0xff9800},
		{"#36A64F", 0x36a64f},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}
