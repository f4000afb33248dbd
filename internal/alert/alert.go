// Package alert reports commands that left the queue undelivered to the
// driver's dispatcher or an operator channel.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/fleetsync/internal/models"
)

// Sidebar colors for chat attachments.
const (
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Field is one labelled value shown with an alert.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Alert is a chat-ready description of an undelivered command.
type Alert struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
	At     time.Time
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// FromFailure formats a failure marker. Conflicts are warnings since the
// server already holds a newer state; everything else is an error.
func FromFailure(f models.CommandFailure) Alert {
	a := Alert{
		Color: ColorError,
		At:    f.FailedAt,
		Fields: []Field{
			{Name: "Command", Value: f.Kind, Short: true},
			{Name: "Record", Value: fmt.Sprintf("%d", f.RecordID), Short: true},
			{Name: "Attempts", Value: fmt.Sprintf("%d", f.RetryCount), Short: true},
			{Name: "Idempotency key", Value: f.IdempotencyKey, Short: false},
		},
	}
	switch f.Reason {
	case models.FailureExhausted:
		a.Title = fmt.Sprintf("%s not delivered after %d attempts", f.Kind, f.RetryCount)
	case models.FailureConflict:
		a.Title = fmt.Sprintf("%s conflicts with server state", f.Kind)
		a.Color = ColorWarning
	default:
		a.Title = fmt.Sprintf("%s rejected by server", f.Kind)
	}
	a.Body = f.LastError
	if f.TempEntityID != "" {
		a.Fields = append(a.Fields, Field{Name: "Temp id", Value: f.TempEntityID, Short: true})
	}
	if f.ServerData != "" {
		a.Fields = append(a.Fields, Field{Name: "Server state", Value: truncate(f.ServerData, 500)})
	}
	return a
}

// Text renders a as plain text, used as the chat fallback and for logs.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString(a.Title)
	if a.Body != "" {
		b.WriteString(": ")
		b.WriteString(a.Body)
	}
	return b.String()
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes alerts to the standard logger.
type Log struct{}

func (Log) Notify(_ context.Context, a Alert) error {
	log.Printf("alert: %s", a.Text())
	return nil
}

// Hook returns a queue terminal-failure callback that forwards each
// failure to n in the background. Delivery errors are logged.
func Hook(n Notifier, timeout time.Duration) func(models.CommandFailure) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return func(f models.CommandFailure) {
		a := FromFailure(f)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := n.Notify(ctx, a); err != nil {
				log.Printf("alert: deliver %q: %v", a.Title, err)
			}
		}()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
