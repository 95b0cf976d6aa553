// Package alerting delivers operator alerts for errors that must not go
// unnoticed, such as a plugin configuration error halting an account.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "WalletPlugins/internal/errors"
)

// Channel names an alert sink.
type Channel string

const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
	ChannelMemory  Channel = "memory"
)

// Event describes one alert.
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Account    string            `json:"account"`
	Action     string            `json:"action,omitempty"`
	Halted     bool              `json:"halted"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// FromError builds an alert event for err raised on account.
func FromError(err error, account, action string, at time.Time) Event {
	event := Event{
		Code:       xerrors.CodeOf(err),
		Severity:   xerrors.SeverityCritical,
		Account:    account,
		Action:     action,
		OccurredAt: at.UTC(),
	}
	if coded, ok := xerrors.From(err); ok {
		event.Message = coded.Message()
		event.Severity = coded.Severity()
		event.Metadata = coded.Metadata()
	} else if err != nil {
		event.Message = err.Error()
	}
	return event
}

// Notifier sends events to one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers every event to each registered notifier.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout creates a FanoutDispatcher. Nil notifiers are skipped.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify implements Dispatcher. Every notifier runs even when one fails.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier writes alerts to a logger at error level.
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel implements Notifier.
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	logger := slog.Default()
	if n != nil && n.Logger != nil {
		logger = n.Logger
	}
	logger.Error("alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("account", event.Account),
		slog.String("action", event.Action),
		slog.Bool("halted", event.Halted),
		slog.String("message", event.Message))
	return nil
}
