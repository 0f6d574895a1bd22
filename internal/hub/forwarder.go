package hub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"signalbridge/internal/model"
)

// Sender delivers a text message to an external chat address. The Bot API
// message source satisfies this.
type Sender interface {
	SendMessage(ctx context.Context, to, text string) error
}

// SubscriberSource lists the active forwarding targets for one user.
type SubscriberSource interface {
	ActiveSubscribersForUser(ctx context.Context, userID uuid.UUID) ([]model.Subscriber, error)
}

// Forwarder pushes reformatted signals to a user's external subscribers.
// Forwarding is best-effort; one unreachable subscriber never blocks the rest.
type Forwarder struct {
	sender Sender
	subs   SubscriberSource
	logger *slog.Logger
}

// NewForwarder wires the forwarder. sender may be nil when the message
// source is disabled; Forward then does nothing.
func NewForwarder(sender Sender, subs SubscriberSource, logger *slog.Logger) *Forwarder {
	return &Forwarder{sender: sender, subs: subs, logger: logger.With("component", "forwarder")}
}

// Forward formats the signal and sends it to every active subscriber.
func (f *Forwarder) Forward(ctx context.Context, sig *model.Signal) {
	if f.sender == nil {
		return
	}

	subscribers, err := f.subs.ActiveSubscribersForUser(ctx, sig.UserID)
	if err != nil {
		f.logger.Warn("subscriber lookup failed", "user_id", sig.UserID, "error", err)
		return
	}
	if len(subscribers) == 0 {
		return
	}

	text := FormatSignal(sig)
	for _, sub := range subscribers {
		if err := f.sender.SendMessage(ctx, sub.Address, text); err != nil {
			f.logger.Warn("signal forward failed", "subscriber", sub.Address, "error", err)
		}
	}
}

// FormatSignal renders an extraction as a compact human-readable message.
func FormatSignal(sig *model.Signal) string {
	ext := sig.Extracted
	var b strings.Builder

	side := strings.ToUpper(string(ext.Side))
	if side == "" {
		side = "SIGNAL"
	}
	fmt.Fprintf(&b, "%s %s\n", side, ext.Symbol)

	switch {
	case len(ext.EntryRange) == 2:
		fmt.Fprintf(&b, "Entry: %s - %s\n", ext.EntryRange[0], ext.EntryRange[1])
	case ext.Entry != nil:
		fmt.Fprintf(&b, "Entry: %s\n", ext.Entry)
	}
	if ext.StopLoss != nil {
		fmt.Fprintf(&b, "SL: %s\n", ext.StopLoss)
	}
	for i, tp := range ext.TakeProfits {
		fmt.Fprintf(&b, "TP%d: %s\n", i+1, tp)
	}
	if len(ext.TakeProfits) == 0 && ext.TakeProfit != nil {
		fmt.Fprintf(&b, "TP: %s\n", ext.TakeProfit)
	}
	return strings.TrimRight(b.String(), "\n")
}
