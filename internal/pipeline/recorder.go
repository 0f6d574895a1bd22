// Package pipeline connects the message source to the rest of the system:
// the recorder persists and routes every inbound message, the coordinator
// owns startup and shutdown of the long-running loops.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"signalbridge/internal/hub"
	"signalbridge/internal/model"
	"signalbridge/internal/telegram"
)

// Store is the persistence surface the recorder needs.
type Store interface {
	SubscriptionsForChannel(ctx context.Context, channelID int64) ([]model.ChannelSubscription, error)
	BrokerAccountsForUser(ctx context.Context, userID uuid.UUID) ([]model.BrokerAccount, error)
	RecordSignal(ctx context.Context, sig model.Signal, audit model.AuditEvent) (*model.Signal, error)
}

// Parser classifies and extracts one message.
type Parser interface {
	Parse(ctx context.Context, text string) model.Extraction
}

// SignalHandler drives actionable signals. The engine provides this.
type SignalHandler interface {
	ProcessSignal(ctx context.Context, sig *model.Signal, brokerAccountID uuid.UUID) ([]model.Execution, error)
}

// Notifier pushes events toward the owning user's UI sessions.
type Notifier interface {
	Notify(userID uuid.UUID, event string, payload map[string]any)
}

// Forwarder pushes the signal to external subscribers.
type Forwarder interface {
	Forward(ctx context.Context, sig *model.Signal)
}

// Recorder handles one inbound message end to end: subscription fan-out,
// classification, atomic persist + audit, notification, engine hand-off.
type Recorder struct {
	store     Store
	parser    Parser
	engine    SignalHandler
	notify    Notifier
	forwarder Forwarder
	logger    *slog.Logger
}

// NewRecorder wires the recorder.
func NewRecorder(store Store, parser Parser, engine SignalHandler, notify Notifier, forwarder Forwarder, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:     store,
		parser:    parser,
		engine:    engine,
		notify:    notify,
		forwarder: forwarder,
		logger:    logger.With("component", "recorder"),
	}
}

// HandleMessage is the message-source callback. A channel nobody subscribes
// to is dropped with a warning and no signal row.
func (r *Recorder) HandleMessage(ctx context.Context, msg telegram.Message) {
	subs, err := r.store.SubscriptionsForChannel(ctx, msg.ChannelID)
	if err != nil {
		r.logger.Error("subscription lookup failed", "channel_id", msg.ChannelID, "error", err)
		return
	}
	if len(subs) == 0 {
		r.logger.Warn("message from unsubscribed channel dropped", "channel_id", msg.ChannelID)
		return
	}

	ext := r.parser.Parse(ctx, msg.Text)

	for _, sub := range subs {
		r.recordFor(ctx, sub, msg, ext)
	}
}

func (r *Recorder) recordFor(ctx context.Context, sub model.ChannelSubscription, msg telegram.Message, ext model.Extraction) {
	sig, err := r.store.RecordSignal(ctx,
		model.Signal{
			UserID:     sub.UserID,
			ChannelID:  sub.ID,
			RawText:    msg.Text,
			Extracted:  ext,
			Category:   ext.Category,
			Actionable: ext.Actionable(),
			ReceivedAt: msg.At,
		},
		model.AuditEvent{
			Action:       "signal_received",
			ResourceKind: "signal",
			Details: map[string]any{
				"channel_id": msg.ChannelID,
				"category":   string(ext.Category),
				"sender":     msg.Sender,
			},
		})
	if err != nil {
		r.logger.Error("signal persist failed",
			"user_id", sub.UserID, "channel_id", msg.ChannelID, "error", err)
		return
	}

	r.logger.Info("signal recorded",
		"signal_id", sig.ID, "user_id", sig.UserID,
		"category", sig.Category, "symbol", ext.Symbol)

	if !sig.Actionable {
		r.notify.Notify(sig.UserID, hub.EventTelegramMessage, map[string]any{
			"signal_id": sig.ID,
			"channel":   msg.Sender,
			"category":  string(sig.Category),
			"text":      sig.RawText,
		})
		return
	}

	r.notify.Notify(sig.UserID, hub.EventSignalReceived, map[string]any{
		"signal_id":  sig.ID,
		"channel":    msg.Sender,
		"symbol":     ext.Symbol,
		"side":       string(ext.Side),
		"confidence": ext.Confidence,
	})
	r.forwarder.Forward(ctx, sig)

	accounts, err := r.store.BrokerAccountsForUser(ctx, sig.UserID)
	if err != nil {
		r.logger.Error("broker account lookup failed", "user_id", sig.UserID, "error", err)
		return
	}
	if len(accounts) == 0 {
		r.logger.Warn("actionable signal with no broker account", "signal_id", sig.ID)
		return
	}

	if _, err := r.engine.ProcessSignal(ctx, sig, accounts[0].ID); err != nil {
		r.logger.Warn("engine rejected signal", "signal_id", sig.ID, "error", err)
		r.notify.Notify(sig.UserID, hub.EventError, map[string]any{
			"signal_id": sig.ID,
			"detail":    err.Error(),
		})
	}
}
