package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"signalbridge/internal/model"
	"signalbridge/internal/telegram"
)

// SubscriptionSource lists the active channel bindings at startup.
type SubscriptionSource interface {
	ActiveChannelSubscriptions(ctx context.Context) ([]model.ChannelSubscription, error)
}

// Runner is a long-running loop bound to a context. The synchronizer and
// the hub heartbeat satisfy this.
type Runner func(ctx context.Context)

// Coordinator owns the lifecycle of the long-running pipeline tasks:
// message listener, position synchronizer, hub heartbeat. Start and Stop
// are idempotent and safe from the HTTP surface.
type Coordinator struct {
	subs      SubscriptionSource
	source    telegram.Source // nil disables the listener
	recorder  *Recorder
	syncLoop  Runner
	heartbeat Runner
	logger    *slog.Logger

	mu              sync.Mutex
	running         bool
	startedAt       time.Time
	cancelListener  context.CancelFunc
	cancelSync      context.CancelFunc
	cancelHeartbeat context.CancelFunc
	wg              sync.WaitGroup
}

// NewCoordinator wires the coordinator. source may be nil when no bot token
// is configured; the synchronizer and heartbeat still run.
func NewCoordinator(subs SubscriptionSource, source telegram.Source, recorder *Recorder, syncLoop, heartbeat Runner, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		subs:      subs,
		source:    source,
		recorder:  recorder,
		syncLoop:  syncLoop,
		heartbeat: heartbeat,
		logger:    logger.With("component", "coordinator"),
	}
}

// Start launches the pipeline tasks. Idempotent: starting a running
// coordinator returns an error and changes nothing.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("pipeline already running")
	}

	subs, err := c.subs.ActiveChannelSubscriptions(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("starting pipeline", "active_subscriptions", len(subs))

	if c.source != nil {
		// Resolve channel titles once so the logs name channels, not ids.
		for _, sub := range subs {
			info, err := c.source.ChannelInfo(ctx, sub.ChannelID)
			if err != nil {
				c.logger.Warn("channel lookup failed", "channel_id", sub.ChannelID, "error", err)
				continue
			}
			c.logger.Info("listening on channel", "channel_id", sub.ChannelID, "title", info.Title)
		}

		listenCtx, cancel := context.WithCancel(context.Background())
		c.cancelListener = cancel
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.source.Listen(listenCtx, c.recorder.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("listener exited", "error", err)
			}
		}()
	}

	syncCtx, cancelSync := context.WithCancel(context.Background())
	c.cancelSync = cancelSync
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.syncLoop(syncCtx)
	}()

	hbCtx, cancelHB := context.WithCancel(context.Background())
	c.cancelHeartbeat = cancelHB
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.heartbeat(hbCtx)
	}()

	c.running = true
	c.startedAt = time.Now().UTC()
	return nil
}

// Stop cancels the tasks in order: listener first so no new messages enter,
// then the synchronizer, then the heartbeat, and waits for all to drain.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	if c.cancelListener != nil {
		c.cancelListener()
	}
	c.cancelSync()
	c.cancelHeartbeat()
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("pipeline stopped")
}

// Status reports the coordinator state for the system endpoint.
func (c *Coordinator) Status() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := map[string]any{
		"running":          c.running,
		"listener_enabled": c.source != nil,
	}
	if c.running {
		status["started_at"] = c.startedAt.Format(time.RFC3339)
	}
	return status
}
