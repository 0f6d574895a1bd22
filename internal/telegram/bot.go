package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"signalbridge/internal/config"
)

// Bot is the Bot API implementation of Source. One Bot owns the getUpdates
// offset; run a single Listen per token.
type Bot struct {
	http        *resty.Client
	pollTimeout time.Duration
	logger      *slog.Logger

	offset int64
}

// NewBot builds the client. Returns nil when no token is configured; the
// pipeline then runs without a listener.
func NewBot(cfg config.TelegramConfig, logger *slog.Logger) *Bot {
	if cfg.BotToken == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL+"/bot"+cfg.BotToken).
		SetTimeout(cfg.PollTimeout+10*time.Second).
		SetHeader("Content-Type", "application/json")
	return &Bot{
		http:        client,
		pollTimeout: cfg.PollTimeout,
		logger:      logger.With("component", "telegram"),
	}
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

type update struct {
	UpdateID    int64        `json:"update_id"`
	Message     *chatMessage `json:"message"`
	ChannelPost *chatMessage `json:"channel_post"`
}

type chat struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

type chatMessage struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Chat      chat   `json:"chat"`
	From      *struct {
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	} `json:"from"`
}

// Listen long-polls getUpdates until the context is cancelled. Transport
// errors back off and retry; the loop only exits with the context, and only
// after every dispatched handler has returned. Handlers run on a context
// detached from cancellation so that shutdown never interrupts an in-flight
// order between placement and persistence.
func (b *Bot) Listen(ctx context.Context, h Handler) error {
	b.logger.Info("listener started")
	var handlers sync.WaitGroup
	defer handlers.Wait()
	for {
		if ctx.Err() != nil {
			b.logger.Info("listener stopped, draining handlers")
			return ctx.Err()
		}

		updates, err := b.getUpdates(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			b.logger.Warn("poll failed, backing off", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			msg := u.ChannelPost
			if msg == nil {
				msg = u.Message
			}
			if msg == nil || msg.Text == "" {
				continue
			}

			m := Message{
				ChannelID: msg.Chat.ID,
				MessageID: msg.MessageID,
				Text:      msg.Text,
				Sender:    msg.Chat.Title,
				At:        time.Unix(msg.Date, 0).UTC(),
			}
			if msg.From != nil && msg.From.Username != "" {
				m.Sender = msg.From.Username
			}
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				h(context.WithoutCancel(ctx), m)
			}()
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	var out apiResponse[[]update]
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"offset":          b.offset,
			"timeout":         int(b.pollTimeout.Seconds()),
			"allowed_updates": []string{"message", "channel_post"},
		}).
		SetResult(&out).
		Post("/getUpdates")
	if err != nil {
		return nil, err
	}
	if resp.IsError() || !out.OK {
		return nil, fmt.Errorf("getUpdates: %s", out.Description)
	}
	return out.Result, nil
}

// SendMessage delivers text to a chat address: a numeric id or an @handle.
func (b *Bot) SendMessage(ctx context.Context, to, text string) error {
	var chatID any = to
	if id, err := strconv.ParseInt(to, 10, 64); err == nil {
		chatID = id
	}

	var out apiResponse[chatMessage]
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"chat_id": chatID, "text": text}).
		SetResult(&out).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("sendMessage: %s", out.Description)
	}
	return nil
}

// ChannelInfo fetches chat metadata for one channel id.
func (b *Bot) ChannelInfo(ctx context.Context, channelID int64) (*ChannelInfo, error) {
	var out apiResponse[chat]
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"chat_id": channelID}).
		SetResult(&out).
		Post("/getChat")
	if err != nil {
		return nil, fmt.Errorf("getChat: %w", err)
	}
	if resp.IsError() || !out.OK {
		return nil, fmt.Errorf("getChat: %s", out.Description)
	}
	return &ChannelInfo{
		ID:       out.Result.ID,
		Title:    out.Result.Title,
		Username: out.Result.Username,
		Kind:     out.Result.Type,
	}, nil
}
