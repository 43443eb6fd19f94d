package redis

import (
	"context"

	"go.uber.org/zap"
)

// SettingsChannel is the pub/sub channel the dashboard settings form
// publishes to after writing the settings row.
const SettingsChannel = "opsbell:settings"

// SettingsFeed delivers settings-row change events over Redis pub/sub.
// It satisfies the settings.Feed interface; the message payload is
// ignored; subscribers re-fetch the whole row on every event.
type SettingsFeed struct {
	client  *Client
	channel string
	logger  *zap.Logger
}

// NewSettingsFeed creates a feed on the given channel, defaulting to
// SettingsChannel.
func NewSettingsFeed(client *Client, channel string, logger *zap.Logger) *SettingsFeed {
	if channel == "" {
		channel = SettingsChannel
	}
	return &SettingsFeed{client: client, channel: channel, logger: logger}
}

// Subscribe blocks, invoking onChange for every published message until
// ctx is cancelled.
func (f *SettingsFeed) Subscribe(ctx context.Context, onChange func()) error {
	sub := f.client.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	// Force the subscription to be established before we report ready.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	f.logger.Info("settings change feed subscribed",
		zap.String("channel", f.channel),
	)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.logger.Debug("settings change event received",
				zap.String("payload", msg.Payload),
			)
			onChange()
		}
	}
}
