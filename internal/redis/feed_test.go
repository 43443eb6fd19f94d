package redis

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSettingsFeed_DeliversChangeEvents(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	feed := NewSettingsFeed(client, "", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- feed.Subscribe(ctx, func() { events.Add(1) })
	}()

	// Let the subscription establish before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := client.Publish(context.Background(), SettingsChannel, "updated"); err == nil && events.Load() > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if events.Load() == 0 {
		t.Fatal("no change event delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}

func TestSettingsFeed_DefaultChannel(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	feed := NewSettingsFeed(client, "", zap.NewNop())
	if feed.channel != SettingsChannel {
		t.Errorf("channel = %s, want %s", feed.channel, SettingsChannel)
	}
}
