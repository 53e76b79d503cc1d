package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gmb-sync/internal/models"
)

// ChannelPrefix prefixes the per-user progress channel
const ChannelPrefix = "sync_progress:"

// Channel returns the pub/sub channel of a user
func Channel(userID string) string {
	return ChannelPrefix + userID
}

// Publisher is the pub/sub surface of the Redis cache
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisBroadcaster publishes events as JSON on the user's channel
type RedisBroadcaster struct {
	pub Publisher
}

// NewRedisBroadcaster creates a broadcaster on top of a publisher
func NewRedisBroadcaster(pub Publisher) *RedisBroadcaster {
	return &RedisBroadcaster{pub: pub}
}

// Broadcast implements Broadcaster
func (b *RedisBroadcaster) Broadcast(ctx context.Context, event *models.SyncEvent) error {
	if event.UserID == "" {
		return fmt.Errorf("sync event %s has no user", event.Key())
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode sync event: %w", err)
	}
	return b.pub.Publish(ctx, Channel(event.UserID), data)
}
