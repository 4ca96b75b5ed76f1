// Package eventbus is an optional Redis-backed publisher for session
// lifecycle and delivery events.
package eventbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channel names this package publishes to.
const (
	ChannelLifecycle = "reliable-udp:lifecycle" // opened / heartbeat-missed / closed
	ChannelMessages  = "reliable-udp:messages"  // delivered text messages
	ChannelFiles     = "reliable-udp:files"     // delivered files (name only; bytes stay on disk)
)

// Publisher publishes session events to Redis pub/sub channels.
type Publisher struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to addr and verifies reachability with a Ping.
func New(addr, password string, db int) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventbus: failed to connect to redis at %s: %w", addr, err)
	}

	return &Publisher{client: client, ctx: ctx}, nil
}

// PublishLifecycle announces a session lifecycle transition: the
// session publishes "opened", "heartbeat-missed" or "closed".
func (p *Publisher) PublishLifecycle(event string) error {
	if p == nil {
		return nil
	}
	return p.client.Publish(p.ctx, ChannelLifecycle, event).Err()
}

// PublishMessage announces a fully reassembled text message delivery.
func (p *Publisher) PublishMessage(text string) error {
	if p == nil {
		return nil
	}
	return p.client.Publish(p.ctx, ChannelMessages, text).Err()
}

// PublishFile announces a fully reassembled file delivery by name.
func (p *Publisher) PublishFile(name string) error {
	if p == nil {
		return nil
	}
	return p.client.Publish(p.ctx, ChannelFiles, name).Err()
}

// Close releases the underlying Redis client. Safe to call on a nil
// Publisher.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
