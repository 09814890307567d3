// Package cache holds the read-through Redis cache for ticket snapshots.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/domain"
)

// TicketCache stores serialized ticket snapshots with a TTL. A nil cache or a
// missing Redis client degrades every operation to a no-op, matching how the
// service treats Redis as optional infrastructure.
type TicketCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewTicketCache builds the cache wrapper.
func NewTicketCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *TicketCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TicketCache{client: client, ttl: ttl, logger: logger}
}

func ticketKey(id string) string {
	return "repair:ticket:" + id
}

// Get returns the cached snapshot if present.
func (c *TicketCache) Get(ctx context.Context, id string) (*domain.Ticket, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, ticketKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var ticket domain.Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		c.logger.Warn("corrupt ticket snapshot evicted", zap.String("ticket_id", id), zap.Error(err))
		c.Invalidate(ctx, id)
		return nil, false
	}
	return &ticket, true
}

// Set stores a snapshot, logging and moving on when Redis is unreachable.
func (c *TicketCache) Set(ctx context.Context, ticket *domain.Ticket) {
	if c == nil || c.client == nil || ticket == nil {
		return
	}
	raw, err := json.Marshal(ticket)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, ticketKey(ticket.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Debug("ticket snapshot not cached", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

// Invalidate drops the snapshot after a successful transition.
func (c *TicketCache) Invalidate(ctx context.Context, id string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, ticketKey(id)).Err(); err != nil {
		c.logger.Debug("ticket snapshot not invalidated", zap.String("ticket_id", id), zap.Error(err))
	}
}
